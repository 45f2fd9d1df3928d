package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/tipstream/internal/store"
)

// Validator checks a setting before it is stored.
type Validator func(key, value string) error

// SettingsHandler serves stored settings. Stored values take effect the next
// time a run starts.
type SettingsHandler struct {
	store    *store.Store
	validate Validator
}

// NewSettingsHandler creates a SettingsHandler. validate may be nil to accept
// any key.
func NewSettingsHandler(s *store.Store, validate Validator) *SettingsHandler {
	return &SettingsHandler{store: s, validate: validate}
}

// ServeHTTP routes /api/settings and /api/settings/{key}.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/settings")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	key := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, key)
	case http.MethodPut:
		h.put(w, r, key)
	case http.MethodDelete:
		h.delete(w, r, key)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type settingResponse struct {
	Key       string `json:"key"`
	Value     string `json:"value"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type listSettingsResponse struct {
	Settings []settingResponse `json:"settings"`
}

type putSettingRequest struct {
	Value *string `json:"value"`
}

// list handles GET /api/settings.
func (h *SettingsHandler) list(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.Settings().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list settings")
		return
	}

	response := listSettingsResponse{
		Settings: make([]settingResponse, 0, len(settings)),
	}
	for _, s := range settings {
		response.Settings = append(response.Settings, settingResponse{
			Key:       s.Key,
			Value:     s.Value,
			UpdatedAt: formatTime(s.UpdatedAt),
		})
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/settings/{key}.
func (h *SettingsHandler) get(w http.ResponseWriter, r *http.Request, key string) {
	value, err := h.store.Settings().Get(key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Setting not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get setting")
		return
	}

	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: value})
}

// put handles PUT /api/settings/{key} with body {"value": "..."}.
func (h *SettingsHandler) put(w http.ResponseWriter, r *http.Request, key string) {
	var req putSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "Value is required")
		return
	}

	if h.validate != nil {
		if err := h.validate(key, *req.Value); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if err := h.store.Settings().Set(key, *req.Value); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store setting")
		return
	}

	writeJSON(w, http.StatusOK, settingResponse{Key: key, Value: *req.Value})
}

// delete handles DELETE /api/settings/{key}.
func (h *SettingsHandler) delete(w http.ResponseWriter, r *http.Request, key string) {
	if err := h.store.Settings().Delete(key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Setting not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete setting")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
