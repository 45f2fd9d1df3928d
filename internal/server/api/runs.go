package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayusman/tipstream/internal/store"
)

// defaultRunLimit is the number of runs listed when no limit is given.
const defaultRunLimit = 50

// RunsHandler serves the run log.
type RunsHandler struct {
	store *store.Store
}

// NewRunsHandler creates a new RunsHandler with the given store.
func NewRunsHandler(s *store.Store) *RunsHandler {
	return &RunsHandler{store: s}
}

// ServeHTTP routes /api/runs and /api/runs/{id}.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/runs")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.list(w, r)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type runResponse struct {
	ID          string          `json:"id"`
	Mode        string          `json:"mode"`
	Layout      string          `json:"layout"`
	Transport   string          `json:"transport"`
	Address     string          `json:"address"`
	Config      json.RawMessage `json:"config,omitempty"`
	Counters    store.Counters  `json:"counters"`
	ExitReason  string          `json:"exit_reason,omitempty"`
	Active      bool            `json:"active"`
	StartedAt   string          `json:"started_at"`
	EndedAt     string          `json:"ended_at,omitempty"`
	Checkpoints []checkpoint    `json:"checkpoints,omitempty"`
}

type checkpoint struct {
	Counters   store.Counters `json:"counters"`
	RecordedAt string         `json:"recorded_at"`
}

type listRunsResponse struct {
	Runs []runResponse `json:"runs"`
}

func toRunResponse(run *store.Run) runResponse {
	resp := runResponse{
		ID:         run.ID,
		Mode:       run.Mode,
		Layout:     run.Layout,
		Transport:  run.Transport,
		Address:    run.Address,
		Counters:   run.Counters,
		ExitReason: run.ExitReason,
		Active:     run.Active(),
		StartedAt:  formatTime(run.StartedAt),
	}
	if run.EndedAt != nil {
		resp.EndedAt = formatTime(*run.EndedAt)
	}
	return resp
}

// list handles GET /api/runs?limit=N.
func (h *RunsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	runs, err := h.store.Runs().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs")
		return
	}

	response := listRunsResponse{
		Runs: make([]runResponse, 0, len(runs)),
	}
	for _, run := range runs {
		response.Runs = append(response.Runs, toRunResponse(run))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/runs/{id} and includes the run's config and checkpoints.
func (h *RunsHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}

	checkpoints, err := h.store.Runs().Checkpoints(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get checkpoints")
		return
	}

	resp := toRunResponse(run)
	resp.Config = run.Config
	for _, c := range checkpoints {
		resp.Checkpoints = append(resp.Checkpoints, checkpoint{
			Counters:   c.Counters,
			RecordedAt: formatTime(c.RecordedAt),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// delete handles DELETE /api/runs/{id}. Active runs cannot be deleted.
func (h *RunsHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.Runs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get run")
		return
	}
	if run.Active() {
		writeError(w, http.StatusConflict, "Run is still active")
		return
	}

	if err := h.store.Runs().Delete(id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete run")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
