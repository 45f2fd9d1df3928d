// Package config loads the tipstream configuration file.
//
// The file is JSON. Fields omitted from it keep their defaults, so partial
// configs are safe; command-line flags are applied on top by the caller.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ayusman/tipstream/internal/capture"
	"github.com/ayusman/tipstream/internal/detector"
	"github.com/ayusman/tipstream/internal/stream"
	"github.com/ayusman/tipstream/internal/tracking"
)

// maxFileSize bounds the config file read.
const maxFileSize = 1 * 1024 * 1024

// DefaultEmptyReads tolerates about one second of empty frames at 30 fps.
const DefaultEmptyReads = 30

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Tracking  tracking.Config `json:"tracking"`
	Camera    Camera          `json:"camera"`
	Detector  Detector        `json:"detector"`
	Transport Transport       `json:"transport"`
	Server    Server          `json:"server"`
	Store     Store           `json:"store"`
}

// Camera selects the capture device.
type Camera struct {
	Device int    `json:"device"`
	// Source replaces Device with a video file, stream URL or device path.
	Source string `json:"source,omitempty"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	// EmptyReads is how many consecutive empty frames are skipped before
	// capture fails.
	EmptyReads int `json:"empty_reads"`
	// Mirror flips frames horizontally. Unset means mirror in offset mode only.
	Mirror *bool `json:"mirror,omitempty"`
}

// Detector holds hand detection thresholds and the landmark service location.
type Detector struct {
	MaxHands              int     `json:"max_hands"`
	MinConfidence         float64 `json:"min_confidence"`
	MinTrackingConfidence float64 `json:"min_tracking_confidence"`
	// ResponseTimeout is a duration string; empty waits forever.
	ResponseTimeout string `json:"response_timeout"`
	JPEGQuality     int    `json:"jpeg_quality"`
	Script          string `json:"script,omitempty"`
	Python          string `json:"python,omitempty"`
}

// Transport selects where control lines are sent.
type Transport struct {
	Kind    string `json:"kind"`
	Address string `json:"address"`
	// DialTimeout and WriteTimeout are duration strings like "5s". An empty
	// WriteTimeout keeps writes fully blocking.
	DialTimeout  string `json:"dial_timeout"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	// QueueSize enables the drop-if-full send queue when positive.
	QueueSize int                `json:"queue_size,omitempty"`
	Serial    stream.PortOptions `json:"serial"`
	MQTT      stream.MQTTOptions `json:"mqtt"`
}

// Server configures the optional HTTP status server.
type Server struct {
	// Addr is the listen address; empty disables the server.
	Addr string `json:"addr,omitempty"`
}

// Store configures the run log database.
type Store struct {
	// Path is the SQLite file; empty disables the run log.
	Path string `json:"path,omitempty"`
	// CheckpointInterval is a duration string; empty or "0s" disables checkpoints.
	CheckpointInterval string `json:"checkpoint_interval,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	det := detector.DefaultConfig()
	return &Config{
		Tracking: tracking.DefaultConfig(),
		Camera: Camera{
			Width:  capture.DefaultWidth,
			Height: capture.DefaultHeight,
			FPS:    capture.DefaultFPS,

			EmptyReads: DefaultEmptyReads,
		},
		Detector: Detector{
			MaxHands:              det.MaxHands,
			MinConfidence:         det.MinConfidence,
			MinTrackingConfidence: det.MinTrackingConf,
			ResponseTimeout:       det.ResponseTimeout.String(),
			JPEGQuality:           det.JPEGQuality,
		},
		Transport: Transport{
			Kind:        stream.KindTCP,
			Address:     stream.DefaultAddress,
			DialTimeout: "5s",
		},
		Store: Store{
			CheckpointInterval: "10s",
		},
	}
}

// Load reads a config file over the defaults and validates the result.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration can run.
func (c *Config) Validate() error {
	if err := c.Tracking.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if c.Camera.Width < 0 || c.Camera.Height < 0 || c.Camera.FPS < 0 || c.Camera.EmptyReads < 0 {
		return fmt.Errorf("%w: camera size, fps and empty_reads must not be negative", ErrInvalid)
	}
	if c.Tracking.Mode == tracking.ModeOffset && c.Camera.Width > 0 && c.Camera.Height > 0 {
		if 2*c.Tracking.Padding >= c.Camera.Width || 2*c.Tracking.Padding >= c.Camera.Height {
			return fmt.Errorf("%w: padding %d leaves no area in a %dx%d frame",
				ErrInvalid, c.Tracking.Padding, c.Camera.Width, c.Camera.Height)
		}
	}

	if c.Detector.MaxHands < 1 {
		return fmt.Errorf("%w: max_hands must be at least 1, got %d", ErrInvalid, c.Detector.MaxHands)
	}
	for name, v := range map[string]float64{
		"min_confidence":          c.Detector.MinConfidence,
		"min_tracking_confidence": c.Detector.MinTrackingConfidence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: %s must be between 0 and 1, got %f", ErrInvalid, name, v)
		}
	}

	if c.Detector.JPEGQuality < 0 || c.Detector.JPEGQuality > 100 {
		return fmt.Errorf("%w: jpeg_quality must be between 0 and 100, got %d", ErrInvalid, c.Detector.JPEGQuality)
	}

	switch c.Transport.Kind {
	case stream.KindTCP, stream.KindSerial, stream.KindWebSocket, stream.KindMQTT:
	default:
		return fmt.Errorf("%w: unknown transport kind %q", ErrInvalid, c.Transport.Kind)
	}
	if c.Transport.Kind != stream.KindTCP && c.Transport.Address == "" {
		return fmt.Errorf("%w: transport %s needs an address", ErrInvalid, c.Transport.Kind)
	}
	if c.Transport.Kind == stream.KindSerial {
		if _, err := c.Transport.Serial.Normalize(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	if c.Transport.MQTT.QoS > 2 {
		return fmt.Errorf("%w: mqtt qos must be 0, 1 or 2, got %d", ErrInvalid, c.Transport.MQTT.QoS)
	}
	if c.Transport.QueueSize < 0 {
		return fmt.Errorf("%w: queue_size must not be negative, got %d", ErrInvalid, c.Transport.QueueSize)
	}

	for name, v := range map[string]string{
		"response_timeout":    c.Detector.ResponseTimeout,
		"dial_timeout":        c.Transport.DialTimeout,
		"write_timeout":       c.Transport.WriteTimeout,
		"checkpoint_interval": c.Store.CheckpointInterval,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%w: invalid %s '%s': %w", ErrInvalid, name, v, err)
		} else if d < 0 {
			return fmt.Errorf("%w: %s must not be negative, got %s", ErrInvalid, name, v)
		}
	}

	return nil
}

// parseDuration returns the parsed value or zero when empty or malformed.
// Validate has already rejected malformed values.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// WriteTimeout returns the per-write deadline, zero when disabled.
func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Transport.WriteTimeout)
}

// CheckpointInterval returns how often run counters are persisted, zero when disabled.
func (c *Config) CheckpointInterval() time.Duration {
	return parseDuration(c.Store.CheckpointInterval)
}

// StreamOptions returns the transport options.
func (c *Config) StreamOptions() stream.Options {
	return stream.Options{
		Kind:        c.Transport.Kind,
		Address:     c.Transport.Address,
		DialTimeout: parseDuration(c.Transport.DialTimeout),
		Serial:      c.Transport.Serial,
		MQTT:        c.Transport.MQTT,
	}
}

// CaptureConfig returns the camera settings.
func (c *Config) CaptureConfig() capture.Config {
	return capture.Config{
		DeviceID:   c.Camera.Device,
		Source:     c.Camera.Source,
		Width:      c.Camera.Width,
		Height:     c.Camera.Height,
		FPS:        c.Camera.FPS,
		EmptyReads: c.Camera.EmptyReads,
	}
}

// View returns the frame transform applied before detection. Offset mode
// crops the padding border and mirrors unless mirroring is set explicitly.
func (c *Config) View() capture.View {
	offset := c.Tracking.Mode == tracking.ModeOffset

	v := capture.View{Mirror: offset}
	if c.Camera.Mirror != nil {
		v.Mirror = *c.Camera.Mirror
	}
	if offset {
		v.Padding = c.Tracking.Padding
	}
	return v
}

// DetectorConfig returns the detection thresholds.
func (c *Config) DetectorConfig() detector.Config {
	return detector.Config{
		MaxHands:        c.Detector.MaxHands,
		MinConfidence:   c.Detector.MinConfidence,
		MinTrackingConf: c.Detector.MinTrackingConfidence,
		ScriptPath:      c.Detector.Script,
		PythonPath:      c.Detector.Python,
		ResponseTimeout: parseDuration(c.Detector.ResponseTimeout),
		JPEGQuality:     c.Detector.JPEGQuality,
	}
}
