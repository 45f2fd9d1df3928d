// Package capture reads frames from a camera using GoCV (OpenCV) and prepares
// them for hand detection.
package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"gocv.io/x/gocv"
)

// Default camera settings
const (
	DefaultFPS    = 30
	DefaultWidth  = 640
	DefaultHeight = 480
)

// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
var ErrCameraNotOpen = errors.New("camera is not open")

// ErrReadFailed is returned when the device did not deliver a frame.
var ErrReadFailed = errors.New("failed to read frame from camera")

// ErrEmptyFrame is returned for a frame without pixel data.
var ErrEmptyFrame = errors.New("captured frame is empty")

// Config selects the capture device and its requested frame format.
// Zero values fall back to the defaults above.
type Config struct {
	DeviceID int
	// Source opens a video file, stream URL or device path instead of
	// DeviceID when set.
	Source string
	Width  int
	Height int
	FPS    int
	// EmptyReads is how many consecutive failed or empty reads ReadFrame
	// skips before reporting the failure. Zero fails on the first one.
	EmptyReads int
}

// Camera defines the interface for camera capture implementations.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (*gocv.Mat, error)
	SetFPS(fps int)
	FPS() int
	IsOpen() bool
}

var (
	_ Camera = (*cameraImpl)(nil)
	_ Camera = (*MockCamera)(nil)
)

type cameraImpl struct {
	config Config

	mu      sync.Mutex
	capture *gocv.VideoCapture
	running bool
	fps     int
	skipped uint64
}

// NewCamera creates a new Camera for the configured device.
func NewCamera(cfg Config) Camera {
	if cfg.Width <= 0 {
		cfg.Width = DefaultWidth
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultHeight
	}
	if cfg.FPS <= 0 {
		cfg.FPS = DefaultFPS
	}
	if cfg.EmptyReads < 0 {
		cfg.EmptyReads = 0
	}
	return &cameraImpl{config: cfg, fps: cfg.FPS}
}

func (c *cameraImpl) name() string {
	if c.config.Source != "" {
		return c.config.Source
	}
	return fmt.Sprintf("camera %d", c.config.DeviceID)
}

// Open opens the capture device and requests the configured resolution.
// The device may deliver a different size; consumers read the size from
// each frame.
func (c *cameraImpl) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	var device interface{} = c.config.DeviceID
	if c.config.Source != "" {
		device = c.config.Source
	}

	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.name(), err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return fmt.Errorf("open %s: device not available", c.name())
	}

	capture.Set(gocv.VideoCaptureFrameWidth, float64(c.config.Width))
	capture.Set(gocv.VideoCaptureFrameHeight, float64(c.config.Height))
	capture.Set(gocv.VideoCaptureFPS, float64(c.fps))

	w := int(capture.Get(gocv.VideoCaptureFrameWidth))
	h := int(capture.Get(gocv.VideoCaptureFrameHeight))
	if w != c.config.Width || h != c.config.Height {
		log.Printf("capture: %s delivers %dx%d instead of %dx%d", c.name(), w, h, c.config.Width, c.config.Height)
	}

	c.capture = capture
	c.running = true
	c.skipped = 0

	return nil
}

// Close closes the camera and releases resources.
func (c *cameraImpl) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		c.running = false
		return nil
	}

	if c.skipped > 0 {
		log.Printf("capture: %s skipped %d empty frames", c.name(), c.skipped)
	}

	err := c.capture.Close()
	c.capture = nil
	c.running = false

	return err
}

// ReadFrame reads the next frame, skipping up to EmptyReads consecutive
// failed or empty reads. The caller is responsible for closing the
// returned Mat.
func (c *cameraImpl) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running || c.capture == nil {
		return nil, ErrCameraNotOpen
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.EmptyReads; attempt++ {
		mat, err := c.read()
		if err == nil {
			return mat, nil
		}
		lastErr = err
		if attempt < c.config.EmptyReads {
			c.skipped++
		}
	}
	return nil, lastErr
}

func (c *cameraImpl) read() (*gocv.Mat, error) {
	mat := gocv.NewMat()
	if ok := c.capture.Read(&mat); !ok {
		mat.Close()
		return nil, ErrReadFailed
	}
	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}
	return &mat, nil
}

// SetFPS sets the frames per second for capture.
// Values less than or equal to 0 are ignored.
func (c *cameraImpl) SetFPS(fps int) {
	if fps <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.fps = fps

	if c.capture != nil {
		c.capture.Set(gocv.VideoCaptureFPS, float64(fps))
	}
}

// FPS returns the current frames per second setting.
func (c *cameraImpl) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.fps
}

// IsOpen returns true if the camera is currently open and running.
func (c *cameraImpl) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.running
}
