package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/tipstream/internal/hand"
)

// ErrScriptNotFound is returned when the hand landmark service script cannot be located.
var ErrScriptNotFound = errors.New("mediapipe_service.py not found")

// ErrServiceExited is returned once the landmark service has stopped
// answering. The detector does not restart it; the tracking state MediaPipe
// keeps between frames would be lost anyway.
var ErrServiceExited = errors.New("mediapipe service exited")

// MediaPipeDetector implements Detector using a Python MediaPipe subprocess.
// Frames go to the service as a 4-byte big-endian length followed by JPEG
// bytes; each frame is answered with one JSON line.
type MediaPipeDetector struct {
	config Config
	script string
	python string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *os.File
	stdout  *os.File
	reader  *bufio.Reader
	started bool
	failed  error
	header  [4]byte
}

// NewMediaPipeDetector creates a new MediaPipe detector.
// The Python process is started lazily on first detection.
func NewMediaPipeDetector(config Config) (*MediaPipeDetector, error) {
	script := config.ScriptPath
	if script == "" {
		script = findMediaPipeScript()
	}
	if script == "" {
		return nil, ErrScriptNotFound
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScriptNotFound, err)
	}

	python := config.PythonPath
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	return &MediaPipeDetector{
		config: config,
		script: script,
		python: python,
	}, nil
}

// Detect analyzes a frame and returns detected hand landmarks.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat) ([]hand.Landmarks, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return nil, fmt.Errorf("detect: empty frame")
	}
	if d.failed != nil {
		return nil, d.failed
	}

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := d.encode(frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	line, err := d.roundTrip(buf.GetBytes())
	if err != nil {
		// A half-written frame or a late answer desynchronizes the stream.
		d.failed = fmt.Errorf("%w: %w", ErrServiceExited, err)
		d.shutdown()
		return nil, d.failed
	}

	return parseResponse(line, d.config)
}

func (d *MediaPipeDetector) encode(frame *gocv.Mat) (*gocv.NativeByteBuffer, error) {
	if d.config.JPEGQuality <= 0 {
		return gocv.IMEncode(gocv.JPEGFileExt, *frame)
	}
	return gocv.IMEncodeWithParams(gocv.JPEGFileExt, *frame, []int{int(gocv.IMWriteJpegQuality), d.config.JPEGQuality})
}

func (d *MediaPipeDetector) roundTrip(data []byte) ([]byte, error) {
	binary.BigEndian.PutUint32(d.header[:], uint32(len(data)))
	if _, err := d.stdin.Write(d.header[:]); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := d.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	if d.config.ResponseTimeout > 0 {
		if err := d.stdout.SetReadDeadline(time.Now().Add(d.config.ResponseTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}

	line, err := d.reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return line, nil
}

// parseResponse decodes one service line, drops hands below the confidence
// threshold or with missing landmarks, and caps the result at MaxHands.
func parseResponse(line []byte, config Config) ([]hand.Landmarks, error) {
	var response struct {
		Hands []jsonHand `json:"hands"`
	}
	if err := json.Unmarshal(line, &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	result := make([]hand.Landmarks, 0, len(response.Hands))
	for _, h := range response.Hands {
		if h.Score < config.MinConfidence {
			continue
		}
		lm, ok := h.toLandmarks()
		if !ok {
			log.Printf("detector: dropping hand with %d of %d landmarks", len(h.Points), hand.NumLandmarks)
			continue
		}
		result = append(result, lm)
		if config.MaxHands > 0 && len(result) == config.MaxHands {
			break
		}
	}
	return result, nil
}

// Close shuts down the Python process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd = exec.Command(d.python, append([]string{d.script}, d.config.args()...)...)
	d.cmd.Stdin = inR
	d.cmd.Stdout = outW
	d.cmd.Stderr = os.Stderr

	err = d.cmd.Start()
	// The child holds its own copies of these ends.
	inR.Close()
	outW.Close()
	if err != nil {
		inW.Close()
		outR.Close()
		d.cmd = nil
		return fmt.Errorf("start mediapipe service: %w", err)
	}

	log.Printf("detector: started %s %s (pid %d)", d.python, d.script, d.cmd.Process.Pid)

	d.stdin = inW
	d.stdout = outR
	d.reader = bufio.NewReader(outR)
	d.started = true

	return nil
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	d.stdin.Close()
	// Closing stdin ends the service's read loop. Kill it if it is stuck in
	// a frame instead.
	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		d.cmd.Process.Kill()
		err = <-done
	}

	d.stdout.Close()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
	d.reader = nil

	return err
}

func findMediaPipeScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/mediapipe_service.py",
		"../scripts/mediapipe_service.py",
		filepath.Join(execDir, "scripts/mediapipe_service.py"),
		filepath.Join(os.Getenv("HOME"), ".tipstream/scripts/mediapipe_service.py"),
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".tipstream/venv/bin/python"),
	}
	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

// jsonHand represents the JSON structure from the Python service.
type jsonHand struct {
	Points     []jsonPoint `json:"points"`
	Handedness string      `json:"handedness"`
	Score      float64     `json:"score"`
}

type jsonPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// toLandmarks converts the service form. It reports false when fewer than
// hand.NumLandmarks points were sent.
func (h jsonHand) toLandmarks() (hand.Landmarks, bool) {
	lm := hand.Landmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	if len(h.Points) < hand.NumLandmarks {
		return lm, false
	}

	for i := 0; i < hand.NumLandmarks; i++ {
		lm.Points[i] = hand.Point3D{
			X: h.Points[i].X,
			Y: h.Points[i].Y,
			Z: h.Points[i].Z,
		}
	}
	return lm, true
}

// args renders the detection thresholds as service command-line flags.
func (c Config) args() []string {
	return []string{
		"--max-hands", strconv.Itoa(c.MaxHands),
		"--min-detection-confidence", strconv.FormatFloat(c.MinConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(c.MinTrackingConf, 'f', -1, 64),
	}
}
