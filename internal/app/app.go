// Package app wires capture, detection, tracking and the outbound stream
// into one run, and records the run in the store.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/ayusman/tipstream/internal/capture"
	"github.com/ayusman/tipstream/internal/config"
	"github.com/ayusman/tipstream/internal/detector"
	"github.com/ayusman/tipstream/internal/server"
	"github.com/ayusman/tipstream/internal/store"
	"github.com/ayusman/tipstream/internal/stream"
	"github.com/ayusman/tipstream/internal/tracking"
)

// ExitStopped is the exit reason recorded for a run stopped from outside.
const ExitStopped = "stopped"

// Config holds the dependencies of a run. Settings is required; every other
// field is optional and replaced by the real implementation when nil.
type Config struct {
	Settings *config.Config
	Store    *store.Store

	Camera   capture.Camera
	Detector detector.Detector
	// Transport replaces stream.Open in absolute mode.
	Transport io.WriteCloser
	// Diagnostics receives offset-mode reports. Defaults to stdout.
	Diagnostics io.Writer
}

// App runs the tracking pipeline for one session.
type App struct {
	config Config
	live   *server.LiveFeed

	mu       sync.RWMutex
	pipeline *tracking.Pipeline
	runID    string
}

// New creates a new App instance with the given configuration.
func New(cfg Config) (*App, error) {
	if cfg.Settings == nil {
		return nil, errors.New("app: settings are required")
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	if cfg.Diagnostics == nil {
		cfg.Diagnostics = os.Stdout
	}

	return &App{
		config: cfg,
		live:   server.NewLiveFeed(),
	}, nil
}

// RunID returns the store ID of the current run, empty before Run or
// without a store.
func (a *App) RunID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runID
}

// Stats returns the pipeline counters, zero before Run.
func (a *App) Stats() tracking.Stats {
	a.mu.RLock()
	p := a.pipeline
	a.mu.RUnlock()

	if p == nil {
		return tracking.Stats{Mode: a.config.Settings.Tracking.Mode}
	}
	return p.Stats()
}

// Run opens the camera, detector and transport, processes frames until ctx
// is cancelled or a stage fails, then releases everything, including an
// injected camera, detector or transport. A clean stop returns nil.
func (a *App) Run(ctx context.Context) (err error) {
	settings := a.config.Settings

	cam := a.config.Camera
	if cam == nil {
		cam = capture.NewCamera(settings.CaptureConfig())
	}
	if err := cam.Open(); err != nil {
		if a.config.Detector != nil {
			a.config.Detector.Close()
		}
		return fmt.Errorf("%w: %w", tracking.ErrDetectorUnavailable, err)
	}
	defer func() {
		if cerr := cam.Close(); cerr != nil {
			log.Printf("Error closing camera: %v", cerr)
		}
	}()

	det := a.config.Detector
	if det == nil {
		mp, derr := detector.NewMediaPipeDetector(settings.DetectorConfig())
		if derr != nil {
			return fmt.Errorf("%w: %w", tracking.ErrDetectorUnavailable, derr)
		}
		det = mp
		log.Println("Using MediaPipe hand detection")
	}
	source := detector.NewFrameSource(cam, det, settings.View())
	defer func() {
		if cerr := source.Close(); cerr != nil {
			log.Printf("Error closing detector: %v", cerr)
		}
	}()

	var sender tracking.Sender
	if settings.Tracking.Mode == tracking.ModeAbsolute {
		s, closeSender, serr := a.openSender(ctx)
		if serr != nil {
			return serr
		}
		defer func() {
			if cerr := closeSender(); cerr != nil && err == nil {
				err = cerr
			}
		}()
		sender = s
	}

	pipeline, err := tracking.New(settings.Tracking, source, sender, a.config.Diagnostics)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.pipeline = pipeline
	a.mu.Unlock()

	if err := a.startRun(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	a.startBackground(runCtx, &wg)

	log.Printf("Tracking started (mode=%s, layout=%s)", settings.Tracking.Mode, settings.Tracking.Layout)
	err = pipeline.Run(ctx)

	cancel()
	wg.Wait()
	a.finishRun(err)

	if err != nil {
		log.Printf("Tracking stopped: %v", err)
	} else {
		log.Println("Tracking stopped")
	}
	return err
}

// openSender connects the transport and wraps it in an Emitter, optionally
// behind a drop-if-full queue. The returned func releases both.
func (a *App) openSender(ctx context.Context) (tracking.Sender, func() error, error) {
	settings := a.config.Settings

	w := a.config.Transport
	if w == nil {
		opts := settings.StreamOptions()
		conn, err := stream.Open(ctx, opts)
		if err != nil {
			return nil, nil, &stream.TransportError{Op: "connect", Err: err}
		}
		log.Printf("Connected %s transport to %s", opts.Kind, opts.Address)
		w = conn
	}

	em := stream.NewEmitter(w,
		stream.WithWriteTimeout(settings.WriteTimeout()),
		stream.WithMonitor(a.live),
	)

	if settings.Transport.QueueSize <= 0 {
		return em, em.Close, nil
	}

	q := stream.NewQueue(em, settings.Transport.QueueSize)
	closeAll := func() error {
		qerr := q.Close()
		if dropped := q.Dropped(); dropped > 0 {
			log.Printf("Send queue dropped %d samples", dropped)
		}
		return errors.Join(qerr, em.Close())
	}
	return q, closeAll, nil
}

func (a *App) startRun() error {
	if a.config.Store == nil {
		return nil
	}

	settings := a.config.Settings
	snapshot, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode run config: %w", err)
	}

	run := &store.Run{
		Mode:   string(settings.Tracking.Mode),
		Layout: string(settings.Tracking.Layout),
		Config: snapshot,
	}
	if settings.Tracking.Mode == tracking.ModeAbsolute {
		run.Transport = settings.Transport.Kind
		run.Address = settings.Transport.Address
	}
	if err := a.config.Store.Runs().Create(run); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	a.mu.Lock()
	a.runID = run.ID
	a.mu.Unlock()
	log.Printf("Run %s recorded", run.ID)
	return nil
}

func (a *App) finishRun(runErr error) {
	id := a.RunID()
	if id == "" {
		return
	}

	reason := ExitStopped
	if runErr != nil {
		reason = runErr.Error()
	}
	if err := a.config.Store.Runs().Finish(id, counters(a.Stats()), reason); err != nil {
		log.Printf("Failed to finish run %s: %v", id, err)
	}
}

// startBackground starts the checkpoint loop and the HTTP server when
// configured. Both stop when ctx is cancelled.
func (a *App) startBackground(ctx context.Context, wg *sync.WaitGroup) {
	settings := a.config.Settings

	if interval := settings.CheckpointInterval(); interval > 0 && a.RunID() != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.checkpointLoop(ctx, interval)
		}()
	}

	if addr := settings.Server.Addr; addr != "" {
		srv := server.New(server.Config{
			Store:           a.config.Store,
			Pipeline:        a,
			RunID:           a.RunID(),
			Transport:       settings.Transport.Kind,
			Live:            a.live,
			ValidateSetting: config.ValidateSetting,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Printf("Starting server on %s", addr)
			if err := srv.Serve(ctx, addr); err != nil {
				log.Printf("Server failed: %v", err)
			}
		}()
	}
}

func (a *App) checkpointLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.config.Store.Runs().Checkpoint(a.RunID(), counters(a.Stats())); err != nil {
				log.Printf("Checkpoint failed: %v", err)
			}
		}
	}
}

func counters(s tracking.Stats) store.Counters {
	return store.Counters{
		Frames:   int64(s.Frames),
		Hands:    int64(s.Hands),
		Messages: int64(s.Messages),
		Skipped:  int64(s.Skipped),
		Resets:   int64(s.Resets),
	}
}
