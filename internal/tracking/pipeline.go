package tracking

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"sync"

	"github.com/ayusman/tipstream/internal/control"
	"github.com/ayusman/tipstream/internal/hand"
)

// ErrDetectorUnavailable is returned by Run when the frame source fails.
var ErrDetectorUnavailable = errors.New("detector unavailable")

// ErrNoSender is returned by New for an absolute-mode pipeline without output.
var ErrNoSender = errors.New("absolute mode requires a sender")

// Source delivers one observation per call, blocking until it is ready.
type Source interface {
	Next(ctx context.Context) (hand.Observation, error)
}

// Sender delivers one control sample.
type Sender interface {
	Send(s control.Sample) error
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Mode     Mode   `json:"mode"`
	Frames   uint64 `json:"frames"`
	Hands    uint64 `json:"hands"`
	Messages uint64 `json:"messages"`
	// Skipped counts hands whose measurement was not finite.
	Skipped  uint64 `json:"skipped"`
	Resets   uint64 `json:"resets"`
	Sessions int    `json:"sessions"`

	LastSample *control.Sample `json:"last_sample,omitempty"`
}

// Pipeline runs the per-frame tracking procedure. ProcessFrame and Run must
// be called from a single goroutine; Stats may be called from any.
type Pipeline struct {
	config Config
	source Source
	out    Sender
	diag   io.Writer

	sessions map[string]*Session
	// order holds sessions oldest first.
	order []*Session

	mu    sync.Mutex
	stats Stats
}

// New creates a pipeline. out may be nil in offset mode, which produces only
// diagnostics; diag may be nil to discard them.
func New(cfg Config, src Source, out Sender, diag io.Writer) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode == ModeAbsolute && out == nil {
		return nil, ErrNoSender
	}
	if diag == nil {
		diag = io.Discard
	}

	return &Pipeline{
		config:   cfg,
		source:   src,
		out:      out,
		diag:     diag,
		sessions: make(map[string]*Session),
		stats:    Stats{Mode: cfg.Mode},
	}, nil
}

// failer is a Sender that writes in the background and reports a failure
// before the next Send.
type failer interface {
	Err() error
}

// Run processes frames until ctx is cancelled or a stage fails. Cancellation
// is checked between frames; a clean stop returns nil. A source failure is
// wrapped in ErrDetectorUnavailable and a send failure is returned as is.
// A background sender failure is also checked between frames, so it ends the
// loop even while no hands are detected.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.source == nil {
		return fmt.Errorf("%w: no frame source", ErrDetectorUnavailable)
	}
	bg, _ := p.out.(failer)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if bg != nil {
			if err := bg.Err(); err != nil {
				return err
			}
		}

		obs, err := p.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w: %w", ErrDetectorUnavailable, err)
		}

		if err := p.ProcessFrame(obs); err != nil {
			return err
		}
	}
}

// ProcessFrame handles one observation. The only error returned is a send
// failure, after which no further hands of the frame are processed.
func (p *Pipeline) ProcessFrame(obs hand.Observation) error {
	p.mu.Lock()
	p.stats.Frames++
	p.stats.Hands += uint64(len(obs.Hands))
	p.mu.Unlock()

	if p.config.Mode == ModeOffset {
		p.processOffset(obs)
		return nil
	}
	return p.processAbsolute(obs)
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	if s.LastSample != nil {
		last := *s.LastSample
		s.LastSample = &last
	}
	return s
}

func (p *Pipeline) processAbsolute(obs hand.Observation) error {
	if obs.Empty() {
		return nil
	}

	bounds := control.NewFrameBounds(obs.Width, obs.Height)
	sessions := p.assign(obs.Hands)

	for i, sess := range sessions {
		tip := obs.Hands[i].IndexFingertip()
		if tip.Finite() {
			sess.observe(tip)
			m := control.MeasurementFromNormalized(tip.X, tip.Y, tip.Z, obs.Width, obs.Height)
			if err := sess.step(&m); err != nil {
				log.Printf("tracking: %s: %v", sess.Key, err)
				p.countSkipped()
			}
		} else {
			sess.step(nil)
			p.countSkipped()
		}

		sample := bounds.Sample(sess.Smoothed())
		if err := p.out.Send(sample); err != nil {
			return err
		}
		if p.config.Verbose {
			log.Printf("tracking: %s sent x=%.1f y=%.1f", sess.Key, sample.X, sample.Y)
		}

		p.mu.Lock()
		p.stats.Messages++
		p.stats.LastSample = &sample
		p.mu.Unlock()
	}
	return nil
}

func (p *Pipeline) processOffset(obs hand.Observation) {
	sessions := p.assign(obs.Hands)
	present := make(map[*Session]bool, len(sessions))
	for _, sess := range sessions {
		present[sess] = true
	}

	// A session whose hand is missing from this frame loses its origin.
	for _, sess := range p.order {
		if !present[sess] && sess.resetOrigin() {
			p.mu.Lock()
			p.stats.Resets++
			p.mu.Unlock()
		}
	}

	prefix := func(key string) string {
		if len(obs.Hands) > 1 {
			return "[" + key + "] "
		}
		return ""
	}

	for i, sess := range sessions {
		tip := obs.Hands[i].IndexFingertip()
		if !tip.Finite() {
			p.countSkipped()
			continue
		}
		sess.observe(tip)

		ref, err := sess.tracker(obs.Width, obs.Height, p.config.Padding)
		if err != nil {
			log.Printf("tracking: %s: %v", sess.Key, err)
			continue
		}

		pos := ref.Remap(tip.X, tip.Y)
		d, armed := ref.Observe(pos)
		if armed {
			fmt.Fprintf(p.diag, "%sInitial Position Set: %s\n", prefix(sess.Key), pos)
		}
		fmt.Fprintf(p.diag, "%sNormalized Distance from Initial Position - X: %.2f, Y: %.2f\n", prefix(sess.Key), d.DX, d.DY)
	}
}

// assign returns the session of each hand, creating sessions only for hands
// beyond the number already known.
func (p *Pipeline) assign(hands []hand.Landmarks) []*Session {
	matched := matchSessions(hands, p.order)

	out := make([]*Session, len(hands))
	for i, j := range matched {
		if j >= 0 {
			out[i] = p.order[j]
			continue
		}
		out[i] = p.newSession(hands[i].Handedness)
	}
	return out
}

// newSession keys a session by its handedness label when that key is free,
// otherwise by its creation index.
func (p *Pipeline) newSession(label string) *Session {
	key := label
	for n := len(p.order); key == "" || p.sessions[key] != nil; n++ {
		key = "#" + strconv.Itoa(n)
	}

	sess := newSession(key, label, p.config)
	p.sessions[key] = sess
	p.order = append(p.order, sess)

	p.mu.Lock()
	p.stats.Sessions = len(p.order)
	p.mu.Unlock()
	return sess
}

func (p *Pipeline) countSkipped() {
	p.mu.Lock()
	p.stats.Skipped++
	p.mu.Unlock()
}
