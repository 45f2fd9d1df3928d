package tracking

import (
	"fmt"
	"math"
	"sort"

	"github.com/ayusman/tipstream/internal/control"
	"github.com/ayusman/tipstream/internal/filter"
	"github.com/ayusman/tipstream/internal/hand"
)

// Session is the state of one tracked hand: its axis filters and its
// reference origin. Sessions never share state. A session follows a hand by
// position across frames, not by the detector's handedness label.
type Session struct {
	Key string

	layout  Layout
	filters [3]*filter.Filter

	reference *control.ReferenceTracker
	width     int
	height    int

	// label is the handedness the session was created with.
	label   string
	last    hand.Point3D
	hasLast bool
}

func newSession(key, label string, cfg Config) *Session {
	s := &Session{Key: key, label: label, layout: cfg.Layout}

	var opts []filter.Option
	if cfg.SeedFromFirst {
		opts = append(opts, filter.WithSeedFromFirst())
	}

	var model filter.Model
	if cfg.Layout == LayoutPaired {
		model = filter.CoupledPair(cfg.ProcessNoise, cfg.MeasurementNoise)
	} else {
		model = filter.ConstantVelocity(1, cfg.ProcessNoise, cfg.MeasurementNoise)
	}
	for i := range s.filters {
		s.filters[i] = filter.New(model, opts...)
	}
	return s
}

// step runs predict on every filter, then correct with m unless m is nil.
func (s *Session) step(m *control.Measurement) error {
	for _, f := range s.filters {
		f.Predict()
	}
	if m == nil {
		return nil
	}

	x, y, z := float64(m.X), float64(m.Y), m.Z
	var inputs [3][]float64
	if s.layout == LayoutPaired {
		inputs = [3][]float64{{x, y}, {y, z}, {z, z}}
	} else {
		inputs = [3][]float64{{x}, {y}, {z}}
	}

	for i, f := range s.filters {
		if _, err := f.Correct(inputs[i]); err != nil {
			return fmt.Errorf("axis %d: %w", i, err)
		}
	}
	return nil
}

// Smoothed returns the current x, y and z position estimates.
func (s *Session) Smoothed() (x, y, z float64) {
	return s.filters[0].Position(0), s.filters[1].Position(0), s.filters[2].Position(0)
}

// tracker returns the reference tracker for an interior region of the given
// size, rebuilding it when the size changes.
func (s *Session) tracker(width, height, padding int) (*control.ReferenceTracker, error) {
	if s.reference != nil && s.width == width && s.height == height {
		return s.reference, nil
	}

	full := func(d int) int { return d + 2*padding }
	t, err := control.NewReferenceTracker(full(width), full(height), padding)
	if err != nil {
		return nil, err
	}
	s.reference, s.width, s.height = t, width, height
	return t, nil
}

func (s *Session) resetOrigin() bool {
	if s.reference == nil || !s.reference.Tracking() {
		return false
	}
	s.reference.Reset()
	return true
}

// Costs used when a pair cannot be compared by position. Both exceed any
// distance between two points of the unit square.
const (
	sameLabelCost  = 2.0
	otherLabelCost = 3.0
)

// observe records the latest finite fingertip position of the session's hand.
func (s *Session) observe(tip hand.Point3D) {
	s.last, s.hasLast = tip, true
}

// matchSessions assigns each hand to at most one of sessions, returning the
// session index per hand or -1 for hands left over. Pairs are taken greedily
// by distance between the hand's fingertip and the session's last fingertip,
// so a hand keeps its session when the detector relabels it. Handedness
// only orders pairs that have no position to compare.
func matchSessions(hands []hand.Landmarks, sessions []*Session) []int {
	type pair struct {
		hand, session int
		cost          float64
	}

	pairs := make([]pair, 0, len(hands)*len(sessions))
	for i := range hands {
		tip := hands[i].IndexFingertip()
		for j, sess := range sessions {
			var cost float64
			switch {
			case tip.Finite() && sess.hasLast:
				cost = math.Hypot(tip.X-sess.last.X, tip.Y-sess.last.Y)
			case hands[i].Handedness != "" && hands[i].Handedness == sess.label:
				cost = sameLabelCost
			default:
				cost = otherLabelCost
			}
			pairs = append(pairs, pair{hand: i, session: j, cost: cost})
		}
	}
	// Stable on ties: earlier hands, then older sessions, win.
	sort.SliceStable(pairs, func(a, b int) bool { return pairs[a].cost < pairs[b].cost })

	assigned := make([]int, len(hands))
	for i := range assigned {
		assigned[i] = -1
	}
	taken := make([]bool, len(sessions))
	for _, p := range pairs {
		if assigned[p.hand] >= 0 || taken[p.session] {
			continue
		}
		assigned[p.hand] = p.session
		taken[p.session] = true
	}
	return assigned
}
