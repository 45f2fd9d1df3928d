package tracking

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/tipstream/internal/control"
	"github.com/ayusman/tipstream/internal/hand"
	"github.com/ayusman/tipstream/internal/stream"
)

// scriptSource replays observations, repeating the last one forever.
type scriptSource struct {
	frames []hand.Observation
	calls  int
	err    error
	// cancel, when set, is called once calls reaches cancelAt.
	cancel   context.CancelFunc
	cancelAt int
}

func (s *scriptSource) Next(ctx context.Context) (hand.Observation, error) {
	s.calls++
	if s.cancel != nil && s.calls >= s.cancelAt {
		s.cancel()
	}
	if s.err != nil {
		return hand.Observation{}, s.err
	}
	i := s.calls - 1
	if i >= len(s.frames) {
		i = len(s.frames) - 1
	}
	return s.frames[i], nil
}

type recordingSender struct {
	got    []control.Sample
	failAt int // 1-based send that fails; zero never fails
	err    error
	calls  int
}

func (r *recordingSender) Send(s control.Sample) error {
	r.calls++
	if r.failAt > 0 && r.calls >= r.failAt {
		return r.err
	}
	r.got = append(r.got, s)
	return nil
}

func pointing(handedness string, x, y, z float64) hand.Landmarks {
	lm := hand.Landmarks{Handedness: handedness, Score: 0.9}
	lm.Points[hand.IndexTip] = hand.Point3D{X: x, Y: y, Z: z}
	return lm
}

func frame(w, h int, hands ...hand.Landmarks) hand.Observation {
	return hand.Observation{Width: w, Height: h, Hands: hands}
}

func absolutePipeline(t *testing.T, out Sender) *Pipeline {
	t.Helper()
	p, err := New(DefaultConfig(), nil, out, nil)
	require.NoError(t, err)
	return p
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		out     Sender
		wantErr error
	}{
		{name: "defaults", mutate: func(*Config) {}, out: &recordingSender{}},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "relative" }, out: &recordingSender{}, wantErr: ErrInvalidConfig},
		{name: "unknown layout", mutate: func(c *Config) { c.Layout = "fused" }, out: &recordingSender{}, wantErr: ErrInvalidConfig},
		{name: "zero process noise", mutate: func(c *Config) { c.ProcessNoise = 0 }, out: &recordingSender{}, wantErr: ErrInvalidConfig},
		{name: "negative measurement noise", mutate: func(c *Config) { c.MeasurementNoise = -1 }, out: &recordingSender{}, wantErr: ErrInvalidConfig},
		{name: "negative padding", mutate: func(c *Config) { c.Padding = -1 }, out: &recordingSender{}, wantErr: ErrInvalidConfig},
		{name: "absolute without sender", mutate: func(*Config) {}, wantErr: ErrNoSender},
		{name: "offset without sender", mutate: func(c *Config) { c.Mode = ModeOffset }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			_, err := New(cfg, nil, tt.out, nil)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestProcessFrame_NoDetectionIsNoOp(t *testing.T) {
	out := &recordingSender{}
	p := absolutePipeline(t, out)

	require.NoError(t, p.ProcessFrame(frame(640, 480)))

	assert.Empty(t, out.got)
	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Frames)
	assert.Equal(t, 0, stats.Sessions)
	assert.Nil(t, stats.LastSample)
}

func TestProcessFrame_FirstSampleStartsFromZero(t *testing.T) {
	out := &recordingSender{}
	p := absolutePipeline(t, out)

	require.NoError(t, p.ProcessFrame(frame(640, 480, pointing("Right", 0.5, 0.5, 0))))
	require.Len(t, out.got, 1)

	// Zero prior with gain q/(q+r) on x=320 of [-640, 640].
	gain := 0.03 / (0.03 + 0.5)
	assert.InDelta(t, gain*320/640, out.got[0].X, 1e-9)
	assert.InDelta(t, gain*240/480, out.got[0].Y, 1e-9)
	assert.InDelta(t, 0, out.got[0].Z, 1e-9)
}

func TestProcessFrame_TwoHandsEmitTwoIndependentSamples(t *testing.T) {
	out := &recordingSender{}
	p := absolutePipeline(t, out)

	const frames = 300
	for i := 0; i < frames; i++ {
		obs := frame(640, 480,
			pointing("Left", 0.25, 0.5, 0),
			pointing("Right", 0.75, 0.25, 0),
		)
		require.NoError(t, p.ProcessFrame(obs))
	}

	require.Len(t, out.got, 2*frames)
	left, right := out.got[len(out.got)-2], out.got[len(out.got)-1]
	assert.InDelta(t, 0.25, left.X, 1e-3)
	assert.InDelta(t, 0.5, left.Y, 1e-3)
	assert.InDelta(t, 0.75, right.X, 1e-3)
	assert.InDelta(t, 0.25, right.Y, 1e-3)

	stats := p.Stats()
	want := Stats{
		Mode:     ModeAbsolute,
		Frames:   frames,
		Hands:    2 * frames,
		Messages: 2 * frames,
		Sessions: 2,
	}
	stats.LastSample = nil
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("Stats() mismatch (-want +got):\n%s", diff)
	}
}

func TestProcessFrame_SessionFollowsHandedness(t *testing.T) {
	out := &recordingSender{}
	p := absolutePipeline(t, out)

	for i := 0; i < 100; i++ {
		require.NoError(t, p.ProcessFrame(frame(640, 480,
			pointing("Left", 0.25, 0.5, 0),
			pointing("Right", 0.75, 0.5, 0),
		)))
	}

	// Order swaps; each hand keeps its own filter.
	require.NoError(t, p.ProcessFrame(frame(640, 480,
		pointing("Right", 0.75, 0.5, 0),
		pointing("Left", 0.25, 0.5, 0),
	)))

	right, left := out.got[len(out.got)-2], out.got[len(out.got)-1]
	assert.InDelta(t, 0.75, right.X, 1e-2)
	assert.InDelta(t, 0.25, left.X, 1e-2)
}

func TestProcessFrame_NonFiniteMeasurementKeepsPrior(t *testing.T) {
	out := &recordingSender{}
	p := absolutePipeline(t, out)

	for i := 0; i < 100; i++ {
		require.NoError(t, p.ProcessFrame(frame(640, 480, pointing("Right", 0.5, 0.5, 0))))
	}
	before := out.got[len(out.got)-1]

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		require.NoError(t, p.ProcessFrame(frame(640, 480, pointing("Right", bad, 0.5, 0))))
		got := out.got[len(out.got)-1]
		assert.False(t, math.IsNaN(got.X) || math.IsInf(got.X, 0), "sample must stay finite")
		assert.InDelta(t, before.X, got.X, 1e-2)
	}

	require.NoError(t, p.ProcessFrame(frame(640, 480, pointing("Right", 0.5, 0.5, 0))))
	assert.InDelta(t, 0.5, out.got[len(out.got)-1].X, 1e-2)
	assert.Equal(t, uint64(3), p.Stats().Skipped)
}

func TestProcessFrame_PairedLayout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Layout = LayoutPaired
	out := &recordingSender{}
	p, err := New(cfg, nil, out, nil)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, p.ProcessFrame(frame(640, 480, pointing("Right", 0.5, 0.5, 0.1))))
	}

	require.Len(t, out.got, 50)
	for _, s := range out.got {
		assert.False(t, math.IsNaN(s.X) || math.IsNaN(s.Y) || math.IsNaN(s.Z))
	}
}

func TestProcessFrame_SendFailureStopsFrame(t *testing.T) {
	cause := errors.New("connection reset")
	out := &recordingSender{failAt: 1, err: cause}
	p := absolutePipeline(t, out)

	err := p.ProcessFrame(frame(640, 480,
		pointing("Left", 0.25, 0.5, 0),
		pointing("Right", 0.75, 0.5, 0),
	))

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, out.calls, "second hand must not be sent after a failure")
	assert.Equal(t, uint64(0), p.Stats().Messages)
}

func TestRun_TransportErrorEndsLoop(t *testing.T) {
	cause := errors.New("broken pipe")
	src := &scriptSource{frames: []hand.Observation{frame(640, 480, pointing("Right", 0.5, 0.5, 0))}}
	out := &recordingSender{failAt: 3, err: cause}

	p, err := New(DefaultConfig(), src, out, nil)
	require.NoError(t, err)

	err = p.Run(context.Background())

	assert.ErrorIs(t, err, cause)
	assert.False(t, errors.Is(err, ErrDetectorUnavailable))
	assert.Equal(t, 3, src.calls)
	assert.Equal(t, 3, out.calls)
	assert.Len(t, out.got, 2)
}

// idleSource returns one frame with a hand, then empty frames.
type idleSource struct{ calls int }

func (s *idleSource) Next(ctx context.Context) (hand.Observation, error) {
	s.calls++
	if s.calls == 1 {
		return frame(640, 480, pointing("Right", 0.5, 0.5, 0)), nil
	}
	time.Sleep(time.Millisecond)
	return frame(640, 480), nil
}

type failingSender struct{ err error }

func (f failingSender) Send(control.Sample) error { return f.err }

func TestRun_BackgroundSendFailureEndsIdleLoop(t *testing.T) {
	cause := errors.New("broken pipe")
	q := stream.NewQueue(failingSender{err: cause}, 4)
	defer q.Close()

	p, err := New(DefaultConfig(), &idleSource{}, q, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = p.Run(ctx)

	require.ErrorIs(t, err, cause)
	assert.NoError(t, ctx.Err(), "loop must end on the send failure, not the timeout")
	assert.Equal(t, uint64(1), p.Stats().Hands)
}

func TestRun_SourceFailureIsDetectorUnavailable(t *testing.T) {
	cause := errors.New("service exited")
	src := &scriptSource{err: cause}

	p, err := New(DefaultConfig(), src, &recordingSender{}, nil)
	require.NoError(t, err)

	err = p.Run(context.Background())

	assert.ErrorIs(t, err, ErrDetectorUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestRun_StopsBetweenFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &scriptSource{
		frames:   []hand.Observation{frame(640, 480, pointing("Right", 0.5, 0.5, 0))},
		cancel:   cancel,
		cancelAt: 5,
	}
	out := &recordingSender{}

	p, err := New(DefaultConfig(), src, out, nil)
	require.NoError(t, err)

	require.NoError(t, p.Run(ctx))

	// The frame in flight when the stop arrives is still completed.
	assert.Equal(t, 5, src.calls)
	assert.Len(t, out.got, 5)
}

func TestRun_NoSource(t *testing.T) {
	p := absolutePipeline(t, &recordingSender{})
	assert.ErrorIs(t, p.Run(context.Background()), ErrDetectorUnavailable)
}

func offsetPipeline(t *testing.T, diag *bytes.Buffer) *Pipeline {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Mode = ModeOffset
	p, err := New(cfg, nil, nil, diag)
	require.NoError(t, err)
	return p
}

func TestProcessFrame_OffsetReacquiresAfterGap(t *testing.T) {
	var diag bytes.Buffer
	p := offsetPipeline(t, &diag)

	// 640x480 camera with a 50 px border: the detector sees 540x380.
	steps := []hand.Observation{
		frame(540, 380, pointing("Right", 0.5, 0.5, 0)),
		frame(540, 380, pointing("Right", 0.75, 0.5, 0)),
		frame(540, 380),
		frame(540, 380, pointing("Right", 0.25, 0.25, 0)),
	}
	for _, obs := range steps {
		require.NoError(t, p.ProcessFrame(obs))
	}

	want := "Initial Position Set: (320, 240)\n" +
		"Normalized Distance from Initial Position - X: 0.00, Y: 0.00\n" +
		"Normalized Distance from Initial Position - X: 0.50, Y: 0.00\n" +
		"Initial Position Set: (185, 145)\n" +
		"Normalized Distance from Initial Position - X: 0.00, Y: 0.00\n"
	if diff := cmp.Diff(want, diag.String()); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Resets)
	assert.Equal(t, uint64(0), stats.Messages)
}

func TestProcessFrame_OffsetResetsOnlyMissingHand(t *testing.T) {
	var diag bytes.Buffer
	p := offsetPipeline(t, &diag)

	require.NoError(t, p.ProcessFrame(frame(540, 380,
		pointing("Left", 0.25, 0.5, 0),
		pointing("Right", 0.75, 0.5, 0),
	)))
	require.NoError(t, p.ProcessFrame(frame(540, 380, pointing("Right", 0.75, 0.5, 0))))

	assert.False(t, p.sessions["Left"].reference.Tracking())
	assert.True(t, p.sessions["Right"].reference.Tracking())
	assert.Equal(t, uint64(1), p.Stats().Resets)
	assert.Contains(t, diag.String(), "[Left] Initial Position Set: (185, 240)\n")
}

func TestProcessFrame_OffsetRepeatedGapsCountOnce(t *testing.T) {
	var diag bytes.Buffer
	p := offsetPipeline(t, &diag)

	require.NoError(t, p.ProcessFrame(frame(540, 380, pointing("Right", 0.5, 0.5, 0))))
	for i := 0; i < 3; i++ {
		require.NoError(t, p.ProcessFrame(frame(540, 380)))
	}

	assert.Equal(t, uint64(1), p.Stats().Resets)
}

func TestMatchSessions(t *testing.T) {
	at := func(label string, x, y float64) *Session {
		return &Session{label: label, last: hand.Point3D{X: x, Y: y}, hasLast: true}
	}
	unseen := func(label string) *Session { return &Session{label: label} }
	nan := math.NaN()

	tests := []struct {
		name     string
		hands    []hand.Landmarks
		sessions []*Session
		want     []int
	}{
		{name: "no hands", hands: nil, sessions: []*Session{at("Right", 0.5, 0.5)}, want: []int{}},
		{name: "no sessions", hands: []hand.Landmarks{pointing("Right", 0.5, 0.5, 0)}, sessions: nil, want: []int{-1}},
		{
			name:     "relabelled hand keeps its session",
			hands:    []hand.Landmarks{pointing("Left", 0.5, 0.5, 0)},
			sessions: []*Session{at("Right", 0.5, 0.5)},
			want:     []int{0},
		},
		{
			name:     "nearest position wins over label",
			hands:    []hand.Landmarks{pointing("Left", 0.74, 0.5, 0), pointing("Right", 0.26, 0.5, 0)},
			sessions: []*Session{at("Left", 0.25, 0.5), at("Right", 0.75, 0.5)},
			want:     []int{1, 0},
		},
		{
			name:     "single hand picks the nearer of two sessions",
			hands:    []hand.Landmarks{pointing("Right", 0.7, 0.5, 0)},
			sessions: []*Session{at("Left", 0.25, 0.5), at("Right", 0.75, 0.5)},
			want:     []int{1},
		},
		{
			name:     "extra hand gets no session",
			hands:    []hand.Landmarks{pointing("Right", 0.5, 0.5, 0), pointing("Left", 0.1, 0.1, 0)},
			sessions: []*Session{at("Right", 0.5, 0.5)},
			want:     []int{0, -1},
		},
		{
			name:     "label breaks ties without positions",
			hands:    []hand.Landmarks{pointing("Right", nan, nan, 0), pointing("Left", nan, nan, 0)},
			sessions: []*Session{unseen("Left"), unseen("Right")},
			want:     []int{1, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, matchSessions(tt.hands, tt.sessions)); diff != "" {
				t.Errorf("matchSessions() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProcessFrame_RelabelledHandKeepsFilter(t *testing.T) {
	out := &recordingSender{}
	p := absolutePipeline(t, out)

	for i := 0; i < 200; i++ {
		require.NoError(t, p.ProcessFrame(frame(640, 480, pointing("Right", 0.5, 0.5, 0))))
	}
	before := out.got[len(out.got)-1]

	require.NoError(t, p.ProcessFrame(frame(640, 480, pointing("Left", 0.5, 0.5, 0))))
	after := out.got[len(out.got)-1]

	assert.InDelta(t, 0.5, before.X, 0.01)
	assert.InDelta(t, before.X, after.X, 0.01)
	assert.InDelta(t, before.Y, after.Y, 0.01)
	assert.Equal(t, 1, p.Stats().Sessions)
}

func TestProcessFrame_OffsetRelabelledHandKeepsOrigin(t *testing.T) {
	var diag bytes.Buffer
	p := offsetPipeline(t, &diag)

	require.NoError(t, p.ProcessFrame(frame(540, 380, pointing("Right", 0.5, 0.5, 0))))
	require.NoError(t, p.ProcessFrame(frame(540, 380, pointing("Left", 0.75, 0.5, 0))))

	want := "Initial Position Set: (320, 240)\n" +
		"Normalized Distance from Initial Position - X: 0.00, Y: 0.00\n" +
		"Normalized Distance from Initial Position - X: 0.50, Y: 0.00\n"
	if diff := cmp.Diff(want, diag.String()); diff != "" {
		t.Errorf("diagnostics mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(0), p.Stats().Resets)
	assert.Equal(t, 1, p.Stats().Sessions)
}
