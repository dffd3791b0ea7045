package recorder

import (
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/capture"
)

const eps = time.Millisecond

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeSink struct {
	frames []time.Time
	closed bool
}

func (s *fakeSink) Write(f capture.Frame) error {
	s.frames = append(s.frames, f.Time)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

type fakeOpener struct {
	err   error
	sinks []*fakeSink
	fps   []float64
	sizes []image.Point
}

func (o *fakeOpener) Open(start time.Time, size image.Point, fps float64) (Sink, string, error) {
	if o.err != nil {
		return nil, "", o.err
	}
	s := &fakeSink{}
	o.sinks = append(o.sinks, s)
	o.fps = append(o.fps, fps)
	o.sizes = append(o.sizes, size)
	return s, start.Format(FileLayout) + ".avi", nil
}

type events struct {
	started, stopped []Session
}

func (e *events) RecordingStarted(s Session) { e.started = append(e.started, s) }
func (e *events) RecordingStopped(s Session) { e.stopped = append(e.stopped, s) }

func frameAt(t time.Time) capture.Frame {
	return capture.NewFrame(gocv.NewMatWithSize(4, 6, gocv.MatTypeCV8UC3), t)
}

func newTestController(clock *fakeClock, opener SinkOpener, preroll *capture.PreRoll) *Controller {
	c := NewController(Config{Activate: DefaultActivate, Deactivate: DefaultDeactivate}, opener, preroll, func() float64 { return 12.5 })
	c.SetClock(clock.Now)
	return c
}

// step advances the clock to t and feeds a frame captured at t.
func step(c *Controller, clock *fakeClock, t time.Time, signal bool) {
	clock.Set(t)
	c.Step(signal, frameAt(t))
}

func TestController_ActivationBoundary(t *testing.T) {
	clock := newFakeClock()
	opener := &fakeOpener{}
	c := newTestController(clock, opener, nil)
	t0 := clock.Now()

	step(c, clock, t0, true)
	assert.Equal(t, Armed, c.State())

	step(c, clock, t0.Add(DefaultActivate-eps), true)
	assert.Equal(t, Armed, c.State())
	assert.Empty(t, opener.sinks)

	step(c, clock, t0.Add(DefaultActivate), true)
	assert.Equal(t, Recording, c.State())
	require.Len(t, opener.sinks, 1)
	assert.Equal(t, []float64{12.5}, opener.fps)
	assert.Equal(t, image.Pt(6, 4), opener.sizes[0])

	s, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, t0.Add(DefaultActivate), s.Start)
	assert.Equal(t, "2024.05.01.12.00.01.avi", s.Path)
	assert.NotEmpty(t, s.ID)
}

func TestController_ArmedFallsBack(t *testing.T) {
	clock := newFakeClock()
	opener := &fakeOpener{}
	c := newTestController(clock, opener, nil)
	t0 := clock.Now()

	step(c, clock, t0, true)
	step(c, clock, t0.Add(500*time.Millisecond), false)
	assert.Equal(t, Idle, c.State())

	// the activation window restarts from the next positive
	step(c, clock, t0.Add(600*time.Millisecond), true)
	step(c, clock, t0.Add(DefaultActivate+100*time.Millisecond), true)
	assert.Equal(t, Armed, c.State())
	assert.Empty(t, opener.sinks)
}

func TestController_DeactivationBoundary(t *testing.T) {
	clock := newFakeClock()
	opener := &fakeOpener{}
	ev := &events{}
	c := newTestController(clock, opener, nil)
	c.AddListener(ev)
	t0 := clock.Now()

	step(c, clock, t0, true)
	step(c, clock, t0.Add(DefaultActivate), true)
	require.Equal(t, Recording, c.State())

	last := t0.Add(1500 * time.Millisecond)
	step(c, clock, last, true)
	step(c, clock, last.Add(DefaultDeactivate), false)
	assert.Equal(t, Recording, c.State())

	step(c, clock, last.Add(DefaultDeactivate+eps), false)
	assert.Equal(t, Idle, c.State())

	sink := opener.sinks[0]
	assert.True(t, sink.closed)
	assert.Len(t, sink.frames, 4)

	require.Len(t, ev.started, 1)
	require.Len(t, ev.stopped, 1)
	assert.Equal(t, ev.started[0].ID, ev.stopped[0].ID)
	assert.Equal(t, last, ev.stopped[0].LastPositive)
	assert.Equal(t, 4, ev.stopped[0].Frames)

	_, ok := c.Session()
	assert.False(t, ok)
}

func TestController_TickClosesStalledSession(t *testing.T) {
	clock := newFakeClock()
	opener := &fakeOpener{}
	ev := &events{}
	c := newTestController(clock, opener, nil)
	c.AddListener(ev)
	t0 := clock.Now()

	c.Tick()
	assert.Equal(t, Idle, c.State())

	step(c, clock, t0, true)
	step(c, clock, t0.Add(DefaultActivate), true)
	require.Equal(t, Recording, c.State())

	// no frames arrive from here on
	clock.Set(t0.Add(DefaultActivate + DefaultDeactivate))
	c.Tick()
	assert.Equal(t, Recording, c.State())

	clock.Set(t0.Add(DefaultActivate + DefaultDeactivate + eps))
	c.Tick()
	assert.Equal(t, Idle, c.State())
	require.Len(t, ev.stopped, 1)
	assert.True(t, opener.sinks[0].closed)
	assert.Equal(t, 1, ev.stopped[0].Frames)
}

func TestController_TickInterval(t *testing.T) {
	tests := []struct {
		deactivate time.Duration
		want       time.Duration
	}{
		{2 * time.Second, 500 * time.Millisecond},
		{50 * time.Millisecond, 12500 * time.Microsecond},
		{0, 10 * time.Millisecond},
	}
	for _, tt := range tests {
		c := NewController(Config{Deactivate: tt.deactivate}, &fakeOpener{}, nil, nil)
		if got := c.TickInterval(); got != tt.want {
			t.Errorf("TickInterval() with deactivate %v = %v, want %v", tt.deactivate, got, tt.want)
		}
	}
}

func TestController_PreRollLeadsRecording(t *testing.T) {
	clock := newFakeClock()
	t0 := clock.Now()

	preroll := capture.NewPreRoll(capture.DefaultPreRoll)
	preroll.SetClock(clock.Now)
	defer preroll.Close()

	opener := &fakeOpener{}
	c := newTestController(clock, opener, preroll)

	var times []time.Time
	for i := 0; i <= 10; i++ {
		ts := t0.Add(time.Duration(i) * 100 * time.Millisecond)
		clock.Set(ts)
		preroll.Push(frameAt(ts))
		c.Step(true, frameAt(ts))
		times = append(times, ts)
	}

	require.Equal(t, Recording, c.State())
	sink := opener.sinks[0]
	// pre-roll frames strictly before the triggering frame, then the trigger itself
	assert.Equal(t, times, sink.frames)
	assert.Equal(t, 0, preroll.Len())
}

func TestController_SinkOpenFailure(t *testing.T) {
	clock := newFakeClock()
	opener := &fakeOpener{err: errors.New("disk full")}
	c := newTestController(clock, opener, nil)
	t0 := clock.Now()

	step(c, clock, t0, true)
	step(c, clock, t0.Add(DefaultActivate), true)
	assert.Equal(t, Idle, c.State())

	// re-arms on the next positive
	step(c, clock, t0.Add(DefaultActivate+eps), true)
	assert.Equal(t, Armed, c.State())
}

func TestController_FallbackFPS(t *testing.T) {
	clock := newFakeClock()
	opener := &fakeOpener{}
	c := NewController(Config{Activate: 0, Deactivate: DefaultDeactivate}, opener, nil, func() float64 { return 0 })
	c.SetClock(clock.Now)

	step(c, clock, clock.Now(), true)
	step(c, clock, clock.Now(), true)
	require.Equal(t, Recording, c.State())
	assert.Equal(t, []float64{capture.DefaultFPS}, opener.fps)
}

func TestController_CloseEndsSession(t *testing.T) {
	clock := newFakeClock()
	opener := &fakeOpener{}
	ev := &events{}
	c := newTestController(clock, opener, nil)
	c.AddListener(ev)
	t0 := clock.Now()

	step(c, clock, t0, true)
	step(c, clock, t0.Add(DefaultActivate), true)
	require.NoError(t, c.Close())

	assert.Equal(t, Idle, c.State())
	assert.True(t, opener.sinks[0].closed)
	assert.Len(t, ev.stopped, 1)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "armed", Armed.String())
	assert.Equal(t, "recording", Recording.String())
	assert.Equal(t, "state(7)", State(7).String())
}
