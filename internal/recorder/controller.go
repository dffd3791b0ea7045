// Package recorder turns the detection signal into recorded video sessions.
package recorder

import (
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/logging"
)

// Default hysteresis timings.
const (
	DefaultActivate   = time.Second
	DefaultDeactivate = 2 * time.Second
)

// State is the controller state.
type State int

const (
	Idle State = iota
	Armed
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Recording:
		return "recording"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sink receives the frames of one session.
type Sink interface {
	Write(f capture.Frame) error
	Close() error
}

// SinkOpener creates the sink for a session starting at start with the given frame size and rate.
type SinkOpener interface {
	Open(start time.Time, size image.Point, fps float64) (Sink, string, error)
}

// Session is an active recording.
type Session struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	Start        time.Time `json:"start"`
	LastPositive time.Time `json:"last_positive"`
	Frames       int       `json:"frames"`

	sink Sink
}

// Listener is told when sessions start and stop. Calls happen on the controller's goroutine.
type Listener interface {
	RecordingStarted(s Session)
	RecordingStopped(s Session)
}

// Config holds the hysteresis timings.
type Config struct {
	// Activate is how long the signal must stay true before recording starts.
	Activate time.Duration
	// Deactivate is how long after the last positive signal recording stops.
	Deactivate time.Duration
}

// Controller is the IDLE -> ARMED -> RECORDING state machine.
type Controller struct {
	config  Config
	opener  SinkOpener
	preroll *capture.PreRoll
	fps     func() float64
	clock   func() time.Time
	log     *slog.Logger

	mu        sync.Mutex
	state     State
	first     time.Time
	session   *Session
	listeners []Listener
}

// NewController creates a controller. preroll may be nil. fps reports the measured
// capture rate used for new sessions.
func NewController(config Config, opener SinkOpener, preroll *capture.PreRoll, fps func() float64) *Controller {
	if config.Activate < 0 {
		config.Activate = DefaultActivate
	}
	if config.Deactivate < 0 {
		config.Deactivate = DefaultDeactivate
	}
	return &Controller{
		config:  config,
		opener:  opener,
		preroll: preroll,
		fps:     fps,
		clock:   time.Now,
		log:     logging.ForService("recorder"),
	}
}

// SetClock replaces the time source.
func (c *Controller) SetClock(clock func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = clock
}

// AddListener registers l.
func (c *Controller) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the active session.
func (c *Controller) Session() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}

// Step advances the state machine with the latest detection signal and frame.
// The controller takes ownership of frame.
func (c *Controller) Step(signal bool, frame capture.Frame) {
	defer frame.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()

	switch c.state {
	case Idle:
		if signal {
			c.state = Armed
			c.first = now
			c.log.Debug("armed")
		}

	case Armed:
		if !signal {
			c.state = Idle
			c.log.Debug("disarmed")
			return
		}
		if now.Sub(c.first) >= c.config.Activate {
			c.start(now, frame)
		}

	case Recording:
		if signal {
			c.session.LastPositive = now
		}
		c.write(frame)
		if now.Sub(c.session.LastPositive) > c.config.Deactivate {
			c.stop()
		}
	}
}

// Tick applies the deactivate window without a frame. It ends a session whose last
// positive signal is older than Deactivate, so a stalled camera cannot hold it open.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Recording {
		return
	}
	if c.clock().Sub(c.session.LastPositive) > c.config.Deactivate {
		c.stop()
	}
}

// TickInterval is how long the caller may wait for a frame before calling Tick.
func (c *Controller) TickInterval() time.Duration {
	d := c.config.Deactivate / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// start opens the sink and flushes the pre-roll ahead of frame. On failure the controller returns to Idle.
func (c *Controller) start(now time.Time, frame capture.Frame) {
	fps := 0.0
	if c.fps != nil {
		fps = c.fps()
	}
	if fps <= 0 {
		fps = capture.DefaultFPS
	}

	sink, path, err := c.opener.Open(now, frame.Size(), fps)
	if err != nil {
		c.log.Error("failed to open recording sink", "error", err)
		c.state = Idle
		return
	}

	c.session = &Session{
		ID:           uuid.NewString(),
		Path:         path,
		Start:        now,
		LastPositive: now,
		sink:         sink,
	}
	c.state = Recording

	if c.preroll != nil {
		for _, f := range c.preroll.Drain() {
			if f.Time.Before(frame.Time) {
				c.write(f)
			}
			f.Close()
		}
	}
	c.write(frame)

	c.log.Info("recording started", "session", c.session.ID, "path", path, "fps", fps)
	for _, l := range c.listeners {
		l.RecordingStarted(*c.session)
	}
}

func (c *Controller) write(f capture.Frame) {
	if f.Empty() {
		return
	}
	if err := c.session.sink.Write(f); err != nil {
		c.log.Warn("failed to write frame", "session", c.session.ID, "error", err)
		return
	}
	c.session.Frames++
}

func (c *Controller) stop() {
	s := *c.session
	if err := s.sink.Close(); err != nil {
		c.log.Warn("failed to close recording", "session", s.ID, "error", err)
	}
	c.session = nil
	c.state = Idle

	c.log.Info("recording stopped", "session", s.ID, "frames", s.Frames, "duration", s.LastPositive.Sub(s.Start))
	for _, l := range c.listeners {
		l.RecordingStopped(s)
	}
}

// Close ends any active session.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Recording {
		c.stop()
	}
	c.state = Idle
	return nil
}
