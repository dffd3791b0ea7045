package capture

import (
	"sync"
	"time"
)

// DefaultPreRoll is how much footage is kept ahead of a recording trigger.
const DefaultPreRoll = 2 * time.Second

// PreRoll buffers the most recent frames within a time horizon.
// Every call trims frames older than the horizon before doing its work.
type PreRoll struct {
	mu      sync.Mutex
	horizon time.Duration
	frames  []Frame
	now     func() time.Time
}

// NewPreRoll creates a ring keeping horizon worth of frames.
func NewPreRoll(horizon time.Duration) *PreRoll {
	if horizon <= 0 {
		horizon = DefaultPreRoll
	}
	return &PreRoll{horizon: horizon, now: time.Now}
}

// SetClock replaces the time source. Tests use it to control trimming.
func (p *PreRoll) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// Push appends f, taking ownership.
func (p *PreRoll) Push(f Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, f)
	p.trim()
}

// Drain removes and returns all buffered frames in capture order. The caller owns them.
func (p *PreRoll) Drain() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trim()
	out := p.frames
	p.frames = nil
	return out
}

// Len returns the number of buffered frames.
func (p *PreRoll) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trim()
	return len(p.frames)
}

// Oldest returns the capture time of the oldest buffered frame.
func (p *PreRoll) Oldest() (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trim()
	if len(p.frames) == 0 {
		return time.Time{}, false
	}
	return p.frames[0].Time, true
}

// Close releases every buffered frame.
func (p *PreRoll) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.frames {
		p.frames[i].Close()
	}
	p.frames = nil
}

// trim drops frames older than the horizon. Frames are appended in capture order,
// so the expired ones form a prefix.
func (p *PreRoll) trim() {
	cutoff := p.now().Add(-p.horizon)
	n := 0
	for n < len(p.frames) && p.frames[n].Time.Before(cutoff) {
		p.frames[n].Close()
		n++
	}
	if n == 0 {
		return
	}
	rest := copy(p.frames, p.frames[n:])
	for i := rest; i < len(p.frames); i++ {
		p.frames[i] = Frame{}
	}
	p.frames = p.frames[:rest]
}
