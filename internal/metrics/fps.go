package metrics

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// FPSMeter counts frames and turns the count into a per-second rate once per interval.
type FPSMeter struct {
	frames   atomic.Uint64
	fps      atomic.Uint64 // float64 bits
	interval time.Duration
	onUpdate func(float64)

	mu        sync.Mutex
	now       func() time.Time
	lastTime  time.Time
	lastCount uint64
}

// NewFPSMeter creates a meter sampling every interval. onUpdate, if set, receives each new rate.
func NewFPSMeter(interval time.Duration, onUpdate func(float64)) *FPSMeter {
	if interval <= 0 {
		interval = time.Second
	}
	m := &FPSMeter{interval: interval, onUpdate: onUpdate, now: time.Now}
	m.lastTime = m.now()
	return m
}

// SetClock replaces the time source and restarts the sampling window.
func (m *FPSMeter) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	m.lastTime = now()
	m.lastCount = m.frames.Load()
}

// Tick counts one frame.
func (m *FPSMeter) Tick() {
	m.frames.Add(1)
}

// Frames returns the total frame count.
func (m *FPSMeter) Frames() uint64 {
	return m.frames.Load()
}

// FPS returns the most recent rate, 0 before the first sample.
func (m *FPSMeter) FPS() float64 {
	return math.Float64frombits(m.fps.Load())
}

// Sample closes the current window and returns its rate.
func (m *FPSMeter) Sample() float64 {
	m.mu.Lock()
	now := m.now()
	count := m.frames.Load()
	elapsed := now.Sub(m.lastTime).Seconds()
	var fps float64
	if elapsed > 0 {
		fps = float64(count-m.lastCount) / elapsed
	}
	m.lastTime = now
	m.lastCount = count
	m.mu.Unlock()

	m.fps.Store(math.Float64bits(fps))
	if m.onUpdate != nil {
		m.onUpdate(fps)
	}
	return fps
}

// Run samples every interval until ctx ends.
func (m *FPSMeter) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample()
		}
	}
}
