package capture

import (
	"context"
	"errors"
	"sync"
)

// ErrHubClosed is returned by Wait once the hub has been closed.
var ErrHubClosed = errors.New("frame hub is closed")

// Hub holds the most recent frame. Publishing replaces it and readers get clones,
// so a slow reader skips frames instead of queueing them.
type Hub struct {
	mu     sync.Mutex
	cond   *sync.Cond
	cur    Frame
	seq    uint64
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	h := &Hub{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// Publish stores f, taking ownership, and releases the previous frame.
// Publishing to a closed hub releases f.
func (h *Hub) Publish(f Frame) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		f.Close()
		return
	}
	prev := h.cur
	h.seq++
	f.Seq = h.seq
	h.cur = f
	h.mu.Unlock()

	prev.Close()
	h.cond.Broadcast()
}

// Snapshot returns a clone of the current frame, or false when nothing has been published.
func (h *Hub) Snapshot() (Frame, bool) {
	return h.SnapshotAfter(0)
}

// SnapshotAfter returns a clone of the current frame only if it is newer than seq.
func (h *Hub) SnapshotAfter(seq uint64) (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cur.Mat == nil || h.seq <= seq {
		return Frame{}, false
	}
	return h.cur.Clone(), true
}

// Wait suspends until a frame newer than seq is available, then returns a clone of it.
func (h *Hub) Wait(ctx context.Context, seq uint64) (Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for h.seq <= seq || h.cur.Mat == nil {
		if h.closed {
			return Frame{}, ErrHubClosed
		}
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		h.cond.Wait()
	}
	return h.cur.Clone(), nil
}

// Seq returns the sequence number of the latest published frame.
func (h *Hub) Seq() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seq
}

// Close releases the current frame and wakes all waiters.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	cur := h.cur
	h.cur = Frame{}
	h.mu.Unlock()

	cur.Close()
	h.cond.Broadcast()
}
