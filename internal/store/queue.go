package store

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/watchpost/internal/logging"
)

// ErrQueueClosed is returned by Push after Stop has been called.
var ErrQueueClosed = errors.New("persistence queue is closed")

// QueueObserver receives per-command timings and queue depth. Implemented by the metrics package.
type QueueObserver interface {
	ObserveCommand(kind string, priority string, d time.Duration, err error)
	SetQueueDepth(n int)
}

// Queue serializes database commands onto a single worker goroutine.
// Commands run highest priority first and in submission order within a priority.
type Queue struct {
	db       *Store
	log      *slog.Logger
	observer QueueObserver

	mu      sync.Mutex
	cond    *sync.Cond
	items   commandHeap
	seq     uint64
	closed  bool
	started bool
	done    chan struct{}
}

// NewQueue creates a queue over s. Commands may be pushed before Start.
func NewQueue(s *Store) *Queue {
	q := &Queue{
		db:   s,
		log:  logging.ForService("store"),
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetObserver attaches metrics. Must be called before Start.
func (q *Queue) SetObserver(o QueueObserver) {
	q.observer = o
}

// Start launches the worker. Calling Start more than once has no effect.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	go q.worker()
}

// Push enqueues cmd and wakes the worker. It never blocks on command execution.
func (q *Queue) Push(cmd Command) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		cmd.fail(ErrQueueClosed)
		return ErrQueueClosed
	}
	q.seq++
	heap.Push(&q.items, &queued{cmd: cmd, seq: q.seq})
	depth := q.items.Len()
	q.mu.Unlock()

	q.cond.Signal()
	if q.observer != nil {
		q.observer.SetQueueDepth(depth)
	}
	return nil
}

// Len returns the number of commands waiting to run.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Stop rejects further pushes, lets the worker drain what is already queued, and waits for it to exit.
// Commands still queued when the worker was never started are failed with ErrQueueClosed.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		started := q.started
		q.mu.Unlock()
		if started {
			<-q.done
		}
		return
	}
	q.closed = true
	started := q.started
	var orphans []*queued
	if !started {
		for q.items.Len() > 0 {
			orphans = append(orphans, heap.Pop(&q.items).(*queued))
		}
	}
	q.mu.Unlock()

	if !started {
		for _, it := range orphans {
			it.cmd.fail(ErrQueueClosed)
		}
		return
	}

	q.cond.Broadcast()
	<-q.done
}

func (q *Queue) worker() {
	defer close(q.done)

	for {
		q.mu.Lock()
		for q.items.Len() == 0 && !q.closed {
			q.cond.Wait()
		}
		if q.items.Len() == 0 {
			q.mu.Unlock()
			q.log.Debug("persistence worker exiting")
			return
		}
		it := heap.Pop(&q.items).(*queued)
		depth := q.items.Len()
		q.mu.Unlock()

		if q.observer != nil {
			q.observer.SetQueueDepth(depth)
		}
		q.execute(it.cmd)
	}
}

// execute prepares the statement and lets the command bind, run and complete itself.
// A prepare failure drops the command without affecting later ones.
func (q *Queue) execute(cmd Command) {
	ctx := context.Background()
	start := time.Now()

	stmt, err := q.db.DB().PrepareContext(ctx, cmd.statement())
	if err != nil {
		q.log.Error("failed to prepare statement",
			"kind", cmd.Kind(),
			"priority", cmd.Priority().String(),
			"error", err)
		err = fmt.Errorf("prepare %s: %w", cmd.Kind(), err)
		cmd.fail(err)
		q.observe(cmd, start, err)
		return
	}
	defer stmt.Close()

	if err := cmd.run(ctx, stmt); err != nil {
		q.log.Warn("command failed", "kind", cmd.Kind(), "error", err)
		q.observe(cmd, start, err)
		return
	}
	q.observe(cmd, start, nil)
}

func (q *Queue) observe(cmd Command, start time.Time, err error) {
	if q.observer != nil {
		q.observer.ObserveCommand(cmd.Kind(), cmd.Priority().String(), time.Since(start), err)
	}
}

type queued struct {
	cmd Command
	seq uint64
}

// commandHeap is a max-heap on priority and a min-heap on sequence.
type commandHeap []*queued

func (h commandHeap) Len() int { return len(h) }

func (h commandHeap) Less(i, j int) bool {
	pi, pj := h[i].cmd.Priority(), h[j].cmd.Priority()
	if pi != pj {
		return pi > pj
	}
	return h[i].seq < h[j].seq
}

func (h commandHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *commandHeap) Push(x any) { *h = append(*h, x.(*queued)) }

func (h *commandHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
