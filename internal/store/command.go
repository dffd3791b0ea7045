package store

import (
	"context"
	"database/sql"
	"sync/atomic"
)

// Priority orders commands in the Queue. Higher tiers run first.
type Priority int

const (
	Low Priority = iota
	Medium
	High
)

func (p Priority) String() string {
	switch p {
	case High:
		return "high"
	case Medium:
		return "medium"
	case Low:
		return "low"
	default:
		return "unknown"
	}
}

// Command is a unit of database work executed by the Queue worker.
// The variants are InsertIdentity, InsertEmbedding, QueryNames and QueryEmbeddings.
type Command interface {
	Priority() Priority
	// Kind names the variant for logs and metrics.
	Kind() string

	statement() string
	// run binds parameters, executes stmt and scans rows. It completes the
	// result before returning and reports the same error.
	run(ctx context.Context, stmt *sql.Stmt) error
	fail(err error)
}

// Result carries the outcome of a command.
type Result[T any] struct {
	Value T
	Err   error
}

// pending is the completion half shared by all command variants.
// The result is delivered exactly once on a buffered channel, so the worker never blocks on it.
type pending[T any] struct {
	priority Priority
	done     chan Result[T]

	// completed guards against a second delivery.
	completed int32
}

func newPending[T any](p Priority) pending[T] {
	return pending[T]{priority: p, done: make(chan Result[T], 1)}
}

// Priority returns the command's tier.
func (p *pending[T]) Priority() Priority { return p.priority }

// Done returns the channel that receives the single result.
func (p *pending[T]) Done() <-chan Result[T] { return p.done }

// Wait blocks until the command completes or ctx ends.
func (p *pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case r := <-p.done:
		return r.Value, r.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *pending[T]) complete(v T, err error) {
	if atomic.CompareAndSwapInt32(&p.completed, 0, 1) {
		p.done <- Result[T]{Value: v, Err: err}
	}
}

func (p *pending[T]) fail(err error) {
	var zero T
	p.complete(zero, err)
}
