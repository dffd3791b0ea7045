// Package notify fans recognition and recording events out to subscribers.
package notify

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/ayusman/watchpost/internal/face"
	"github.com/ayusman/watchpost/internal/logging"
	"github.com/ayusman/watchpost/internal/recorder"
)

// Event types.
const (
	TypeRecognition      = "recognition"
	TypeRecordingStarted = "recording_started"
	TypeRecordingStopped = "recording_stopped"
)

// DefaultTTL is how long repeat recognitions of one name are suppressed.
const DefaultTTL = 30 * time.Second

const queueSize = 64

// Event is one notification.
type Event struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Time       time.Time        `json:"time"`
	Name       string           `json:"name,omitempty"`
	Similarity float32          `json:"similarity,omitempty"`
	Box        *image.Rectangle `json:"box,omitempty"`
	Session    string           `json:"session,omitempty"`
	Path       string           `json:"path,omitempty"`
	Frames     int              `json:"frames,omitempty"`
}

// Publisher delivers events to one destination.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Notifier deduplicates recognitions per name and delivers events to publishers
// from its own goroutine so producers never block.
type Notifier struct {
	seen       *cache.Cache
	ttl        time.Duration
	publishers []Publisher
	events     chan Event
	log        *slog.Logger

	mu      sync.Mutex
	dropped int
}

// New creates a notifier suppressing repeat recognitions for ttl.
func New(ttl time.Duration, publishers ...Publisher) *Notifier {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Notifier{
		// no janitor goroutine; expired entries are swept on insert
		seen:       cache.New(ttl, 0),
		ttl:        ttl,
		publishers: publishers,
		events:     make(chan Event, queueSize),
		log:        logging.ForService("notify"),
	}
}

// Recognized implements face.Listener.
func (n *Notifier) Recognized(r face.Recognition) {
	n.seen.DeleteExpired()
	if err := n.seen.Add(r.Name, r.ID, n.ttl); err != nil {
		return
	}

	box := r.Box
	n.enqueue(Event{
		ID:         r.ID,
		Type:       TypeRecognition,
		Time:       r.Time,
		Name:       r.Name,
		Similarity: r.Similarity,
		Box:        &box,
	})
}

// RecordingStarted implements recorder.Listener.
func (n *Notifier) RecordingStarted(s recorder.Session) {
	n.enqueue(Event{
		ID:      uuid.NewString(),
		Type:    TypeRecordingStarted,
		Time:    s.Start,
		Session: s.ID,
		Path:    s.Path,
	})
}

// RecordingStopped implements recorder.Listener.
func (n *Notifier) RecordingStopped(s recorder.Session) {
	n.enqueue(Event{
		ID:      uuid.NewString(),
		Type:    TypeRecordingStopped,
		Time:    s.LastPositive,
		Session: s.ID,
		Path:    s.Path,
		Frames:  s.Frames,
	})
}

func (n *Notifier) enqueue(e Event) {
	select {
	case n.events <- e:
	default:
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.log.Warn("event queue full, dropping event", "type", e.Type)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Run delivers queued events until ctx ends.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-n.events:
			for _, p := range n.publishers {
				if err := p.Publish(ctx, e); err != nil {
					n.log.Warn("failed to publish event", "type", e.Type, "error", err)
				}
			}
		}
	}
}
