package face

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/logging"
	"github.com/ayusman/watchpost/internal/store"
)

// maxPending bounds the recognition backlog; the oldest job is dropped first.
const maxPending = 8

// recentTTL is how long a recognition stays in Recent for annotation.
const recentTTL = 2 * time.Second

// Job is a frame and the faces found in it. The recognizer owns Frame once submitted.
type Job struct {
	Frame capture.Frame
	Faces []detector.FaceBox
}

// Recognition is a face matched to a gallery identity.
type Recognition struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Similarity float32         `json:"similarity"`
	Box        image.Rectangle `json:"box"`
	Time       time.Time       `json:"time"`
}

// Listener receives every recognition. It is called from the recognizer goroutine and must not block.
type Listener interface {
	Recognized(r Recognition)
}

// EnrollRequest names one detected face.
type EnrollRequest struct {
	FaceIndex int    `json:"face_index"`
	Name      string `json:"name"`
}

// Recognizer is the recognition stage: it aligns, embeds and matches queued faces, and
// handles enrollment through the persistence queue.
type Recognizer struct {
	embedder *Embedder
	gallery  *Gallery
	queue    *store.Queue
	log      *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	jobs    []Job
	reload  bool
	stopped atomic.Bool

	listenerMu sync.RWMutex
	listeners  []Listener

	recentMu sync.Mutex
	recent   []Recognition

	processed atomic.Uint64
	dropped   atomic.Uint64
}

// NewRecognizer creates a recognizer. The embedder is not owned.
func NewRecognizer(embedder *Embedder, gallery *Gallery, queue *store.Queue) *Recognizer {
	r := &Recognizer{
		embedder: embedder,
		gallery:  gallery,
		queue:    queue,
		log:      logging.ForService("recognizer"),
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// AddListener registers l. It is safe to call while Run is active.
func (r *Recognizer) AddListener(l Listener) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Gallery returns the gallery matched against.
func (r *Recognizer) Gallery() *Gallery { return r.gallery }

// Submit queues a job. Jobs without faces are released immediately and schedule no work.
func (r *Recognizer) Submit(job Job) {
	if len(job.Faces) == 0 {
		job.Frame.Close()
		return
	}

	r.mu.Lock()
	if r.stopped.Load() {
		r.mu.Unlock()
		job.Frame.Close()
		return
	}
	if len(r.jobs) >= maxPending {
		r.jobs[0].Frame.Close()
		r.jobs = r.jobs[1:]
		r.dropped.Add(1)
	}
	r.jobs = append(r.jobs, job)
	r.mu.Unlock()

	r.cond.Signal()
}

// Pending returns the number of queued jobs.
func (r *Recognizer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Processed returns how many jobs have been handled.
func (r *Recognizer) Processed() uint64 { return r.processed.Load() }

// Dropped returns how many jobs were discarded because the backlog was full.
func (r *Recognizer) Dropped() uint64 { return r.dropped.Load() }

// RequestReload asks the worker to reload the gallery before its next job.
func (r *Recognizer) RequestReload() {
	r.mu.Lock()
	r.reload = true
	r.mu.Unlock()
	r.cond.Signal()
}

// Stop wakes the worker and makes Run return. Pending jobs are released.
func (r *Recognizer) Stop() {
	r.stopped.Store(true)
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Run processes jobs until Stop is called or ctx ends.
func (r *Recognizer) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, r.Stop)
	defer stop()

	r.log.Info("recognizer started")
	defer r.log.Info("recognizer stopped")

	for {
		job, reload, ok := r.next()
		if !ok {
			r.release()
			return
		}

		if reload {
			if err := r.Reload(ctx); err != nil {
				r.log.Error("gallery reload failed", "error", err)
			}
			continue
		}

		r.process(job)
		job.Frame.Close()
		r.processed.Add(1)
	}
}

// next blocks until there is a reload request or a job. Reloads take precedence.
func (r *Recognizer) next() (Job, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.jobs) == 0 && !r.reload && !r.stopped.Load() {
		r.cond.Wait()
	}
	if r.stopped.Load() {
		return Job{}, false, false
	}
	if r.reload {
		r.reload = false
		return Job{}, true, true
	}

	job := r.jobs[0]
	r.jobs = r.jobs[1:]
	return job, false, true
}

func (r *Recognizer) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.jobs {
		r.jobs[i].Frame.Close()
	}
	r.jobs = nil
}

func (r *Recognizer) process(job Job) {
	if job.Frame.Empty() || r.gallery.Len() == 0 {
		return
	}

	for _, f := range job.Faces {
		emb, err := r.embedFace(*job.Frame.Mat, f)
		if err != nil {
			r.log.Warn("embedding failed", "error", err)
			continue
		}

		m, ok, err := r.gallery.Match(emb)
		if err != nil {
			r.log.Warn("match failed", "error", err)
			continue
		}
		if !ok {
			continue
		}

		rec := Recognition{
			ID:         uuid.NewString(),
			Name:       m.Name,
			Similarity: m.Similarity,
			Box:        f.Rect,
			Time:       job.Frame.Time,
		}
		r.log.Debug("recognized", "name", rec.Name, "similarity", rec.Similarity)
		r.remember(rec)
		r.listenerMu.RLock()
		listeners := r.listeners
		r.listenerMu.RUnlock()
		for _, l := range listeners {
			l.Recognized(rec)
		}
	}
}

func (r *Recognizer) embedFace(src gocv.Mat, f detector.FaceBox) (Embedding, error) {
	crop, err := Align(src, f.Landmarks)
	if err != nil {
		return nil, err
	}
	defer crop.Close()
	return r.embedder.Embed(crop)
}

func (r *Recognizer) remember(rec Recognition) {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()

	cutoff := rec.Time.Add(-recentTTL)
	kept := r.recent[:0]
	for _, old := range r.recent {
		if old.Time.After(cutoff) {
			kept = append(kept, old)
		}
	}
	r.recent = append(kept, rec)
}

// Recent returns recognitions made within the last couple of seconds before now.
func (r *Recognizer) Recent(now time.Time) []Recognition {
	r.recentMu.Lock()
	defer r.recentMu.Unlock()

	cutoff := now.Add(-recentTTL)
	var out []Recognition
	for _, rec := range r.recent {
		if rec.Time.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out
}

// Reload replaces the gallery with every stored embedding, queried at High priority.
func (r *Recognizer) Reload(ctx context.Context) error {
	cmd := store.NewQueryEmbeddings(store.High)
	if err := r.queue.Push(cmd); err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}
	records, err := cmd.Wait(ctx)
	if err != nil {
		return fmt.Errorf("query embeddings: %w", err)
	}

	skipped := r.gallery.Replace(records)
	if skipped > 0 {
		r.log.Warn("skipped stored embeddings", "count", skipped, "dim", r.gallery.Dim())
	}
	r.log.Info("gallery loaded", "identities", r.gallery.Len(), "embeddings", len(records)-skipped)
	return nil
}

// Enroll embeds the requested faces of src and stores them. src and faces come from one
// detection pass; names are normalized. All requests are validated before anything is stored.
// A gallery reload is requested whenever at least one insert completed, even if a later one failed;
// the names stored so far are returned alongside the error.
func (r *Recognizer) Enroll(ctx context.Context, src gocv.Mat, faces []detector.FaceBox, reqs []EnrollRequest) ([]string, error) {
	type enrollment struct {
		name string
		emb  Embedding
	}

	todo := make([]enrollment, 0, len(reqs))
	for _, req := range reqs {
		if req.FaceIndex < 0 || req.FaceIndex >= len(faces) {
			return nil, fmt.Errorf("%w: %d of %d", ErrFaceIndex, req.FaceIndex, len(faces))
		}
		name, err := NormalizeName(req.Name)
		if err != nil {
			return nil, err
		}
		todo = append(todo, enrollment{name: name})
	}

	for i, req := range reqs {
		emb, err := r.embedFace(src, faces[req.FaceIndex])
		if err != nil {
			return nil, fmt.Errorf("embed face %d: %w", req.FaceIndex, err)
		}
		todo[i].emb = emb
	}

	registered := make([]string, 0, len(todo))
	defer func() {
		if len(registered) > 0 {
			r.RequestReload()
		}
	}()
	for _, e := range todo {
		if err := r.persist(ctx, e.name, e.emb, "enroll"); err != nil {
			return registered, err
		}
		registered = append(registered, e.name)
	}
	return registered, nil
}

func (r *Recognizer) reloadRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reload
}

// persist inserts the identity and then the embedding at Medium priority, waiting for both.
func (r *Recognizer) persist(ctx context.Context, name string, emb Embedding, source string) error {
	ident := store.NewInsertIdentity(name, store.Medium)
	if err := r.queue.Push(ident); err != nil {
		return fmt.Errorf("insert identity %q: %w", name, err)
	}
	if _, err := ident.Wait(ctx); err != nil {
		return fmt.Errorf("insert identity %q: %w", name, err)
	}

	ins := store.NewInsertEmbedding(name, emb, source, store.Medium)
	if err := r.queue.Push(ins); err != nil {
		return fmt.Errorf("insert embedding %q: %w", name, err)
	}
	if _, err := ins.Wait(ctx); err != nil {
		return fmt.Errorf("insert embedding %q: %w", name, err)
	}
	return nil
}
