// Package app wires the capture, detection, recognition and recording stages of a watchpost node.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/face"
	"github.com/ayusman/watchpost/internal/logging"
	"github.com/ayusman/watchpost/internal/metrics"
	"github.com/ayusman/watchpost/internal/notify"
	"github.com/ayusman/watchpost/internal/recorder"
	"github.com/ayusman/watchpost/internal/store"
)

// Pipeline timing defaults.
const (
	// DefaultBackoff is the pause after the camera had no frame ready.
	DefaultBackoff = 200 * time.Millisecond
	// DefaultFPSInterval is how often the capture rate is sampled.
	DefaultFPSInterval = time.Second
)

// ErrStarted is returned by Run on an App that has already run. Hubs are closed on shutdown.
var ErrStarted = errors.New("pipeline already started")

// Config holds the handles the pipeline drives. Recorder, PreRoll, Motion, Metrics
// and Notifier are optional.
type Config struct {
	Camera     capture.Camera
	Detector   detector.Detector
	Recognizer *face.Recognizer
	Queue      *store.Queue

	Recorder *recorder.Controller
	PreRoll  *capture.PreRoll
	Motion   *capture.MotionGate
	FPS      *metrics.FPSMeter
	Metrics  *metrics.PipelineMetrics
	Notifier *notify.Notifier

	TargetFPS float64
	Backoff   time.Duration
}

// App is the pipeline orchestrator. It owns the frame hubs and the detection signal
// shared between stages.
type App struct {
	config    Config
	frames    *capture.Hub
	annotated *capture.Hub
	signal    atomic.Bool
	log       *slog.Logger

	mu      sync.Mutex
	started bool
}

// New creates a new App. Missing timing values fall back to defaults.
func New(config Config) *App {
	if config.TargetFPS <= 0 {
		config.TargetFPS = capture.DefaultFPS
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultBackoff
	}
	if config.FPS == nil {
		config.FPS = metrics.NewFPSMeter(DefaultFPSInterval, nil)
	}

	a := &App{
		config:    config,
		frames:    capture.NewHub(),
		annotated: capture.NewHub(),
		log:       logging.ForService("app"),
	}

	if config.Metrics != nil {
		config.Recognizer.AddListener(config.Metrics)
		if config.Recorder != nil {
			config.Recorder.AddListener(config.Metrics)
		}
	}
	if config.Notifier != nil {
		config.Recognizer.AddListener(config.Notifier)
		if config.Recorder != nil {
			config.Recorder.AddListener(config.Notifier)
		}
	}
	return a
}

// Frames returns the hub carrying raw camera frames.
func (a *App) Frames() *capture.Hub { return a.frames }

// Annotated returns the hub carrying frames with detections drawn on them.
func (a *App) Annotated() *capture.Hub { return a.annotated }

// Recognizer returns the recognition stage, which also serves enrollment.
func (a *App) Recognizer() *face.Recognizer { return a.config.Recognizer }

// Detector returns the face detector.
func (a *App) Detector() detector.Detector { return a.config.Detector }

// Queue returns the persistence queue.
func (a *App) Queue() *store.Queue { return a.config.Queue }

// FaceDetected reports whether the last processed frame contained a face.
func (a *App) FaceDetected() bool { return a.signal.Load() }

// FPS returns the last measured capture rate.
func (a *App) FPS() float64 { return a.config.FPS.FPS() }

// RecorderState returns the recording controller state, or "disabled".
func (a *App) RecorderState() string {
	if a.config.Recorder == nil {
		return "disabled"
	}
	return a.config.Recorder.State().String()
}

// stage is one pipeline goroutine with its own cancellation.
type stage struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func (a *App) launch(parent context.Context, name string, fn func(ctx context.Context) error) *stage {
	ctx, cancel := context.WithCancel(parent)
	s := &stage{name: name, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		s.err = fn(ctx)
		if s.err != nil {
			a.log.Error("stage failed", "stage", name, "error", s.err)
		}
	}()
	return s
}

// stop cancels the stage and waits for it to return.
func (s *stage) stop() error {
	s.cancel()
	<-s.done
	return s.err
}

// Run opens the camera, loads the gallery and runs every stage until ctx ends or capture
// fails. serve, when not nil, runs alongside and is shut down first.
// Stages stop in order: serve, capture, recognition, detection, recording, persistence, fps.
func (a *App) Run(ctx context.Context, serve func(context.Context) error) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrStarted
	}
	a.started = true
	a.mu.Unlock()

	if err := a.config.Camera.Open(); err != nil {
		return fmt.Errorf("failed to open camera: %w", err)
	}
	defer a.config.Camera.Close()

	a.config.Queue.Start()
	if err := a.config.Recognizer.Reload(ctx); err != nil {
		a.config.Queue.Stop()
		return fmt.Errorf("failed to load gallery: %w", err)
	}

	// Stages run on a context detached from ctx so shutdown can proceed in order.
	base := context.WithoutCancel(ctx)

	fps := a.launch(base, "fps", func(ctx context.Context) error {
		a.config.FPS.Run(ctx)
		return nil
	})
	var notifier *stage
	if a.config.Notifier != nil {
		notifier = a.launch(base, "notify", func(ctx context.Context) error {
			a.config.Notifier.Run(ctx)
			return nil
		})
	}
	var recording *stage
	if a.config.Recorder != nil {
		recording = a.launch(base, "recording", a.runRecording)
	}
	detection := a.launch(base, "detection", a.runDetection)
	recognition := a.launch(base, "recognition", func(ctx context.Context) error {
		a.config.Recognizer.Run(ctx)
		return nil
	})
	capturing := a.launch(base, "capture", a.runCapture)
	var server *stage
	if serve != nil {
		server = a.launch(base, "server", serve)
	}

	a.log.Info("pipeline started", "target_fps", a.config.TargetFPS)

	var runErr error
	select {
	case <-ctx.Done():
	case <-capturing.done:
		runErr = capturing.err
	}

	if server != nil {
		server.stop()
	}
	capturing.stop()
	a.frames.Close()
	recognition.stop()
	detection.stop()
	a.annotated.Close()
	if recording != nil {
		recording.stop()
		if err := a.config.Recorder.Close(); err != nil {
			a.log.Warn("failed to close recording", "error", err)
		}
	}
	a.config.Queue.Stop()
	fps.stop()
	if notifier != nil {
		notifier.stop()
	}
	if a.config.PreRoll != nil {
		a.config.PreRoll.Close()
	}

	a.log.Info("pipeline stopped")
	return runErr
}
