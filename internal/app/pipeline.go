package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/face"
)

// runCapture reads the camera at the target rate and publishes every frame to the
// frame hub and the pre-roll ring. A read error other than ErrNoFrame ends the pipeline.
func (a *App) runCapture(ctx context.Context) error {
	limiter := rate.NewLimiter(rate.Limit(a.config.TargetFPS), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil
		}

		frame, err := a.config.Camera.ReadFrame()
		if errors.Is(err, capture.ErrNoFrame) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(a.config.Backoff):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}

		a.config.FPS.Tick()
		if a.config.Metrics != nil {
			a.config.Metrics.FrameCaptured()
		}
		if a.config.PreRoll != nil {
			a.config.PreRoll.Push(frame.Clone())
		}
		a.frames.Publish(frame)
	}
}

// runDetection processes the newest frame each time one is published. Frames that
// arrive while a detection is running are skipped.
func (a *App) runDetection(ctx context.Context) error {
	var seq uint64
	for {
		frame, err := a.frames.Wait(ctx, seq)
		if err != nil {
			return nil
		}
		seq = frame.Seq
		a.detect(frame)
	}
}

// detect runs the detector on frame, updates the detection signal, hands faces to the
// recognizer and publishes the annotated frame. It closes frame.
func (a *App) detect(frame capture.Frame) {
	defer frame.Close()

	if a.config.Motion != nil {
		if open, _ := a.config.Motion.Open(frame); !open {
			a.signal.Store(false)
			a.publishAnnotated(frame, nil)
			return
		}
	}

	start := time.Now()
	faces, err := a.config.Detector.Detect(frame)
	if err != nil {
		a.log.Warn("detection failed", "error", err)
		a.signal.Store(false)
		return
	}
	if a.config.Metrics != nil {
		a.config.Metrics.ObserveDetection(time.Since(start), len(faces))
	}

	a.signal.Store(len(faces) > 0)
	if len(faces) > 0 {
		a.config.Recognizer.Submit(face.Job{Frame: frame.Clone(), Faces: faces})
	}
	a.publishAnnotated(frame, faces)
}

// runRecording feeds every published frame with the current detection signal to the
// recording controller. When no frame arrives within the tick interval the controller
// is ticked so the deactivate window still closes a session.
func (a *App) runRecording(ctx context.Context) error {
	rec := a.config.Recorder
	interval := rec.TickInterval()

	var seq uint64
	for {
		waitCtx, cancel := context.WithTimeout(ctx, interval)
		frame, err := a.frames.Wait(waitCtx, seq)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			rec.Tick()
			continue
		}
		if err != nil {
			return nil
		}
		seq = frame.Seq
		rec.Step(a.signal.Load(), frame)
	}
}
