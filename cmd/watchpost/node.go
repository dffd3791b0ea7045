package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ayusman/watchpost/internal/app"
	"github.com/ayusman/watchpost/internal/capture"
	"github.com/ayusman/watchpost/internal/config"
	"github.com/ayusman/watchpost/internal/detector"
	"github.com/ayusman/watchpost/internal/face"
	"github.com/ayusman/watchpost/internal/hook"
	"github.com/ayusman/watchpost/internal/inference"
	"github.com/ayusman/watchpost/internal/metrics"
	"github.com/ayusman/watchpost/internal/notify"
	"github.com/ayusman/watchpost/internal/recorder"
	"github.com/ayusman/watchpost/internal/server"
	"github.com/ayusman/watchpost/internal/store"
)

// node is a fully wired watchpost instance.
type node struct {
	app        *app.App
	server     *server.Server
	recognizer *face.Recognizer
	recorder   *recorder.Controller
	mqtt       *notify.MQTTPublisher
	closers    []func() error
}

// Close releases models and the database in reverse order of acquisition.
func (n *node) Close() error {
	var errs []error
	for i := len(n.closers) - 1; i >= 0; i-- {
		errs = append(errs, n.closers[i]())
	}
	return errors.Join(errs...)
}

// openQueue opens the store and wraps it in a persistence queue. The queue is not started.
func openQueue(s *config.Settings) (*store.Store, *store.Queue, error) {
	if err := os.MkdirAll(filepath.Dir(s.Store.Path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.New(s.Store.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, store.NewQueue(st), nil
}

// buildNode loads the models, opens the store and wires every stage. Any failure is fatal.
func buildNode(s *config.Settings) (_ *node, err error) {
	n := &node{}
	defer func() {
		if err != nil {
			n.Close()
		}
	}()

	m, err := metrics.NewMetrics()
	if err != nil {
		return nil, err
	}

	st, queue, err := openQueue(s)
	if err != nil {
		return nil, err
	}
	n.closers = append(n.closers, st.Close)
	queue.SetObserver(m.Store)

	detNet, err := inference.Load(inference.ModelConfig{
		Model:   s.Detector.Model,
		Config:  s.Detector.Config,
		Outputs: detector.OutputLayers(),
	})
	if err != nil {
		return nil, fmt.Errorf("detector model: %w", err)
	}
	det := detector.NewRetinaFace(detNet, detector.Config{
		InputSize:      s.Detector.InputSize,
		ScoreThreshold: s.Detector.Threshold,
		NMSThreshold:   s.Detector.NMSThreshold,
	})
	n.closers = append(n.closers, det.Close)

	embNet, err := inference.Load(inference.ModelConfig{
		Model:   s.Recognition.Model,
		Config:  s.Recognition.Config,
		Outputs: []string{s.Recognition.Output},
	})
	if err != nil {
		return nil, fmt.Errorf("recognition model: %w", err)
	}
	embedder := face.NewEmbedder(embNet, s.Recognition.Output)
	n.closers = append(n.closers, embedder.Close)

	n.recognizer = face.NewRecognizer(embedder, face.NewGallery(s.Recognition.Threshold), queue)

	fps := metrics.NewFPSMeter(app.DefaultFPSInterval, m.Pipeline.SetFPS)

	var preroll *capture.PreRoll
	if s.Recording.Enabled {
		preroll = capture.NewPreRoll(s.Recording.PreRoll)
		n.recorder = recorder.NewController(recorder.Config{
			Activate:   s.Recording.Activate,
			Deactivate: s.Recording.Deactivate,
		}, recorder.FileOpener{Dir: s.Recording.Dir, Codec: s.Recording.Codec}, preroll, fps.FPS)
	}

	var motion *capture.MotionGate
	if s.Detector.MotionGate {
		motion = capture.NewMotionGate(s.Detector.MotionThreshold, capture.DefaultMotionHold)
		n.closers = append(n.closers, func() error { motion.Close(); return nil })
	}

	events := server.NewEventsHandler()
	publishers := []notify.Publisher{events}
	if s.MQTT.Enabled {
		n.mqtt = notify.NewMQTTPublisher(notify.MQTTConfig{
			Broker:   s.MQTT.Broker,
			ClientID: s.MQTT.ClientID,
			Username: s.MQTT.Username,
			Password: s.MQTT.Password,
			Topic:    s.MQTT.Topic,
		})
		publishers = append(publishers, n.mqtt)
		n.closers = append(n.closers, func() error { n.mqtt.Close(); return nil })
	}

	hooks := hook.NewManager(s.Hooks.Dir)
	if err := hooks.Discover(); err != nil {
		return nil, fmt.Errorf("failed to discover hooks: %w", err)
	}
	if len(hooks.List()) > 0 {
		publishers = append(publishers, hook.NewPublisher(hooks, hook.NewExecutor(s.Hooks.Timeout)))
	}

	n.app = app.New(app.Config{
		Camera: capture.NewCamera(capture.CameraConfig{
			Device:   s.Camera.Device,
			Pipeline: s.Camera.Pipeline,
			Width:    s.Camera.Width,
			Height:   s.Camera.Height,
			FPS:      int(s.Camera.TargetFPS),
		}),
		Detector:   det,
		Recognizer: n.recognizer,
		Queue:      queue,
		Recorder:   n.recorder,
		PreRoll:    preroll,
		Motion:     motion,
		FPS:        fps,
		Metrics:    m.Pipeline,
		Notifier:   notify.New(s.Recognition.EventTTL, publishers...),
		TargetFPS:  s.Camera.TargetFPS,
		Backoff:    s.Camera.Backoff,
	})

	staticDir := s.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir(s.DataDir)
	}

	n.server = server.New(server.Config{
		StaticDir: staticDir,
		Frames:    n.app.Frames(),
		Annotated: n.app.Annotated(),
		StreamFPS: s.Server.StreamFPS,
		Streaming: s.Server.Streaming,
		Detector:  det,
		Enroller:  n.recognizer,
		Queue:     queue,
		Events:    events,
		Metrics:   m.Handler(),
		Status: func() server.Status {
			return server.Status{
				GallerySize: n.recognizer.Gallery().Len(),
				Recorder:    n.app.RecorderState(),
				FPS:         n.app.FPS(),
			}
		},
	})

	return n, nil
}

// run starts the pipeline and HTTP server and blocks until ctx ends.
func (n *node) run(ctx context.Context, addr string) error {
	return n.app.Run(ctx, func(ctx context.Context) error {
		return n.server.Run(ctx, addr)
	})
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <datadir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
