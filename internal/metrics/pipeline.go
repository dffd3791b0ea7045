package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ayusman/watchpost/internal/face"
	"github.com/ayusman/watchpost/internal/recorder"
)

// PipelineMetrics covers capture, detection, recognition and recording.
type PipelineMetrics struct {
	framesCaptured    prometheus.Counter
	captureFPS        prometheus.Gauge
	detectionDuration prometheus.Histogram
	facesDetected     prometheus.Counter
	recognitions      *prometheus.CounterVec
	similarity        prometheus.Histogram
	recording         prometheus.Gauge
	recordingsTotal   prometheus.Counter
	recordedFrames    prometheus.Counter

	collectors []prometheus.Collector
}

// NewPipelineMetrics creates the pipeline collectors and registers them.
func NewPipelineMetrics(registry *prometheus.Registry) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.framesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchpost_frames_captured_total",
		Help: "Total number of frames read from the camera",
	})
	m.captureFPS = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchpost_capture_fps",
		Help: "Measured capture rate in frames per second",
	})
	m.detectionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watchpost_detection_duration_seconds",
		Help:    "Time spent detecting faces in one frame",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})
	m.facesDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchpost_faces_detected_total",
		Help: "Total number of faces detected",
	})
	m.recognitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watchpost_recognitions_total",
		Help: "Total number of faces matched to a gallery identity",
	}, []string{"name"})
	m.similarity = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watchpost_recognition_similarity",
		Help:    "Cosine similarity of matched faces",
		Buckets: prometheus.LinearBuckets(0.5, 0.05, 10),
	})
	m.recording = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "watchpost_recording_active",
		Help: "1 while a recording session is open",
	})
	m.recordingsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchpost_recordings_total",
		Help: "Total number of recording sessions started",
	})
	m.recordedFrames = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "watchpost_recorded_frames_total",
		Help: "Total number of frames written to finished recordings",
	})

	m.collectors = []prometheus.Collector{
		m.framesCaptured,
		m.captureFPS,
		m.detectionDuration,
		m.facesDetected,
		m.recognitions,
		m.similarity,
		m.recording,
		m.recordingsTotal,
		m.recordedFrames,
	}
}

// Describe implements prometheus.Collector.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors {
		c.Collect(ch)
	}
}

// FrameCaptured counts one camera frame.
func (m *PipelineMetrics) FrameCaptured() {
	m.framesCaptured.Inc()
}

// SetFPS records the measured capture rate.
func (m *PipelineMetrics) SetFPS(fps float64) {
	m.captureFPS.Set(fps)
}

// ObserveDetection records one detector pass.
func (m *PipelineMetrics) ObserveDetection(d time.Duration, faces int) {
	m.detectionDuration.Observe(d.Seconds())
	m.facesDetected.Add(float64(faces))
}

// Recognized implements face.Listener.
func (m *PipelineMetrics) Recognized(r face.Recognition) {
	m.recognitions.WithLabelValues(r.Name).Inc()
	m.similarity.Observe(float64(r.Similarity))
}

// RecordingStarted implements recorder.Listener.
func (m *PipelineMetrics) RecordingStarted(recorder.Session) {
	m.recording.Set(1)
	m.recordingsTotal.Inc()
}

// RecordingStopped implements recorder.Listener.
func (m *PipelineMetrics) RecordingStopped(s recorder.Session) {
	m.recording.Set(0)
	m.recordedFrames.Add(float64(s.Frames))
}
