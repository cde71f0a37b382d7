package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics. Every recording method is safe on a
// nil receiver so callers may run without metrics.
type Metrics struct {
	// Input counters
	ImagesProcessed     atomic.Uint64
	VideosProcessed     atomic.Uint64
	FramesRead          atomic.Uint64
	FramesSampled       atomic.Uint64
	FramesPassedThrough atomic.Uint64
	LiveFrames          atomic.Uint64

	// Detection counters
	RawDetections       atomic.Uint64
	DetectionsKept      atomic.Uint64
	DiscardedUnknown    atomic.Uint64
	DiscardedBelowFloor atomic.Uint64
	HighSeverityFrames  atomic.Uint64
	CautionFrames       atomic.Uint64

	// Error counters
	InferenceErrors atomic.Uint64
	VideoErrors     atomic.Uint64
	UploadErrors    atomic.Uint64

	// Latency tracking
	InferenceLatencyMs atomic.Uint64 // Last inference latency in ms
	FrameLatencyMs     atomic.Uint64 // Last end-to-end frame latency in ms

	// Live stream clients
	ActiveClients atomic.Uint64
	TotalClients  atomic.Uint64

	// Alerts
	AlertsPublished  atomic.Uint64
	AlertsSuppressed atomic.Uint64
	AlertErrors      atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) gauge(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	// Input metrics
	m.gauge("wildlife_images_processed_total", "Total still images run through detection", &m.ImagesProcessed)
	m.gauge("wildlife_videos_processed_total", "Total video files processed to completion", &m.VideosProcessed)
	m.gauge("wildlife_frames_read_total", "Total frames read from video files", &m.FramesRead)
	m.gauge("wildlife_frames_sampled_total", "Total video frames sent through detection", &m.FramesSampled)
	m.gauge("wildlife_frames_passed_through_total", "Total video frames copied unmodified", &m.FramesPassedThrough)
	m.gauge("wildlife_live_frames_total", "Total live camera frames processed", &m.LiveFrames)

	// Detection metrics
	m.gauge("wildlife_raw_detections_total", "Total detections returned by the model", &m.RawDetections)
	m.gauge("wildlife_detections_kept_total", "Total detections kept after per-class filtering", &m.DetectionsKept)
	m.gauge("wildlife_detections_unknown_class_total", "Total detections dropped for an unknown class", &m.DiscardedUnknown)
	m.gauge("wildlife_detections_below_floor_total", "Total detections dropped below their class floor", &m.DiscardedBelowFloor)
	m.gauge("wildlife_high_severity_frames_total", "Total frames carrying a large mammal warning", &m.HighSeverityFrames)
	m.gauge("wildlife_caution_frames_total", "Total frames carrying a carnivore caution", &m.CautionFrames)

	// Error metrics
	m.gauge("wildlife_inference_errors_total", "Total failed inference calls", &m.InferenceErrors)
	m.gauge("wildlife_video_errors_total", "Total failed video jobs", &m.VideoErrors)
	m.gauge("wildlife_upload_errors_total", "Total rejected uploads", &m.UploadErrors)

	// Latency metrics
	m.gauge("wildlife_inference_latency_ms", "Last inference latency in milliseconds", &m.InferenceLatencyMs)
	m.gauge("wildlife_frame_latency_ms", "Last frame processing latency in milliseconds", &m.FrameLatencyMs)

	// Client metrics
	m.gauge("wildlife_stream_active_clients", "Number of active MJPEG clients", &m.ActiveClients)
	m.gauge("wildlife_stream_total_clients", "Total MJPEG clients connected", &m.TotalClients)

	// Alert metrics
	m.gauge("wildlife_alerts_published_total", "Total MQTT alerts published", &m.AlertsPublished)
	m.gauge("wildlife_alerts_suppressed_total", "Total alerts suppressed by cooldown", &m.AlertsSuppressed)
	m.gauge("wildlife_alert_errors_total", "Total MQTT publish failures", &m.AlertErrors)
}

// ObserveInference records one inference call.
func (m *Metrics) ObserveInference(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.InferenceLatencyMs.Store(uint64(d.Milliseconds()))
	if err != nil {
		m.InferenceErrors.Add(1)
	}
}

// ObserveFilter records the outcome of one filter pass.
func (m *Metrics) ObserveFilter(raw, kept, unknown, belowFloor int) {
	if m == nil {
		return
	}
	m.RawDetections.Add(uint64(raw))
	m.DetectionsKept.Add(uint64(kept))
	m.DiscardedUnknown.Add(uint64(unknown))
	m.DiscardedBelowFloor.Add(uint64(belowFloor))
}

// ObserveFrame records an annotated frame and its banners.
func (m *Metrics) ObserveFrame(start time.Time, high, caution bool) {
	if m == nil {
		return
	}
	m.FrameLatencyMs.Store(uint64(time.Since(start).Milliseconds()))
	if high {
		m.HighSeverityFrames.Add(1)
	}
	if caution {
		m.CautionFrames.Add(1)
	}
}

func (m *Metrics) inc(c *atomic.Uint64) {
	if m != nil {
		c.Add(1)
	}
}

// ImageProcessed counts a still image.
func (m *Metrics) ImageProcessed() {
	if m != nil {
		m.inc(&m.ImagesProcessed)
	}
}

// VideoFinished counts a completed or failed video job.
func (m *Metrics) VideoFinished(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.inc(&m.VideoErrors)
		return
	}
	m.inc(&m.VideosProcessed)
}

// FrameRead counts a video frame and whether it was sampled.
func (m *Metrics) FrameRead(sampled bool) {
	if m == nil {
		return
	}
	m.inc(&m.FramesRead)
	if sampled {
		m.inc(&m.FramesSampled)
	} else {
		m.inc(&m.FramesPassedThrough)
	}
}

// LiveFrame counts a processed camera frame.
func (m *Metrics) LiveFrame() {
	if m != nil {
		m.inc(&m.LiveFrames)
	}
}

// UploadRejected counts an upload refused by the web layer.
func (m *Metrics) UploadRejected() {
	if m != nil {
		m.inc(&m.UploadErrors)
	}
}

// AlertOutcome counts one alert decision.
func (m *Metrics) AlertOutcome(published, suppressed bool, err error) {
	if m == nil {
		return
	}
	switch {
	case err != nil:
		m.inc(&m.AlertErrors)
	case suppressed:
		m.inc(&m.AlertsSuppressed)
	case published:
		m.inc(&m.AlertsPublished)
	}
}

// ClientConnected tracks a new stream client
func (m *Metrics) ClientConnected() {
	if m == nil {
		return
	}
	m.ActiveClients.Add(1)
	m.TotalClients.Add(1)
}

// ClientDisconnected tracks a stream client leaving
func (m *Metrics) ClientDisconnected() {
	if m == nil {
		return
	}
	for {
		cur := m.ActiveClients.Load()
		if cur == 0 || m.ActiveClients.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on its own listener.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
