package webmonitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
)

// Monitor keeps running statistics and a short history of detection results
// across uploads and the live stream. Nothing is persisted.
type Monitor struct {
	startTime   time.Time
	historySize int
	now         func() time.Time

	mu               sync.Mutex
	images           int
	videos           int
	liveFrames       int
	lastLiveFrame    time.Time
	fps              float64
	detectionVersion int
	detectionHistory []DetectionResult
	latestDetection  *DetectionResult
}

// NewMonitor creates a Monitor keeping at most historySize results.
func NewMonitor(historySize int) *Monitor {
	if historySize <= 0 {
		historySize = DefaultConfig().HistorySize
	}
	return &Monitor{
		startTime:   time.Now(),
		historySize: historySize,
		now:         time.Now,
	}
}

// Record stores the outcome of one image, video or live frame and returns the
// versioned result.
func (m *Monitor) Record(src Source, dets []detection.Detection) DetectionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var frame int
	switch src {
	case SourceImage:
		m.images++
		frame = m.images
	case SourceVideo:
		m.videos++
		frame = m.videos
	case SourceLive:
		m.liveFrames++
		frame = m.liveFrames
		m.updateFPSLocked(now)
	}

	m.detectionVersion++
	result := DetectionResult{
		Source:        src,
		FrameNumber:   frame,
		Timestamp:     float64(now.UnixMilli()) / 1000,
		NumDetections: len(dets),
		Version:       m.detectionVersion,
		Detections:    append([]detection.Detection{}, dets...),
	}
	m.latestDetection = &result
	if result.NumDetections > 0 {
		m.detectionHistory = append([]DetectionResult{result}, m.detectionHistory...)
		if len(m.detectionHistory) > m.historySize {
			m.detectionHistory = m.detectionHistory[:m.historySize]
		}
	}
	return result
}

// updateFPSLocked smooths the live frame rate with an exponential average.
func (m *Monitor) updateFPSLocked(now time.Time) {
	if !m.lastLiveFrame.IsZero() {
		if dt := now.Sub(m.lastLiveFrame).Seconds(); dt > 0 {
			inst := 1 / dt
			if m.fps == 0 {
				m.fps = inst
			} else {
				m.fps = 0.9*m.fps + 0.1*inst
			}
		}
	}
	m.lastLiveFrame = now
}

// Snapshot returns the current stats, the latest result and a copy of the
// history, newest first.
func (m *Monitor) Snapshot() (MonitorStats, *DetectionResult, []DetectionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := MonitorStats{
		ImagesProcessed: m.images,
		VideosProcessed: m.videos,
		LiveFrames:      m.liveFrames,
		CurrentFPS:      m.fps,
		UptimeSeconds:   m.now().Sub(m.startTime).Seconds(),
	}
	var latest *DetectionResult
	if m.latestDetection != nil {
		stats.DetectionCount = m.latestDetection.NumDetections
		cp := *m.latestDetection
		latest = &cp
	}

	historyCopy := make([]DetectionResult, len(m.detectionHistory))
	copy(historyCopy, m.detectionHistory)

	return stats, latest, historyCopy
}
