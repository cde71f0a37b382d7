package webmonitor

import "github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"

// Source names where a detection result came from.
type Source string

const (
	SourceImage Source = "image"
	SourceVideo Source = "video"
	SourceLive  Source = "live"
)

// DetectionResult is one processed image, video or live frame as kept in
// the monitor history.
type DetectionResult struct {
	Source        Source                `json:"source"`
	FrameNumber   int                   `json:"frame_number"`
	Timestamp     float64               `json:"timestamp"`
	NumDetections int                   `json:"num_detections"`
	Version       int                   `json:"version"`
	Detections    []detection.Detection `json:"detections"`
}

// DetectionEvent is the payload for /api/detections/stream.
type DetectionEvent struct {
	Source      Source                `json:"source"`
	FrameNumber int                   `json:"frame_number"`
	Timestamp   float64               `json:"timestamp"`
	Detections  []detection.Detection `json:"detections"`
}

// DetectResponse is the body of a successful POST /detect.
type DetectResponse struct {
	Type       string                `json:"type"`
	Detections []detection.Detection `json:"detections"`
	ImageURL   string                `json:"image_url,omitempty"`
	VideoURL   string                `json:"video_url,omitempty"`
	Timestamp  string                `json:"timestamp"`
}

// MonitorStats summarises activity since start.
type MonitorStats struct {
	ImagesProcessed int     `json:"images_processed"`
	VideosProcessed int     `json:"videos_processed"`
	LiveFrames      int     `json:"live_frames"`
	CurrentFPS      float64 `json:"current_fps"`
	DetectionCount  int     `json:"detection_count"`
	LiveClients     int     `json:"live_clients"`
	DetectorLoaded  bool    `json:"detector_loaded"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// ClassInfo describes one taxonomy entry for /api/classes.
type ClassInfo struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	DisplayName string  `json:"display_name"`
	Category    string  `json:"category"`
	Glyph       string  `json:"glyph"`
	Severity    string  `json:"severity"`
	Threshold   float64 `json:"threshold"`
}
