package webmonitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/alert"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/storage"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
)

// Deps are the components the server drives.
type Deps struct {
	Pipeline       *pipeline.Orchestrator
	Store          *storage.Store
	Alerts         *alert.Notifier // optional
	Metrics        *metrics.Metrics
	DetectorLoaded func() bool
}

// Server serves the detection web app endpoints.
type Server struct {
	cfg                  Config
	deps                 Deps
	monitor              *Monitor
	broadcaster          *FrameBroadcaster
	detectionBroadcaster *DetectionBroadcaster
}

// NewServer returns a configured server. The camera is not touched until a
// client opens /video_feed.
func NewServer(cfg Config, deps Deps) *Server {
	def := DefaultConfig()
	if cfg.StatusInterval == 0 {
		cfg.StatusInterval = def.StatusInterval
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = def.MaxUploadBytes
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = def.JPEGQuality
	}
	if cfg.IdleFrame <= 0 {
		cfg.IdleFrame = def.IdleFrame
	}
	if cfg.EncodeJPEG == nil {
		cfg.EncodeJPEG = encodeStdJPEG
	}

	s := &Server{
		cfg:                  cfg,
		deps:                 deps,
		monitor:              NewMonitor(cfg.HistorySize),
		detectionBroadcaster: NewDetectionBroadcaster(),
	}

	var run LiveRunner
	if deps.Pipeline != nil {
		run = deps.Pipeline.RunLive
	}
	encode := func(frame *image.RGBA) ([]byte, error) {
		return cfg.EncodeJPEG(frame, cfg.JPEGQuality)
	}
	s.broadcaster = NewFrameBroadcaster(cfg.OpenCamera, run, encode, s.observeLive)
	return s
}

// Monitor exposes the activity monitor.
func (s *Server) Monitor() *Monitor { return s.monitor }

// Close stops live capture and disconnects streaming clients.
func (s *Server) Close() {
	s.broadcaster.Stop()
	s.detectionBroadcaster.Stop()
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/realtime", s.handleRealtime)
	mux.HandleFunc("/detect", s.handleDetect)
	mux.HandleFunc("/video_feed", s.handleVideoFeed)
	if s.deps.Store != nil {
		mux.Handle("/static/results/", newFileHandler(s.deps.Store.ResultsDir()))
		mux.Handle("/uploads/", newFileHandler(s.deps.Store.UploadDir()))
	}
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/detections/stream", s.handleDetectionsStream)
	mux.HandleFunc("/api/classes", s.handleClasses)
	mux.HandleFunc("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics.Handler())
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(realtimeHTML))
}

func (s *Server) reject(w http.ResponseWriter, msg string, status int) {
	s.deps.Metrics.UploadRejected()
	writeJSONWithStatus(w, map[string]any{"error": msg}, status)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Pipeline == nil || s.deps.Store == nil {
		writeJSONWithStatus(w, map[string]any{"error": "detector is not configured"}, http.StatusServiceUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.reject(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.reject(w, "No file part", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		// A part with an empty filename arrives as a plain form value.
		if _, ok := r.MultipartForm.Value["file"]; ok {
			s.reject(w, "No selected file", http.StatusBadRequest)
			return
		}
		s.reject(w, "No file part", http.StatusBadRequest)
		return
	}
	if err != nil {
		s.reject(w, "No file part", http.StatusBadRequest)
		return
	}
	defer file.Close()

	if header.Filename == "" {
		s.reject(w, "No selected file", http.StatusBadRequest)
		return
	}
	if !s.deps.Store.Allowed(header.Filename) {
		s.reject(w, "File type not allowed", http.StatusBadRequest)
		return
	}

	kind := storage.ParseKind(r.FormValue("type"))
	upload, err := s.deps.Store.SaveUpload(kind, header.Filename, file)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			s.reject(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.processingError(w, err)
		return
	}
	logger.Info("Detect", "Saved %s upload %s (%d bytes)", kind, upload.Name, upload.Size)

	var resp DetectResponse
	if kind == storage.KindVideo {
		resp, err = s.detectVideo(r.Context(), upload)
	} else {
		resp, err = s.detectImage(r.Context(), upload)
	}
	if err != nil {
		s.processingError(w, err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) processingError(w http.ResponseWriter, err error) {
	logger.Error("Detect", "Processing failed: %v", err)
	writeJSONWithStatus(w, map[string]any{
		"error": fmt.Sprintf("Error processing file: %v", err),
	}, http.StatusInternalServerError)
}

func (s *Server) detectImage(ctx context.Context, u storage.Upload) (DetectResponse, error) {
	outPath := s.deps.Store.ResultPath(u)
	dets, wrote, err := s.deps.Pipeline.DetectImageFile(ctx, u.Path, outPath)
	if err != nil {
		return DetectResponse{}, err
	}

	url := "/uploads/" + u.Name
	if wrote {
		s.deps.Store.MarkResult(outPath)
		url = "/static/results/" + storage.ResultName(u)
	}
	s.publish(SourceImage, dets)

	return DetectResponse{
		Type:       string(storage.KindImage),
		Detections: nonNil(dets),
		ImageURL:   url,
		Timestamp:  isoNow(),
	}, nil
}

func (s *Server) detectVideo(ctx context.Context, u storage.Upload) (DetectResponse, error) {
	res, err := s.deps.Pipeline.ProcessVideo(ctx, u.Path, s.deps.Store.ResultPath(u))
	if err != nil {
		return DetectResponse{}, err
	}
	s.deps.Store.MarkResult(res.OutputPath)
	logger.Info("Detect", "Video %s: %d frames, %d sampled, %d detections",
		u.Name, res.FramesRead, res.FramesSampled, len(res.Detections))
	s.publish(SourceVideo, res.Detections)

	return DetectResponse{
		Type:       string(storage.KindVideo),
		Detections: nonNil(res.Detections),
		VideoURL:   "/static/results/" + storage.ResultName(u),
		Timestamp:  isoNow(),
	}, nil
}

// publish records a result, fans it out to SSE clients and raises alerts.
func (s *Server) publish(src Source, dets []detection.Detection) {
	res := s.monitor.Record(src, dets)
	s.detectionBroadcaster.Publish(res)
	s.deps.Alerts.Notify(string(src), dets)
}

func (s *Server) observeLive(dets []detection.Detection) {
	s.publish(SourceLive, dets)
}

func (s *Server) handleVideoFeed(w http.ResponseWriter, r *http.Request) {
	if s.cfg.OpenCamera == nil {
		http.Error(w, "Camera not configured", http.StatusServiceUnavailable)
		return
	}
	s.deps.Metrics.ClientConnected()
	defer s.deps.Metrics.ClientDisconnected()

	id, frameCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.cfg.IdleFrame)
}

func (s *Server) statusPayload() map[string]any {
	stats, latest, history := s.monitor.Snapshot()
	stats.LiveClients = s.broadcaster.Clients()
	if s.deps.DetectorLoaded != nil {
		stats.DetectorLoaded = s.deps.DetectorLoaded()
	}
	payload := map[string]any{
		"monitor":           stats,
		"latest_detection":  latest,
		"detection_history": history,
		"live_running":      s.broadcaster.Running(),
		"timestamp":         float64(time.Now().Unix()),
	}
	if s.deps.Store != nil {
		payload["storage"] = s.deps.Store.Status()
	}
	return payload
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleDetectionsStream(w http.ResponseWriter, r *http.Request) {
	id, eventCh := s.detectionBroadcaster.Subscribe()
	defer s.detectionBroadcaster.Unsubscribe(id)

	// Content negotiation based on Accept header
	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamDetectionEventsFromChannel(r.Context(), w, eventCh, useProtobuf)
}

func (s *Server) handleClasses(w http.ResponseWriter, r *http.Request) {
	if s.deps.Pipeline == nil {
		writeJSON(w, map[string]any{"classes": []ClassInfo{}})
		return
	}
	filter := s.deps.Pipeline.Filter()
	policy := filter.Policy()
	entries := filter.Table().Entries()

	classes := make([]ClassInfo, 0, len(entries))
	for _, e := range entries {
		meta := e.Meta()
		classes = append(classes, ClassInfo{
			ID:          e.ID,
			Name:        e.Name,
			DisplayName: e.DisplayName(),
			Category:    string(e.Category),
			Glyph:       meta.Glyph,
			Severity:    meta.Severity.String(),
			Threshold:   policy.Effective(taxonomy.ByID(e.ID)),
		})
	}
	writeJSON(w, map[string]any{
		"classes":           classes,
		"default_threshold": policy.Default(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := false
	if s.deps.DetectorLoaded != nil {
		loaded = s.deps.DetectorLoaded()
	}
	writeJSON(w, map[string]any{
		"status":          "ok",
		"detector_loaded": loaded,
	})
}

func nonNil(dets []detection.Detection) []detection.Detection {
	if dets == nil {
		return []detection.Detection{}
	}
	return dets
}

func isoNow() string {
	return time.Now().Format("2006-01-02T15:04:05.000000")
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
