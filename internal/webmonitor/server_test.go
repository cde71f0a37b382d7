package webmonitor

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
)

func decodeDetect(t *testing.T, rec *httptest.ResponseRecorder) DetectResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestDetectImageWithDetections(t *testing.T) {
	env := newTestEnv(t, elephantDetector(), DefaultConfig())
	h := env.server.Handler()

	rec := serve(h, upload(t, "file", "Safari.PNG", "image", pngBytes(t)))
	resp := decodeDetect(t, rec)

	assert.Equal(t, "image", resp.Type)
	require.Len(t, resp.Detections, 1)
	d := resp.Detections[0]
	assert.Equal(t, "elephant", d.ClassName)
	assert.Equal(t, "Elephant", d.DisplayName)
	assert.Equal(t, "🐘 WARNING: Large Mammal Detected - Elephant! 🐘", d.Alert)
	assert.Empty(t, resp.VideoURL)
	require.True(t, strings.HasPrefix(resp.ImageURL, "/static/results/detected_image_"), resp.ImageURL)
	assert.True(t, strings.HasSuffix(resp.ImageURL, ".png"))
	_, err := time.Parse("2006-01-02T15:04:05.000000", resp.Timestamp)
	assert.NoError(t, err)

	got := serve(h, httptest.NewRequest(http.MethodGet, resp.ImageURL, nil))
	assert.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, "image/png", got.Header().Get("Content-Type"))

	assert.Equal(t, []string{"wildlife/alerts/high/elephant"}, env.pub.published())

	stats, latest, history := env.server.Monitor().Snapshot()
	assert.Equal(t, 1, stats.ImagesProcessed)
	require.NotNil(t, latest)
	assert.Equal(t, SourceImage, latest.Source)
	assert.Len(t, history, 1)
	assert.Equal(t, uint64(1), env.store.Status().Results)
}

func TestDetectImageWithoutDetectionsPointsAtUpload(t *testing.T) {
	env := newTestEnv(t, emptyDetector(), DefaultConfig())
	h := env.server.Handler()

	resp := decodeDetect(t, serve(h, upload(t, "file", "empty.png", "", pngBytes(t))))
	assert.Equal(t, "image", resp.Type)
	assert.Empty(t, resp.Detections)
	assert.NotNil(t, resp.Detections)
	require.True(t, strings.HasPrefix(resp.ImageURL, "/uploads/image_"), resp.ImageURL)

	got := serve(h, httptest.NewRequest(http.MethodGet, resp.ImageURL, nil))
	assert.Equal(t, http.StatusOK, got.Code)

	entries, err := os.ReadDir(env.store.ResultsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, env.pub.published())
}

func TestDetectRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, elephantDetector(), DefaultConfig())
	h := env.server.Handler()

	cases := []struct {
		name string
		req  *http.Request
		want string
	}{
		{"no file part", upload(t, "", "", "image", nil), "No file part"},
		{"empty filename", upload(t, "file", "", "image", []byte("x")), "No selected file"},
		{"bad extension", upload(t, "file", "notes.txt", "image", []byte("x")), "File type not allowed"},
		{"no extension", upload(t, "file", "README", "image", []byte("x")), "File type not allowed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, tc.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.want, body["error"])
		})
	}

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/detect", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestDetectCorruptImageIs500(t *testing.T) {
	env := newTestEnv(t, elephantDetector(), DefaultConfig())
	rec := serve(env.server.Handler(), upload(t, "file", "broken.jpg", "image", []byte("not a jpeg")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, strings.HasPrefix(body["error"], "Error processing file: "), body["error"])
}

func TestDetectVideo(t *testing.T) {
	env := newTestEnv(t, elephantDetector(), DefaultConfig())
	h := env.server.Handler()

	resp := decodeDetect(t, serve(h, upload(t, "file", "clip.mp4", "video", []byte("mp4 bytes"))))
	assert.Equal(t, "video", resp.Type)
	assert.Empty(t, resp.ImageURL)
	require.True(t, strings.HasPrefix(resp.VideoURL, "/static/results/detected_video_"), resp.VideoURL)
	assert.True(t, strings.HasSuffix(resp.VideoURL, ".mp4"))

	// Six frames sampled every fifth: indices 0 and 5.
	assert.Len(t, resp.Detections, 2)
	assert.Equal(t, 6, env.backend.sink.frames)

	name := strings.TrimPrefix(resp.VideoURL, "/static/results/")
	_, err := os.Stat(filepath.Join(env.store.ResultsDir(), name))
	assert.NoError(t, err)

	stats, _, _ := env.server.Monitor().Snapshot()
	assert.Equal(t, 1, stats.VideosProcessed)
}

func TestDetectVideoOpenFailure(t *testing.T) {
	env := newTestEnv(t, elephantDetector(), DefaultConfig())
	env.backend.openErr = errors.New("codec missing")

	rec := serve(env.server.Handler(), upload(t, "file", "clip.avi", "video", []byte("avi")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "codec missing")

	entries, err := os.ReadDir(env.store.ResultsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestStaticFilesDoNotEscapeDirectory(t *testing.T) {
	env := newTestEnv(t, emptyDetector(), DefaultConfig())
	h := env.server.Handler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/static/results/missing.png", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(env.store.ResultsDir()), "secret.txt"), []byte("x"), 0o644))
	req := httptest.NewRequest(http.MethodGet, "/static/results/x", nil)
	req.URL.Path = "/static/results/../secret.txt"
	rec = serve(newFileHandler(env.store.ResultsDir()), req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPagesAndInfoEndpoints(t *testing.T) {
	env := newTestEnv(t, emptyDetector(), DefaultConfig())
	h := env.server.Handler()

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "imageUploadForm")

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/realtime", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/video_feed")

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.JSONEq(t, `{"status":"ok","detector_loaded":true}`, rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/classes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var classes struct {
		Classes          []ClassInfo `json:"classes"`
		DefaultThreshold float64     `json:"default_threshold"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &classes))
	assert.Len(t, classes.Classes, taxonomy.DefaultTable().Len())
	assert.Equal(t, 0.5, classes.DefaultThreshold)
	for _, c := range classes.Classes {
		if c.Name == "bear" {
			assert.Equal(t, 0.65, c.Threshold)
			assert.Equal(t, "high", c.Severity)
			assert.Equal(t, "🐘", c.Glyph)
		}
	}

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Contains(t, status, "monitor")
	assert.Contains(t, status, "storage")
	assert.Equal(t, false, status["live_running"])
}

func TestVideoFeedWithoutCamera(t *testing.T) {
	env := newTestEnv(t, emptyDetector(), DefaultConfig())
	rec := serve(env.server.Handler(), httptest.NewRequest(http.MethodGet, "/video_feed", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestVideoFeedStreamsAnnotatedFrames(t *testing.T) {
	cam := &cameraSource{}
	cfg := DefaultConfig()
	cfg.OpenCamera = func() (pipeline.FrameSource, error) { return cam, nil }
	env := newTestEnv(t, elephantDetector(), cfg)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/video_feed", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "multipart/x-mixed-replace; boundary=frame", resp.Header.Get("Content-Type"))
	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "--frame\r\n", line)
	line, err = r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "Content-Type: image/jpeg\r\n", line)

	require.Eventually(t, func() bool {
		stats, _, _ := env.server.Monitor().Snapshot()
		return stats.LiveFrames > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool {
		return !env.server.broadcaster.Running() && env.server.broadcaster.Clients() == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		cam.mu.Lock()
		defer cam.mu.Unlock()
		return cam.closed
	}, 2*time.Second, 10*time.Millisecond)
}

func readEvent(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		}
	}
}

func openDetectionStream(t *testing.T, url, accept string) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/api/detections/stream", nil)
	require.NoError(t, err)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, cancel
}

func liveDetection() []detection.Detection {
	return []detection.Detection{{
		ClassID:     9,
		ClassName:   "hyena",
		DisplayName: "Hyena",
		Category:    taxonomy.Carnivores,
		Severity:    taxonomy.Caution,
		Confidence:  0.7,
		Alert:       "🐺 Caution: Hyena detected! 🐺",
	}}
}

func TestDetectionsStreamJSON(t *testing.T) {
	env := newTestEnv(t, emptyDetector(), DefaultConfig())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, cancel := openDetectionStream(t, ts.URL, "")
	defer cancel()
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", resp.Header.Get("X-Content-Format"))

	env.server.publish(SourceLive, nil) // dropped: nothing detected
	env.server.publish(SourceLive, liveDetection())

	var ev DetectionEvent
	require.NoError(t, json.Unmarshal([]byte(readEvent(t, bufio.NewReader(resp.Body))), &ev))
	assert.Equal(t, SourceLive, ev.Source)
	assert.Equal(t, 2, ev.FrameNumber)
	require.Len(t, ev.Detections, 1)
	assert.Equal(t, "hyena", ev.Detections[0].ClassName)
}

func TestDetectionsStreamProtobuf(t *testing.T) {
	env := newTestEnv(t, emptyDetector(), DefaultConfig())
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	resp, cancel := openDetectionStream(t, ts.URL, "application/x-protobuf")
	defer cancel()
	defer resp.Body.Close()
	assert.Equal(t, "application/protobuf", resp.Header.Get("X-Content-Format"))

	env.server.publish(SourceLive, liveDetection())

	raw, err := base64.StdEncoding.DecodeString(readEvent(t, bufio.NewReader(resp.Body)))
	require.NoError(t, err)
	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(raw, &st))

	m := st.AsMap()
	assert.Equal(t, "live", m["source"])
	dets, ok := m["detections"].([]any)
	require.True(t, ok)
	require.Len(t, dets, 1)
	assert.Equal(t, "hyena", dets[0].(map[string]any)["class"])
}
