package flaskcompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:5000"
	defaultRequestTimeout = 2 * time.Second
)

type compatClient struct {
	baseURL string
	client  *http.Client
}

func newCompatClient(t *testing.T) *compatClient {
	t.Helper()
	baseURL := os.Getenv("COMPAT_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/status") {
		t.Skipf("server not reachable at %s (set COMPAT_BASE_URL to run)", baseURL)
	}

	return &compatClient{
		baseURL: baseURL,
		client:  client,
	}
}

func isReachable(client *http.Client, url string) bool {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *compatClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func (c *compatClient) getResponse(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func (c *compatClient) postMultipart(t *testing.T, path string, fields map[string]string, filename string, file []byte) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(file); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, body
}

func readSSEEvent(url string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 256)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
				event := string(buf[:idx])
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
		select {
		case <-ctx.Done():
			return "", nil, fmt.Errorf("timeout waiting for sse event")
		default:
		}
	}
}

func parseSSEData(t *testing.T, event string) map[string]any {
	t.Helper()
	lines := strings.Split(event, "\n")
	for _, line := range lines {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				t.Fatalf("empty sse data line")
			}
			return decodeJSONMap(t, []byte(payload))
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return nil
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertDetection(t *testing.T, det map[string]any, field string) {
	t.Helper()
	requireNumber(t, det["class_id"], field+".class_id")
	requireString(t, det["class"], field+".class")
	requireString(t, det["display_name"], field+".display_name")
	requireString(t, det["category"], field+".category")
	requireString(t, det["alert"], field+".alert")
	conf := requireNumber(t, det["confidence"], field+".confidence")
	if conf < 0 || conf > 1 {
		t.Fatalf("%s.confidence out of range: %v", field, conf)
	}
	bbox := requireSlice(t, det["bbox"], field+".bbox")
	if len(bbox) != 4 {
		t.Fatalf("%s.bbox has %d values", field, len(bbox))
	}
	for i, v := range bbox {
		requireNumber(t, v, fmt.Sprintf("%s.bbox[%d]", field, i))
	}
}

func assertDetectionPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	requireString(t, payload["source"], "source")
	requireNumber(t, payload["frame_number"], "frame_number")
	requireNumber(t, payload["timestamp"], "timestamp")
	detections := requireSlice(t, payload["detections"], "detections")
	for i, raw := range detections {
		field := fmt.Sprintf("detections[%d]", i)
		assertDetection(t, requireMap(t, raw, field), field)
	}
}

func assertDetectionHistoryEntry(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireString(t, payload["source"], field+".source")
	requireNumber(t, payload["frame_number"], field+".frame_number")
	requireNumber(t, payload["timestamp"], field+".timestamp")
	requireNumber(t, payload["num_detections"], field+".num_detections")
	requireNumber(t, payload["version"], field+".version")
	requireSlice(t, payload["detections"], field+".detections")
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	monitor := requireMap(t, payload["monitor"], "monitor")
	requireNumber(t, monitor["images_processed"], "monitor.images_processed")
	requireNumber(t, monitor["videos_processed"], "monitor.videos_processed")
	requireNumber(t, monitor["live_frames"], "monitor.live_frames")
	requireNumber(t, monitor["current_fps"], "monitor.current_fps")
	requireNumber(t, monitor["detection_count"], "monitor.detection_count")
	requireNumber(t, monitor["live_clients"], "monitor.live_clients")

	if _, ok := payload["live_running"].(bool); !ok {
		t.Fatalf("expected live_running to be bool, got %T", payload["live_running"])
	}
	requireNumber(t, payload["timestamp"], "timestamp")

	if payload["latest_detection"] != nil {
		latest := requireMap(t, payload["latest_detection"], "latest_detection")
		assertDetectionHistoryEntry(t, latest, "latest_detection")
	}

	history := requireSlice(t, payload["detection_history"], "detection_history")
	for i, raw := range history {
		item := requireMap(t, raw, fmt.Sprintf("detection_history[%d]", i))
		assertDetectionHistoryEntry(t, item, fmt.Sprintf("detection_history[%d]", i))
	}
}
