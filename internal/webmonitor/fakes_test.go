package webmonitor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/alert"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/annotate"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detector"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/storage"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/threshold"
	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

func elephantDetector() detector.Detector {
	return detector.Func(func(ctx context.Context, img image.Image, p detector.Params) ([]types.RawDetection, error) {
		return []types.RawDetection{{
			BBox:       types.BBox{X1: 4, Y1: 4, X2: 40, Y2: 40},
			Confidence: 0.9,
			ClassID:    20,
		}}, nil
	})
}

func emptyDetector() detector.Detector {
	return detector.Func(func(ctx context.Context, img image.Image, p detector.Params) ([]types.RawDetection, error) {
		return nil, nil
	})
}

func solidFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 40, 90, 40, 255
	}
	return img
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solidFrame(160, 120)))
	return buf.Bytes()
}

// memVideo is an in-memory VideoReader of n frames.
type memVideo struct {
	n, next int
}

func (v *memVideo) Read() (*image.RGBA, error) {
	if v.next >= v.n {
		return nil, io.EOF
	}
	v.next++
	return solidFrame(64, 48), nil
}

func (v *memVideo) Close() error { return nil }

func (v *memVideo) Meta() types.VideoMeta {
	return types.VideoMeta{Width: 64, Height: 48, FPS: 30, FrameCount: v.n}
}

type fileSink struct{ frames int }

func (s *fileSink) Write(*image.RGBA) error { s.frames++; return nil }
func (s *fileSink) Close() error            { return nil }

type memBackend struct {
	frames  int
	openErr error
	sink    *fileSink
}

func (b *memBackend) OpenVideo(string) (pipeline.VideoReader, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return &memVideo{n: b.frames}, nil
}

func (b *memBackend) CreateVideo(path string, meta types.VideoMeta) (pipeline.FrameSink, error) {
	if err := os.WriteFile(path, []byte("video"), 0o644); err != nil {
		return nil, err
	}
	b.sink = &fileSink{}
	return b.sink, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakePublisher) published() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

// cameraSource produces frames until closed.
type cameraSource struct {
	mu     sync.Mutex
	closed bool
}

func (c *cameraSource) Read() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("camera closed")
	}
	return solidFrame(64, 48), nil
}

func (c *cameraSource) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type testEnv struct {
	server  *Server
	store   *storage.Store
	backend *memBackend
	pub     *fakePublisher
}

func newTestEnv(t *testing.T, det detector.Detector, cfg Config) *testEnv {
	t.Helper()
	tbl := taxonomy.DefaultTable()
	pol, err := threshold.NewPolicy(tbl, threshold.DefaultOverrides(), 0.5)
	require.NoError(t, err)
	ann, err := annotate.New()
	require.NoError(t, err)

	backend := &memBackend{frames: 6}
	orch := pipeline.New(det, detection.NewFilter(tbl, pol), ann, backend, nil, pipeline.DefaultOptions())

	dir := t.TempDir()
	store, err := storage.New(dir+"/uploads", dir+"/results", nil, 0)
	require.NoError(t, err)

	pub := &fakePublisher{}
	notifier := alert.NewNotifier(pub, alert.Config{MinSeverity: taxonomy.Caution}, nil)

	srv := NewServer(cfg, Deps{
		Pipeline:       orch,
		Store:          store,
		Alerts:         notifier,
		DetectorLoaded: func() bool { return true },
	})
	t.Cleanup(srv.Close)
	return &testEnv{server: srv, store: store, backend: backend, pub: pub}
}

// upload builds a multipart /detect request. An empty field name omits the
// file part entirely.
func upload(t *testing.T, field, filename, kind string, body []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(body)
		require.NoError(t, err)
	}
	if kind != "" {
		require.NoError(t, mw.WriteField("type", kind))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/detect", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
