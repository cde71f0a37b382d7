package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/annotate"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detector"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/threshold"
	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// recordingDetector returns fixed detections and remembers what it was asked.
type recordingDetector struct {
	mu     sync.Mutex
	out    []types.RawDetection
	err    error
	sizes  []image.Point
	params []detector.Params
}

func (d *recordingDetector) Infer(ctx context.Context, img image.Image, p detector.Params) ([]types.RawDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sizes = append(d.sizes, img.Bounds().Size())
	d.params = append(d.params, p)
	if d.err != nil {
		return nil, d.err
	}
	out := make([]types.RawDetection, len(d.out))
	copy(out, d.out)
	return out, nil
}

func (d *recordingDetector) Close() error { return nil }

func (d *recordingDetector) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sizes)
}

func solidFrame(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func cloneFrame(img *image.RGBA) *image.RGBA {
	c := image.NewRGBA(img.Bounds())
	copy(c.Pix, img.Pix)
	return c
}

// memVideo is an in-memory VideoReader.
type memVideo struct {
	frames []*image.RGBA
	next   int
	failAt int
	closed bool
	meta   types.VideoMeta
}

func (v *memVideo) Read() (*image.RGBA, error) {
	if v.failAt > 0 && v.next == v.failAt {
		return nil, errors.New("corrupt frame")
	}
	if v.next >= len(v.frames) {
		return nil, io.EOF
	}
	f := v.frames[v.next]
	v.next++
	return f, nil
}

func (v *memVideo) Close() error { v.closed = true; return nil }

func (v *memVideo) Meta() types.VideoMeta { return v.meta }

// memSink keeps copies of written frames and creates a placeholder file so
// cleanup can be observed.
type memSink struct {
	path    string
	written []*image.RGBA
	failAt  int
	closed  bool
}

func (s *memSink) Write(f *image.RGBA) error {
	if s.failAt > 0 && len(s.written) == s.failAt {
		return errors.New("disk full")
	}
	s.written = append(s.written, cloneFrame(f))
	return nil
}

func (s *memSink) Close() error { s.closed = true; return nil }

type memBackend struct {
	video      *memVideo
	sink       *memSink
	sinkFailAt int
	openErr    error
	createErr  error
}

func (b *memBackend) OpenVideo(path string) (VideoReader, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.video, nil
}

func (b *memBackend) CreateVideo(path string, meta types.VideoMeta) (FrameSink, error) {
	if b.createErr != nil {
		return nil, b.createErr
	}
	if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
		return nil, err
	}
	b.sink = &memSink{path: path, failAt: b.sinkFailAt}
	return b.sink, nil
}

// sliceSource feeds a fixed list of frames to RunLive.
type sliceSource struct {
	frames []*image.RGBA
	next   int
}

func (s *sliceSource) Read() (*image.RGBA, error) {
	if s.next >= len(s.frames) {
		return nil, io.EOF
	}
	f := s.frames[s.next]
	s.next++
	return f, nil
}

func (s *sliceSource) Close() error { return nil }

func newTestOrchestrator(t *testing.T, det detector.Detector, videos VideoBackend) *Orchestrator {
	t.Helper()
	tbl := taxonomy.DefaultTable()
	pol, err := threshold.NewPolicy(tbl, threshold.DefaultOverrides(), 0.5)
	require.NoError(t, err)
	ann, err := annotate.New()
	require.NoError(t, err)
	return New(det, detection.NewFilter(tbl, pol), ann, videos, nil, DefaultOptions())
}

// sequenceDetector returns whatever next produces on each call.
type sequenceDetector struct {
	next func() []types.RawDetection
}

func (d *sequenceDetector) Infer(ctx context.Context, img image.Image, p detector.Params) ([]types.RawDetection, error) {
	return d.next(), nil
}

func (d *sequenceDetector) Close() error { return nil }
