// Package video reads and writes video files and cameras through OpenCV.
package video

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"gocv.io/x/gocv"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// DefaultCodec is the fourcc used for output files.
const DefaultCodec = "mp4v"

// Backend implements pipeline.VideoBackend with gocv.
type Backend struct {
	Codec string
}

// NewBackend returns a backend writing DefaultCodec.
func NewBackend() *Backend {
	return &Backend{Codec: DefaultCodec}
}

// OpenVideo opens a video file for sequential reading.
func (b *Backend) OpenVideo(path string) (pipeline.VideoReader, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open video %s: capture not opened", path)
	}
	return newCapture(vc), nil
}

// CreateVideo opens an output file with the source's size and frame rate.
func (b *Backend) CreateVideo(path string, meta types.VideoMeta) (pipeline.FrameSink, error) {
	if meta.Width <= 0 || meta.Height <= 0 {
		return nil, fmt.Errorf("create video %s: invalid size %dx%d", path, meta.Width, meta.Height)
	}
	fps := meta.FPS
	if fps <= 0 {
		fps = 25
	}
	codec := b.Codec
	if codec == "" {
		codec = DefaultCodec
	}
	vw, err := gocv.VideoWriterFile(path, codec, fps, meta.Width, meta.Height, true)
	if err != nil {
		return nil, fmt.Errorf("create video: %w", err)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("create video %s: writer not opened", path)
	}
	return &Writer{vw: vw, width: meta.Width, height: meta.Height}, nil
}

// OpenCamera opens a capture device by index.
func OpenCamera(device int) (*Capture, error) {
	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", device, err)
	}
	// Keep latency low; stale buffered frames are useless for live view.
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	c := newCapture(vc)
	logger.Info("Video", "Camera %d opened (%dx%d @ %.1ffps)", device, c.meta.Width, c.meta.Height, c.meta.FPS)
	return c, nil
}

// Capture wraps a gocv.VideoCapture as a pipeline frame source.
type Capture struct {
	mu   sync.Mutex
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	meta types.VideoMeta
	done bool
}

func newCapture(vc *gocv.VideoCapture) *Capture {
	return &Capture{
		vc:  vc,
		mat: gocv.NewMat(),
		meta: types.VideoMeta{
			Width:      int(vc.Get(gocv.VideoCaptureFrameWidth)),
			Height:     int(vc.Get(gocv.VideoCaptureFrameHeight)),
			FPS:        vc.Get(gocv.VideoCaptureFPS),
			FrameCount: max(0, int(vc.Get(gocv.VideoCaptureFrameCount))),
		},
	}
}

// Meta returns the properties reported by the container or device.
func (c *Capture) Meta() types.VideoMeta { return c.meta }

// Read decodes the next frame; io.EOF once the source is exhausted.
func (c *Capture) Read() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil, io.EOF
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, io.EOF
	}
	return MatToRGBA(c.mat)
}

// Close releases the device and the frame buffer.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done {
		return nil
	}
	c.done = true
	c.mat.Close()
	return c.vc.Close()
}

// Writer encodes RGBA frames into a video file.
type Writer struct {
	vw     *gocv.VideoWriter
	width  int
	height int
	closed bool
}

// Write converts frame to BGR and appends it. Frames must match the size
// the writer was created with.
func (w *Writer) Write(frame *image.RGBA) error {
	if w.closed {
		return errors.New("write to closed video")
	}
	if s := frame.Bounds().Size(); s.X != w.width || s.Y != w.height {
		return fmt.Errorf("frame size %dx%d, writer expects %dx%d", s.X, s.Y, w.width, w.height)
	}
	mat, err := RGBAToMat(frame)
	if err != nil {
		return err
	}
	defer mat.Close()
	return w.vw.Write(mat)
}

// Close finalizes the container.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.vw.Close()
}
