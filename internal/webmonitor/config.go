package webmonitor

import (
	"image"
	"time"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
)

// JPEGEncoder encodes an annotated live frame for the MJPEG stream.
type JPEGEncoder func(frame *image.RGBA, quality int) ([]byte, error)

// CameraOpener opens the live capture device. Each call must return a fresh
// source; the broadcaster closes it when the last client leaves.
type CameraOpener func() (pipeline.FrameSource, error)

// Config defines the runtime configuration for the web server.
type Config struct {
	Addr           string
	MaxUploadBytes int64
	StatusInterval time.Duration
	JPEGQuality    int
	HistorySize    int
	IdleFrame      time.Duration // blank frame cadence while the camera is silent

	OpenCamera CameraOpener
	EncodeJPEG JPEGEncoder
}

// DefaultConfig returns a config matching the upload limits of the legacy
// web app.
func DefaultConfig() Config {
	return Config{
		Addr:           ":5000",
		MaxUploadBytes: 32 << 20,
		StatusInterval: 2 * time.Second,
		JPEGQuality:    85,
		HistorySize:    8,
		IdleFrame:      5 * time.Second,
	}
}
