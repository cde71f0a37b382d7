package pipeline

import (
	"image"

	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// FrameSource yields decoded frames until it returns io.EOF.
type FrameSource interface {
	Read() (*image.RGBA, error)
	Close() error
}

// VideoReader is a FrameSource over a file with known properties.
type VideoReader interface {
	FrameSource
	Meta() types.VideoMeta
}

// FrameSink accepts encoded-order frames for an output video.
type FrameSink interface {
	Write(frame *image.RGBA) error
	Close() error
}

// VideoBackend opens video files for reading and writing.
type VideoBackend interface {
	OpenVideo(path string) (VideoReader, error)
	CreateVideo(path string, meta types.VideoMeta) (FrameSink, error)
}
