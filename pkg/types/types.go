package types

import (
	"encoding/json"
	"fmt"
	"image"
	"time"
)

// BBox is an axis-aligned box in integer pixel coordinates, x1<x2 and y1<y2.
type BBox struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// Rect converts the box to an image.Rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Width of the box in pixels
func (b BBox) Width() int { return b.X2 - b.X1 }

// Height of the box in pixels
func (b BBox) Height() int { return b.Y2 - b.Y1 }

// Valid reports whether the box has positive area.
func (b BBox) Valid() bool { return b.X1 < b.X2 && b.Y1 < b.Y2 }

// Scale multiplies every coordinate by (sx, sy), rounding to the nearest pixel.
func (b BBox) Scale(sx, sy float64) BBox {
	return BBox{
		X1: round(float64(b.X1) * sx),
		Y1: round(float64(b.Y1) * sy),
		X2: round(float64(b.X2) * sx),
		Y2: round(float64(b.Y2) * sy),
	}
}

// Clamp limits the box to bounds.
func (b BBox) Clamp(bounds image.Rectangle) BBox {
	return BBox{
		X1: clamp(b.X1, bounds.Min.X, bounds.Max.X),
		Y1: clamp(b.Y1, bounds.Min.Y, bounds.Max.Y),
		X2: clamp(b.X2, bounds.Min.X, bounds.Max.X),
		Y2: clamp(b.Y2, bounds.Min.Y, bounds.Max.Y),
	}
}

// MarshalJSON encodes the box as [x1,y1,x2,y2].
func (b BBox) MarshalJSON() ([]byte, error) {
	return []byte("[" + itoa(b.X1) + "," + itoa(b.Y1) + "," + itoa(b.X2) + "," + itoa(b.Y2) + "]"), nil
}

// UnmarshalJSON accepts [x1,y1,x2,y2]; fractional values are truncated.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var v [4]float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("bbox: %w", err)
	}
	*b = BBox{X1: int(v[0]), Y1: int(v[1]), X2: int(v[2]), Y2: int(v[3])}
	return nil
}

// RawDetection is one (box, confidence, class id) tuple straight from a detector.
type RawDetection struct {
	BBox       BBox
	Confidence float64
	ClassID    int
}

// Frame is a decoded RGBA frame plus its position in the source stream.
type Frame struct {
	Image     *image.RGBA
	Index     int       // 0-based frame number in the source
	Timestamp time.Time // Capture or decode time
}

// VideoMeta describes a video source.
type VideoMeta struct {
	Width      int
	Height     int
	FPS        float64
	FrameCount int // 0 when unknown (live sources)
}
