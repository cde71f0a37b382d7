package detector

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

var padColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Letterbox records how a source image was fitted into a square model input.
type Letterbox struct {
	Scale  float64
	PadX   int
	PadY   int
	Source image.Rectangle
}

// letterbox scales img into a size x size canvas, preserving aspect ratio and
// centering it on gray padding.
func letterbox(img image.Image, size int) (*image.RGBA, Letterbox) {
	b := img.Bounds()
	scale := min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	nw := max(1, int(float64(b.Dx())*scale+0.5))
	nh := max(1, int(float64(b.Dy())*scale+0.5))
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	xdraw.Draw(dst, dst.Bounds(), &image.Uniform{C: padColor}, image.Point{}, xdraw.Src)
	xdraw.BiLinear.Scale(dst, image.Rect(padX, padY, padX+nw, padY+nh), img, b, xdraw.Src, nil)

	return dst, Letterbox{Scale: scale, PadX: padX, PadY: padY, Source: b}
}

// toCHW writes the RGB planes of img, normalised to [0,1], into buf.
func toCHW(img *image.RGBA, buf []float32) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			i := y*w + x
			p := row[x*4:]
			buf[i] = float32(p[0]) / 255
			buf[plane+i] = float32(p[1]) / 255
			buf[2*plane+i] = float32(p[2]) / 255
		}
	}
}

// unmap converts a model-space center box back to source pixel coordinates.
func (lb Letterbox) unmap(cx, cy, w, h float32) types.BBox {
	f := func(v float32, pad int) int {
		return int((float64(v) - float64(pad)) / lb.Scale)
	}
	box := types.BBox{
		X1: f(cx-w/2, lb.PadX) + lb.Source.Min.X,
		Y1: f(cy-h/2, lb.PadY) + lb.Source.Min.Y,
		X2: f(cx+w/2, lb.PadX) + lb.Source.Min.X,
		Y2: f(cy+h/2, lb.PadY) + lb.Source.Min.Y,
	}
	return box.Clamp(lb.Source)
}

// anchorCount is the number of YOLOv8 predictions for a square input.
func anchorCount(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		g := size / stride
		n += g * g
	}
	return n
}

// decodeYOLO reads a [4+classes, anchors] row-major output into raw
// detections, keeping only allowed classes at or above the confidence floor.
func decodeYOLO(out []float32, classes, anchors int, lb Letterbox, p Params) []types.RawDetection {
	if len(out) < (4+classes)*anchors {
		return nil
	}
	var dets []types.RawDetection
	for i := 0; i < anchors; i++ {
		best, score := -1, float32(0)
		for c := 0; c < classes; c++ {
			s := out[(4+c)*anchors+i]
			if s > score && p.Allows(c) {
				best, score = c, s
			}
		}
		if best < 0 || float64(score) < p.Confidence {
			continue
		}
		box := lb.unmap(out[i], out[anchors+i], out[2*anchors+i], out[3*anchors+i])
		if !box.Valid() {
			continue
		}
		dets = append(dets, types.RawDetection{BBox: box, Confidence: float64(score), ClassID: best})
	}
	return dets
}
