package video

import (
	"fmt"
	"image"
	"image/draw"

	"gocv.io/x/gocv"
)

// MatToRGBA converts a BGR Mat to a fresh RGBA image.
func MatToRGBA(m gocv.Mat) (*image.RGBA, error) {
	img, err := m.ToImage()
	if err != nil {
		return nil, fmt.Errorf("mat to image: %w", err)
	}
	return asRGBA(img), nil
}

// RGBAToMat converts img to a BGR Mat owned by the caller.
func RGBAToMat(img *image.RGBA) (gocv.Mat, error) {
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("image to mat: %w", err)
	}
	return m, nil
}

func asRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// EncodeJPEG encodes frame with OpenCV's JPEG encoder.
func EncodeJPEG(frame *image.RGBA, quality int) ([]byte, error) {
	m, err := RGBAToMat(frame)
	if err != nil {
		return nil, err
	}
	defer m.Close()
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, m, []int{gocv.IMWriteJpegQuality, quality})
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
