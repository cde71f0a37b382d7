// Package annotate draws detection overlays onto RGBA frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
)

var (
	Red    = color.RGBA{R: 255, A: 255}
	Orange = color.RGBA{R: 255, G: 165, A: 255}
	Green  = color.RGBA{G: 255, A: 255}
)

// Banner texts.
const (
	HighBannerText    = "🚨 WARNING: Large mammals detected!"
	CautionBannerText = "⚠️ Caution: Carnivores detected!"
)

// Layout
const (
	BoxThickness  = 2
	LabelSize     = 16.0
	LabelOffset   = 10
	BannerSize    = 20.0
	BannerX       = 10
	BannerY       = 30
	BannerSpacing = 30
)

// ColorFor maps a severity tier to its box and label color.
func ColorFor(s taxonomy.Severity) color.RGBA {
	switch s {
	case taxonomy.High:
		return Red
	case taxonomy.Caution:
		return Orange
	default:
		return Green
	}
}

// Banner is one frame-level alert line. At is the text baseline origin.
type Banner struct {
	Text  string
	Color color.RGBA
	At    image.Point
}

// PlanBanners lays out the aggregate banners for dets: high severity first,
// then caution, stacked without gaps.
func PlanBanners(dets []detection.Detection) []Banner {
	var out []Banner
	next := func(text string, c color.RGBA) {
		out = append(out, Banner{
			Text:  text,
			Color: c,
			At:    image.Pt(BannerX, BannerY+len(out)*BannerSpacing),
		})
	}
	if detection.HasSeverity(dets, taxonomy.High) {
		next(HighBannerText, Red)
	}
	if detection.HasSeverity(dets, taxonomy.Caution) {
		next(CautionBannerText, Orange)
	}
	return out
}

// Label is the drawn text for a detection on the alert path.
func Label(d detection.Detection) string {
	return fmt.Sprintf("%s %s %.2f", taxonomy.Meta(d.Category).Glyph, d.DisplayName, d.Confidence)
}

// PlainLabel is the drawn text on the still-image path.
func PlainLabel(d detection.Detection) string {
	return fmt.Sprintf("%s %.2f", d.ClassName, d.Confidence)
}

// Annotator renders overlays. A single Annotator is safe for concurrent use;
// drawing is serialized on its font faces.
type Annotator struct {
	mu         sync.Mutex
	labelFace  font.Face
	bannerFace font.Face
}

// New parses the embedded Go Regular font.
func New() (*Annotator, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Annotator{
		labelFace:  truetype.NewFace(f, &truetype.Options{Size: LabelSize}),
		bannerFace: truetype.NewFace(f, &truetype.Options{Size: BannerSize}),
	}, nil
}

// Annotate draws severity-colored boxes and labels for every detection, then
// the aggregate banners. frame is modified in place and returned.
func (a *Annotator) Annotate(frame *image.RGBA, dets []detection.Detection) *image.RGBA {
	if frame == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	dc := gg.NewContextForRGBA(frame)
	for _, d := range dets {
		c := ColorFor(d.Severity)
		drawBox(dc, d.BBox.Rect(), c)
		a.drawLabel(dc, Label(d), d.BBox.Rect(), c)
	}

	dc.SetFontFace(a.bannerFace)
	for _, b := range PlanBanners(dets) {
		dc.SetColor(b.Color)
		dc.DrawString(b.Text, float64(b.At.X), float64(b.At.Y))
	}
	return frame
}

// DrawPlain draws green boxes with "<class> <conf>" labels and no banners.
func (a *Annotator) DrawPlain(frame *image.RGBA, dets []detection.Detection) *image.RGBA {
	if frame == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	dc := gg.NewContextForRGBA(frame)
	for _, d := range dets {
		drawBox(dc, d.BBox.Rect(), Green)
		a.drawLabel(dc, PlainLabel(d), d.BBox.Rect(), Green)
	}
	return frame
}

func (a *Annotator) drawLabel(dc *gg.Context, text string, r image.Rectangle, c color.Color) {
	dc.SetFontFace(a.labelFace)
	dc.SetColor(c)
	y := r.Min.Y - LabelOffset
	if y < int(LabelSize) {
		// No room above the box.
		y = r.Min.Y + BoxThickness + int(LabelSize)
	}
	dc.DrawString(text, float64(r.Min.X), float64(y))
}

// drawBox fills the four edges as whole-pixel rectangles inside r.
func drawBox(dc *gg.Context, r image.Rectangle, c color.Color) {
	r = r.Intersect(image.Rect(0, 0, dc.Width(), dc.Height()))
	if r.Empty() {
		return
	}
	t := BoxThickness
	if r.Dx() < 2*t || r.Dy() < 2*t {
		t = 1
	}
	dc.SetColor(c)
	x, y := float64(r.Min.X), float64(r.Min.Y)
	w, h := float64(r.Dx()), float64(r.Dy())
	ft := float64(t)
	dc.DrawRectangle(x, y, w, ft)
	dc.DrawRectangle(x, y+h-ft, w, ft)
	dc.DrawRectangle(x, y, ft, h)
	dc.DrawRectangle(x+w-ft, y, ft, h)
	dc.Fill()
}
