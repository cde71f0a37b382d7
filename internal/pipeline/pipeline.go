// Package pipeline composes detection, per-class filtering and annotation
// for still images, video files and live frame sources.
package pipeline

import (
	"context"
	"errors"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/annotate"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detector"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
)

// ErrStop may be returned by a live emit callback to end the loop cleanly.
var ErrStop = errors.New("stop live loop")

// Options holds the global inference settings.
type Options struct {
	Confidence    float64 // base confidence handed to the detector
	IoU           float64 // suppression overlap handed to the detector
	InferenceSize int     // longer-edge target for inference
	SampleEvery   int     // video frames between sampled frames
	JPEGQuality   int     // quality for annotated still images
}

// DefaultOptions matches the stock deployment.
func DefaultOptions() Options {
	return Options{
		Confidence:    0.5,
		IoU:           0.45,
		InferenceSize: 640,
		SampleEvery:   5,
		JPEGQuality:   90,
	}
}

// VideoResult summarizes a processed video.
type VideoResult struct {
	OutputPath    string                `json:"output_path"`
	Detections    []detection.Detection `json:"detections"`
	FramesRead    int                   `json:"frames_read"`
	FramesSampled int                   `json:"frames_sampled"`
}

// Orchestrator runs the detect -> filter -> annotate pipeline. It holds no
// per-call state and may be shared between goroutines.
type Orchestrator struct {
	det     detector.Detector
	filter  *detection.Filter
	ann     *annotate.Annotator
	videos  VideoBackend
	metrics *metrics.Metrics
	opts    Options
}

// New wires an orchestrator. videos and m may be nil; ProcessVideo then
// reports an IO error.
func New(det detector.Detector, filter *detection.Filter, ann *annotate.Annotator, videos VideoBackend, m *metrics.Metrics, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.InferenceSize <= 0 {
		opts.InferenceSize = def.InferenceSize
	}
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = def.SampleEvery
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = def.JPEGQuality
	}
	return &Orchestrator{det: det, filter: filter, ann: ann, videos: videos, metrics: m, opts: opts}
}

// Options returns the effective settings.
func (o *Orchestrator) Options() Options { return o.opts }

// Filter returns the detection filter in use.
func (o *Orchestrator) Filter() *detection.Filter { return o.filter }

// DetectImage decodes the image at path and returns its filtered detections
// in original pixel coordinates. It does not draw.
func (o *Orchestrator) DetectImage(ctx context.Context, path string) ([]detection.Detection, error) {
	img, err := decodeImage(path)
	if err != nil {
		return nil, err
	}
	dets, err := o.detect(ctx, img, true)
	if err != nil {
		return nil, err
	}
	o.metrics.ImageProcessed()
	return dets, nil
}

// DetectImageFile runs DetectImage and, when anything was found, writes a copy
// with plain green boxes to outPath. wrote reports whether outPath was created.
func (o *Orchestrator) DetectImageFile(ctx context.Context, path, outPath string) (dets []detection.Detection, wrote bool, err error) {
	img, err := decodeImage(path)
	if err != nil {
		return nil, false, err
	}
	dets, err = o.detect(ctx, img, true)
	if err != nil {
		return nil, false, err
	}
	o.metrics.ImageProcessed()
	if len(dets) == 0 {
		return dets, false, nil
	}

	canvas := toRGBA(img)
	o.ann.DrawPlain(canvas, dets)
	if err := encodeImage(outPath, canvas, o.opts.JPEGQuality); err != nil {
		return nil, false, err
	}
	return dets, true, nil
}

// ProcessFrame detects on frame (downscaling only when its longer edge exceeds
// the inference size), then draws boxes, labels and banners onto frame.
func (o *Orchestrator) ProcessFrame(ctx context.Context, frame *image.RGBA) (*image.RGBA, []detection.Detection, error) {
	if frame == nil {
		return nil, nil, errorf(KindProcessing, "process frame", "", "nil frame")
	}
	start := time.Now()
	dets, err := o.detect(ctx, frame, false)
	if err != nil {
		return frame, nil, err
	}
	o.ann.Annotate(frame, dets)
	o.metrics.ObserveFrame(start,
		detection.HasSeverity(dets, taxonomy.High),
		detection.HasSeverity(dets, taxonomy.Caution))
	return frame, dets, nil
}

// DefaultOutputPath is "<base>_detected<ext>".
func DefaultOutputPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_detected" + ext
}

// ProcessVideo copies path to outputPath, running every SampleEvery-th frame
// (0-indexed) through ProcessFrame and writing the rest untouched. A failure
// on any frame aborts the job and removes the partial output.
func (o *Orchestrator) ProcessVideo(ctx context.Context, path, outputPath string) (res VideoResult, err error) {
	const op = "process video"
	if outputPath == "" {
		outputPath = DefaultOutputPath(path)
	}
	defer func() { o.metrics.VideoFinished(err) }()

	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return res, newError(KindNotFound, op, path, statErr)
		}
		return res, newError(KindIO, op, path, statErr)
	}
	if o.videos == nil {
		return res, errorf(KindIO, op, path, "no video backend configured")
	}

	reader, err := o.videos.OpenVideo(path)
	if err != nil {
		return res, newError(KindIO, op, path, err)
	}
	defer reader.Close()

	meta := reader.Meta()
	sink, err := o.videos.CreateVideo(outputPath, meta)
	if err != nil {
		return res, newError(KindIO, op, outputPath, err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil && err == nil {
			err = newError(KindIO, op, outputPath, cerr)
		}
		if err != nil {
			os.Remove(outputPath)
			res = VideoResult{}
		}
	}()

	logger.Info("Pipeline", "Processing %s (%dx%d @ %.1ffps, %d frames) -> %s",
		path, meta.Width, meta.Height, meta.FPS, meta.FrameCount, outputPath)

	res.OutputPath = outputPath
	res.Detections = []detection.Detection{}
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return res, newError(KindProcessing, op, path, err)
		}
		frame, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return res, errorf(KindIO, op, path, "read frame %d: %w", idx, rerr)
		}
		res.FramesRead++

		sampled := idx%o.opts.SampleEvery == 0
		o.metrics.FrameRead(sampled)
		if sampled {
			_, dets, perr := o.ProcessFrame(ctx, frame)
			if perr != nil {
				return res, perr
			}
			res.FramesSampled++
			res.Detections = append(res.Detections, dets...)
		}
		if werr := sink.Write(frame); werr != nil {
			return res, errorf(KindIO, op, outputPath, "write frame %d: %w", idx, werr)
		}
		if res.FramesRead%100 == 0 {
			logger.Debug("Pipeline", "Processed %d/%d frames", res.FramesRead, meta.FrameCount)
		}
	}

	logger.Info("Pipeline", "Video complete: %d frames, %d sampled, %d detections",
		res.FramesRead, res.FramesSampled, len(res.Detections))
	return res, nil
}

// EmitFunc receives each annotated live frame. The frame is only valid for
// the duration of the call.
type EmitFunc func(frame *image.RGBA, dets []detection.Detection) error

// RunLive pulls frames from src until it reports io.EOF, ctx is cancelled or
// emit fails. Returning ErrStop from emit ends the loop without error. The
// caller owns src.
func (o *Orchestrator) RunLive(ctx context.Context, src FrameSource, emit EmitFunc) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := src.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return newError(KindIO, "live", "", err)
		}
		frame, dets, err := o.ProcessFrame(ctx, frame)
		if err != nil {
			return err
		}
		o.metrics.LiveFrame()
		if err := emit(frame, dets); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
}

// detect resizes img for inference, runs the detector with the taxonomy
// allow-list and maps boxes back to img's coordinate space before filtering.
func (o *Orchestrator) detect(ctx context.Context, img image.Image, allowUpscale bool) ([]detection.Detection, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, errorf(KindProcessing, "detect", "", "empty image")
	}
	scale := inferenceScale(b.Dx(), b.Dy(), o.opts.InferenceSize, allowUpscale)

	input := img
	if scale != 1 {
		input = resize(img, scale)
	}

	params := detector.Params{
		ClassIDs:   o.filter.Table().AllowedClassIDs(),
		Confidence: o.opts.Confidence,
		IoU:        o.opts.IoU,
	}
	start := time.Now()
	raw, err := o.det.Infer(ctx, input, params)
	o.metrics.ObserveInference(time.Since(start), err)
	if err != nil {
		if errors.Is(err, detector.ErrUnavailable) {
			return nil, newError(KindModelUnavailable, "detect", "", err)
		}
		return nil, newError(KindProcessing, "detect", "", err)
	}

	ib := input.Bounds()
	for i := range raw {
		box := raw[i].BBox
		box.X1, box.X2 = box.X1-ib.Min.X, box.X2-ib.Min.X
		box.Y1, box.Y2 = box.Y1-ib.Min.Y, box.Y2-ib.Min.Y
		if scale != 1 {
			box = box.Scale(1/scale, 1/scale)
		}
		box.X1, box.X2 = box.X1+b.Min.X, box.X2+b.Min.X
		box.Y1, box.Y2 = box.Y1+b.Min.Y, box.Y2+b.Min.Y
		raw[i].BBox = box.Clamp(b)
	}

	dets, st := o.filter.ApplyWithStats(raw)
	o.metrics.ObserveFilter(len(raw), st.Kept, st.UnknownClass, st.BelowFloor)
	return dets, nil
}

// inferenceScale fits the longer edge to size. Without allowUpscale small
// images are left alone.
func inferenceScale(w, h, size int, allowUpscale bool) float64 {
	longer := max(w, h)
	if longer <= size && !allowUpscale {
		return 1
	}
	return min(float64(size)/float64(w), float64(size)/float64(h))
}

func resize(img image.Image, scale float64) *image.RGBA {
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*scale))
	h := max(1, int(float64(b.Dy())*scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

func decodeImage(path string) (image.Image, error) {
	const op = "decode image"
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, newError(KindNotFound, op, path, err)
		}
		return nil, newError(KindIO, op, path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, newError(KindProcessing, op, path, err)
	}
	return img, nil
}

func encodeImage(path string, img image.Image, quality int) error {
	const op = "encode image"
	f, err := os.Create(path)
	if err != nil {
		return newError(KindIO, op, path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		err = png.Encode(f, img)
	case ".gif":
		err = gif.Encode(f, img, nil)
	default:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: quality})
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return newError(KindIO, op, path, err)
	}
	return nil
}
