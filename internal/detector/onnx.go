package detector

import (
	"context"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// ONNXConfig configures a YOLOv8-style ONNX model.
type ONNXConfig struct {
	ModelPath     string
	SharedLibPath string // empty picks a per-platform default
	InputSize     int
	NumClasses    int
	InputName     string
	OutputName    string
	Threads       int
}

// DefaultONNXConfig returns settings for a 640x640 single-output export.
func DefaultONNXConfig() ONNXConfig {
	return ONNXConfig{
		ModelPath:  "models/wildlife.onnx",
		InputSize:  640,
		NumClasses: 48,
		InputName:  "images",
		OutputName: "output0",
		Threads:    1,
	}
}

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libPath string) error {
	envOnce.Do(func() {
		if libPath == "" {
			libPath = defaultSharedLibPath()
		}
		ort.SetSharedLibraryPath(libPath)
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

func defaultSharedLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/onnxruntime_arm64.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// ONNX runs a YOLOv8 export through onnxruntime. Calls are serialized on the
// session's bound tensors.
type ONNX struct {
	cfg     ONNXConfig
	anchors int

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNX loads the model. It is expensive; wrap it in a Lazy.
func NewONNX(cfg ONNXConfig) (*ONNX, error) {
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.ModelPath, err)
	}
	if err := initEnvironment(cfg.SharedLibPath); err != nil {
		return nil, fmt.Errorf("init onnxruntime: %w", err)
	}

	size := int64(cfg.InputSize)
	anchors := anchorCount(cfg.InputSize)

	input, err := ort.NewTensor(ort.NewShape(1, 3, size, size), make([]float32, 3*size*size))
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+cfg.NumClasses), int64(anchors)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer opts.Destroy()
	if cfg.Threads > 0 {
		_ = opts.SetIntraOpNumThreads(cfg.Threads)
		_ = opts.SetInterOpNumThreads(cfg.Threads)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, opts)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}

	logger.Info("Detector", "Loaded %s (%dx%d, %d classes, %d anchors)",
		cfg.ModelPath, cfg.InputSize, cfg.InputSize, cfg.NumClasses, anchors)

	return &ONNX{cfg: cfg, anchors: anchors, session: session, input: input, output: output}, nil
}

// Infer letterboxes img, runs the model and applies per-class NMS.
func (o *ONNX) Infer(ctx context.Context, img image.Image, p Params) ([]types.RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	boxed, lb := letterbox(img, o.cfg.InputSize)

	o.mu.Lock()
	defer o.mu.Unlock()

	toCHW(boxed, o.input.GetData())
	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("run session: %w", err)
	}
	raw := decodeYOLO(o.output.GetData(), o.cfg.NumClasses, o.anchors, lb, p)
	return NMS(raw, p.IoU), nil
}

// Close destroys the session and its tensors.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var firstErr error
	for _, d := range []interface{ Destroy() error }{o.session, o.input, o.output} {
		if err := d.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
