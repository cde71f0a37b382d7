// Package detector defines the object-detection capability the pipeline runs
// against and its backends.
package detector

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// ErrUnavailable is returned when the model could not be loaded.
var ErrUnavailable = errors.New("detector unavailable")

// Params restricts a single inference call.
type Params struct {
	ClassIDs   []int   // allow-list; empty means every class
	Confidence float64 // minimum score
	IoU        float64 // suppression overlap
}

// Allows reports whether id is in the allow-list.
func (p Params) Allows(id int) bool {
	if len(p.ClassIDs) == 0 {
		return true
	}
	for _, c := range p.ClassIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Detector returns boxes in the pixel space of the image it was given.
type Detector interface {
	Infer(ctx context.Context, img image.Image, p Params) ([]types.RawDetection, error)
	Close() error
}

// Func adapts a function to Detector.
type Func func(ctx context.Context, img image.Image, p Params) ([]types.RawDetection, error)

// Infer calls f.
func (f Func) Infer(ctx context.Context, img image.Image, p Params) ([]types.RawDetection, error) {
	return f(ctx, img, p)
}

// Close is a no-op.
func (f Func) Close() error { return nil }

// Lazy constructs its detector on first use, exactly once, and shares it
// afterwards. A construction error is sticky.
type Lazy struct {
	build func() (Detector, error)

	once  sync.Once
	det   Detector
	err   error
	built atomic.Bool
}

// NewLazy wraps build.
func NewLazy(build func() (Detector, error)) *Lazy {
	return &Lazy{build: build}
}

// Get returns the shared detector, building it if needed.
func (l *Lazy) Get() (Detector, error) {
	l.once.Do(func() {
		l.det, l.err = l.build()
		if l.err == nil && l.det == nil {
			l.err = errors.New("constructor returned nil detector")
		}
		if l.err != nil {
			l.err = fmt.Errorf("%w: %v", ErrUnavailable, l.err)
			return
		}
		l.built.Store(true)
	})
	return l.det, l.err
}

// Loaded reports whether construction has succeeded.
func (l *Lazy) Loaded() bool {
	return l.built.Load()
}

// Infer builds the detector if needed and runs it.
func (l *Lazy) Infer(ctx context.Context, img image.Image, p Params) ([]types.RawDetection, error) {
	d, err := l.Get()
	if err != nil {
		return nil, err
	}
	return d.Infer(ctx, img, p)
}

// Close releases the detector if it was built.
func (l *Lazy) Close() error {
	if !l.built.Load() {
		return nil
	}
	return l.det.Close()
}
