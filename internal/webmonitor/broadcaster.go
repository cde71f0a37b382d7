package webmonitor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"sync"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// LiveRunner drives the live detection loop over src until ctx ends.
type LiveRunner func(ctx context.Context, src pipeline.FrameSource, emit pipeline.EmitFunc) error

// FrameBroadcaster fans annotated camera frames out to MJPEG clients. The
// camera is opened when the first client subscribes and released when the
// last one leaves.
type FrameBroadcaster struct {
	open    CameraOpener
	run     LiveRunner
	encode  func(*image.RGBA) ([]byte, error)
	observe func([]detection.Detection)

	mu      sync.Mutex
	clients map[int]chan []byte
	nextID  int
	cancel  context.CancelFunc
	done    chan struct{} // closed when the current capture has released the camera
	gen     int
	stopped bool
}

// NewFrameBroadcaster creates a broadcaster. observe, if non-nil, is called
// with the detections of every live frame.
func NewFrameBroadcaster(open CameraOpener, run LiveRunner, encode func(*image.RGBA) ([]byte, error), observe func([]detection.Detection)) *FrameBroadcaster {
	return &FrameBroadcaster{
		open:    open,
		run:     run,
		encode:  encode,
		observe: observe,
		clients: make(map[int]chan []byte),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
// The channel is closed when the camera stops producing frames.
func (fb *FrameBroadcaster) Subscribe() (int, <-chan []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	id := fb.nextID
	fb.nextID++
	ch := make(chan []byte, 2) // Buffer 2 frames to avoid blocking
	fb.clients[id] = ch

	logger.Debug("FrameBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(fb.clients))
	if fb.cancel == nil && !fb.stopped {
		fb.startLocked()
	}
	return id, ch
}

// Unsubscribe removes a client.
func (fb *FrameBroadcaster) Unsubscribe(id int) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if ch, ok := fb.clients[id]; ok {
		close(ch)
		delete(fb.clients, id)
		logger.Debug("FrameBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(fb.clients))

		if len(fb.clients) == 0 {
			logger.Info("FrameBroadcaster", "No clients remaining - releasing camera")
			fb.stopCaptureLocked()
		}
	}
}

// Clients returns the number of connected clients.
func (fb *FrameBroadcaster) Clients() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.clients)
}

// Running reports whether a capture loop is active.
func (fb *FrameBroadcaster) Running() bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.cancel != nil
}

// Stop halts capture and disconnects every client.
func (fb *FrameBroadcaster) Stop() {
	fb.mu.Lock()
	fb.stopped = true
	fb.stopCaptureLocked()
	fb.closeClientsLocked()
	done := fb.done
	fb.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (fb *FrameBroadcaster) startLocked() {
	if fb.open == nil || fb.run == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	fb.gen++
	fb.cancel = cancel
	prev := fb.done
	done := make(chan struct{})
	fb.done = done
	go fb.capture(ctx, fb.gen, prev, done)
}

func (fb *FrameBroadcaster) stopCaptureLocked() {
	if fb.cancel != nil {
		fb.cancel()
		fb.cancel = nil
	}
}

func (fb *FrameBroadcaster) closeClientsLocked() {
	for id, ch := range fb.clients {
		close(ch)
		delete(fb.clients, id)
	}
}

func (fb *FrameBroadcaster) capture(ctx context.Context, gen int, prev <-chan struct{}, done chan struct{}) {
	defer close(done)

	// The previous capture may still hold the device.
	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		return
	}

	err := fb.captureOnce(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.Warn("FrameBroadcaster", "Live capture stopped: %v", err)
	} else {
		logger.Info("FrameBroadcaster", "Camera stream ended")
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.gen == gen && fb.cancel != nil {
		fb.cancel()
		fb.cancel = nil
		fb.closeClientsLocked()
	}
}

func (fb *FrameBroadcaster) captureOnce(ctx context.Context) error {
	src, err := fb.open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			logger.Warn("FrameBroadcaster", "Camera close failed: %v", cerr)
		}
	}()

	logger.Info("FrameBroadcaster", "Camera opened, starting live detection")
	return fb.run(ctx, src, func(frame *image.RGBA, dets []detection.Detection) error {
		if fb.observe != nil {
			fb.observe(dets)
		}
		jpegData, err := fb.encode(frame)
		if err != nil {
			logger.Warn("FrameBroadcaster", "JPEG encode failed: %v", err)
			return nil
		}
		fb.broadcast(jpegData)
		return nil
	})
}

func (fb *FrameBroadcaster) broadcast(data []byte) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	for _, ch := range fb.clients {
		select {
		case ch <- data:
		default:
			// Client too slow, skip this frame for this client
		}
	}
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // google.protobuf.Struct, base64 encoded for SSE
}

// DetectionBroadcaster fans detection events out to SSE clients.
type DetectionBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	stopped bool
}

// NewDetectionBroadcaster creates a broadcaster for detection events.
func NewDetectionBroadcaster() *DetectionBroadcaster {
	return &DetectionBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
	}
}

// Subscribe adds a new client and returns a channel for receiving detection events.
func (db *DetectionBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	id := db.nextID
	db.nextID++
	ch := make(chan *SerializedEvent, 8)
	if db.stopped {
		close(ch)
		return id, ch
	}
	db.clients[id] = ch

	logger.Debug("DetectionBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(db.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (db *DetectionBroadcaster) Unsubscribe(id int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if ch, ok := db.clients[id]; ok {
		close(ch)
		delete(db.clients, id)
		logger.Debug("DetectionBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(db.clients))
	}
}

// Stop disconnects every client.
func (db *DetectionBroadcaster) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.stopped = true
	for id, ch := range db.clients {
		close(ch)
		delete(db.clients, id)
	}
}

// Publish serializes a result with detections and sends it to every client.
// Results without detections are dropped.
func (db *DetectionBroadcaster) Publish(res DetectionResult) {
	if len(res.Detections) == 0 {
		return
	}
	db.mu.Lock()
	idle := len(db.clients) == 0
	db.mu.Unlock()
	if idle {
		return
	}

	event, err := serializeEvent(DetectionEvent{
		Source:      res.Source,
		FrameNumber: res.FrameNumber,
		Timestamp:   res.Timestamp,
		Detections:  res.Detections,
	})
	if err != nil {
		logger.Error("DetectionBroadcaster", "Serialize error: %v", err)
		return
	}
	db.broadcast(event)
}

func serializeEvent(ev DetectionEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}

	st := &structpb.Struct{}
	if err := protojson.Unmarshal(jsonData, st); err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, err
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func (db *DetectionBroadcaster) broadcast(event *SerializedEvent) {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, ch := range db.clients {
		select {
		case ch <- event:
		default:
			// Client too slow, skip this event for this client
		}
	}
}
