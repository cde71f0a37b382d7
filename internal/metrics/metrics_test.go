package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveInference(time.Millisecond, errors.New("x"))
		m.ObserveFilter(3, 1, 1, 1)
		m.ObserveFrame(time.Now(), true, true)
		m.FrameRead(true)
		m.ImageProcessed()
		m.VideoFinished(nil)
		m.AlertOutcome(true, false, nil)
		m.ClientConnected()
		m.ClientDisconnected()
	})
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ObserveInference(12*time.Millisecond, nil)
	m.ObserveInference(5*time.Millisecond, errors.New("boom"))
	m.ObserveFilter(4, 2, 1, 1)
	m.ObserveFrame(time.Now(), true, false)
	m.FrameRead(true)
	m.FrameRead(false)
	m.VideoFinished(errors.New("bad frame"))
	m.AlertOutcome(false, true, nil)
	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()
	m.ClientDisconnected()
	m.ClientDisconnected()

	assert.Equal(t, uint64(5), m.InferenceLatencyMs.Load())
	assert.Equal(t, uint64(1), m.InferenceErrors.Load())
	assert.Equal(t, uint64(4), m.RawDetections.Load())
	assert.Equal(t, uint64(1), m.HighSeverityFrames.Load())
	assert.Zero(t, m.CautionFrames.Load())
	assert.Zero(t, m.ActiveClients.Load())
	assert.Equal(t, uint64(2), m.TotalClients.Load())
	assert.Equal(t, uint64(2), m.FramesRead.Load())
	assert.Equal(t, uint64(1), m.FramesPassedThrough.Load())
	assert.Equal(t, uint64(1), m.VideoErrors.Load())
	assert.Zero(t, m.VideosProcessed.Load())
	assert.Equal(t, uint64(1), m.AlertsSuppressed.Load())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wildlife_detections_kept_total 2")
	assert.Contains(t, string(body), "wildlife_frames_sampled_total 1")
}
