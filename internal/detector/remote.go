package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// Remote posts frames to an HTTP inference service.
//
// Request: POST <endpoint>?classes=1,2&conf=0.5&iou=0.45 with a JPEG body.
// Response: {"detections":[{"bbox":[x1,y1,x2,y2],"confidence":0.9,"class_id":15}]}
type Remote struct {
	endpoint string
	client   *http.Client
	quality  int
}

type remoteResponse struct {
	Detections []struct {
		BBox       [4]float64 `json:"bbox"`
		Confidence float64    `json:"confidence"`
		ClassID    int        `json:"class_id"`
	} `json:"detections"`
}

// NewRemote validates endpoint and builds a client with the given timeout.
func NewRemote(endpoint string, timeout time.Duration) (*Remote, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid detector endpoint %q", endpoint)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		quality:  90,
	}, nil
}

// Infer sends img and returns the service's boxes, clamped to img.
func (r *Remote) Infer(ctx context.Context, img image.Image, p Params) ([]types.RawDetection, error) {
	var body bytes.Buffer
	if err := jpeg.Encode(&body, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	u, _ := url.Parse(r.endpoint)
	q := u.Query()
	if len(p.ClassIDs) > 0 {
		ids := make([]string, len(p.ClassIDs))
		for i, id := range p.ClassIDs {
			ids[i] = strconv.Itoa(id)
		}
		q.Set("classes", strings.Join(ids, ","))
	}
	q.Set("conf", strconv.FormatFloat(p.Confidence, 'f', -1, 64))
	q.Set("iou", strconv.FormatFloat(p.IoU, 'f', -1, 64))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("detector returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	bounds := img.Bounds()
	out := make([]types.RawDetection, 0, len(decoded.Detections))
	for _, d := range decoded.Detections {
		box := types.BBox{
			X1: int(d.BBox[0]), Y1: int(d.BBox[1]),
			X2: int(d.BBox[2]), Y2: int(d.BBox[3]),
		}.Clamp(bounds)
		if !box.Valid() {
			continue
		}
		out = append(out, types.RawDetection{BBox: box, Confidence: d.Confidence, ClassID: d.ClassID})
	}
	return out, nil
}

// Close releases idle connections.
func (r *Remote) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
