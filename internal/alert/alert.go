// Package alert publishes high and caution severity detections to MQTT,
// rate limited per class.
package alert

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
	"github.com/dj-oyu/wildlife-camera/detection-server/pkg/types"
)

// Publisher delivers a payload to a topic.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Event is the JSON payload of one alert.
type Event struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Source      string            `json:"source"`
	Class       string            `json:"class"`
	DisplayName string            `json:"display_name"`
	Category    taxonomy.Category `json:"category"`
	Severity    string            `json:"severity"`
	Confidence  float64           `json:"confidence"`
	BBox        types.BBox        `json:"bbox"`
	Message     string            `json:"message"`
}

// Config controls which detections are published and how often.
type Config struct {
	TopicPrefix string            // events go to <prefix>/<severity>/<class>
	MinSeverity taxonomy.Severity // lowest severity published
	Cooldown    time.Duration     // per class and source
}

// Notifier turns detections into MQTT events.
type Notifier struct {
	pub      Publisher
	cfg      Config
	cooldown *cache.Cache
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewNotifier wraps pub. A zero cooldown publishes every detection.
func NewNotifier(pub Publisher, cfg Config, m *metrics.Metrics) *Notifier {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "wildlife/alerts"
	}
	ttl := max(cfg.Cooldown, time.Second)
	return &Notifier{
		pub:      pub,
		cfg:      cfg,
		cooldown: cache.New(ttl, 2*ttl),
		metrics:  m,
		now:      time.Now,
	}
}

// Notify publishes qualifying detections from source and returns how many
// were sent. A nil Notifier does nothing.
func (n *Notifier) Notify(source string, dets []detection.Detection) int {
	if n == nil {
		return 0
	}
	sent := 0
	for _, d := range dets {
		if d.Severity < n.cfg.MinSeverity {
			continue
		}
		key := source + "/" + d.ClassName
		if n.cfg.Cooldown > 0 {
			if _, hit := n.cooldown.Get(key); hit {
				n.metrics.AlertOutcome(false, true, nil)
				continue
			}
		}

		ev := Event{
			ID:          uuid.NewString(),
			Timestamp:   n.now().UTC(),
			Source:      source,
			Class:       d.ClassName,
			DisplayName: d.DisplayName,
			Category:    d.Category,
			Severity:    d.Severity.String(),
			Confidence:  d.Confidence,
			BBox:        d.BBox,
			Message:     d.Alert,
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			n.metrics.AlertOutcome(false, false, err)
			continue
		}
		topic := fmt.Sprintf("%s/%s/%s", n.cfg.TopicPrefix, ev.Severity, ev.Class)
		if err := n.pub.Publish(topic, payload); err != nil {
			logger.Warn("Alert", "Publish %s failed: %v", topic, err)
			n.metrics.AlertOutcome(false, false, err)
			continue
		}
		if n.cfg.Cooldown > 0 {
			n.cooldown.Set(key, ev.ID, n.cfg.Cooldown)
		}
		n.metrics.AlertOutcome(true, false, nil)
		sent++
	}
	return sent
}
