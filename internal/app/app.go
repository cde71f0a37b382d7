// Package app assembles the detection components from configuration.
package app

import (
	"errors"
	"fmt"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/alert"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/annotate"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/config"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detector"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/storage"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/threshold"
)

// App holds the wired components shared by the server and the CLI.
type App struct {
	Config   *config.Config
	Table    *taxonomy.Table
	Policy   *threshold.Policy
	Detector *detector.Lazy
	Pipeline *pipeline.Orchestrator
	Store    *storage.Store
	Alerts   *alert.Notifier // nil unless MQTT is enabled
	Metrics  *metrics.Metrics

	mqtt *alert.MQTTPublisher
}

// Build wires every component from cfg. videos may be nil when no video
// support is needed. The detector is not loaded until first use.
func Build(cfg *config.Config, videos pipeline.VideoBackend, m *metrics.Metrics) (*App, error) {
	table, err := BuildTable(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := BuildPolicy(cfg, table)
	if err != nil {
		return nil, err
	}

	ann, err := annotate.New()
	if err != nil {
		return nil, fmt.Errorf("load annotation font: %w", err)
	}

	lazy := detector.NewLazy(func() (detector.Detector, error) {
		return NewDetector(cfg.Detector)
	})

	opts := pipeline.DefaultOptions()
	opts.Confidence = cfg.Detector.Confidence
	opts.IoU = cfg.Detector.IoU
	opts.InferenceSize = cfg.Detector.InputSize
	opts.SampleEvery = cfg.Detector.SampleEvery
	if cfg.Server.JPEGQuality > 0 {
		opts.JPEGQuality = cfg.Server.JPEGQuality
	}
	orch := pipeline.New(lazy, detection.NewFilter(table, policy), ann, videos, m, opts)

	store, err := storage.New(cfg.Server.UploadDir, cfg.Server.ResultsDir, cfg.Server.AllowedExtensions, cfg.MaxUploadBytes())
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Table:    table,
		Policy:   policy,
		Detector: lazy,
		Pipeline: orch,
		Store:    store,
		Metrics:  m,
	}

	if cfg.MQTT.Enabled {
		if err := a.connectAlerts(); err != nil {
			return nil, err
		}
	}

	logger.Info("App", "Taxonomy: %d classes, %d threshold overrides, default %.2f",
		table.Len(), len(policy.Overrides()), policy.Default())
	return a, nil
}

func (a *App) connectAlerts() error {
	mc := a.Config.MQTT
	minSev, err := taxonomy.ParseSeverity(mc.MinSeverity)
	if err != nil {
		return fmt.Errorf("mqtt.min_severity: %w", err)
	}
	pub, err := alert.ConnectMQTT(alert.MQTTConfig{
		Broker:   mc.Broker,
		ClientID: mc.ClientID,
		Username: mc.Username,
		Password: mc.Password,
		QoS:      1,
	})
	if err != nil {
		return err
	}
	a.mqtt = pub
	a.Alerts = alert.NewNotifier(pub, alert.Config{
		TopicPrefix: mc.TopicPrefix,
		MinSeverity: minSev,
		Cooldown:    mc.Cooldown,
	}, a.Metrics)
	return nil
}

// BuildTable returns the default taxonomy extended with configured classes.
func BuildTable(cfg *config.Config) (*taxonomy.Table, error) {
	table := taxonomy.DefaultTable()
	if len(cfg.Classes) == 0 {
		return table, nil
	}
	extra := make([]taxonomy.ClassEntry, 0, len(cfg.Classes))
	for _, c := range cfg.Classes {
		extra = append(extra, taxonomy.ClassEntry{
			ID:       c.ID,
			Name:     c.Name,
			Category: taxonomy.Category(c.Category),
		})
	}
	table, err := table.Extend(extra)
	if err != nil {
		return nil, fmt.Errorf("extend taxonomy: %w", err)
	}
	return table, nil
}

// BuildPolicy layers configured thresholds over the stock overrides.
func BuildPolicy(cfg *config.Config, table *taxonomy.Table) (*threshold.Policy, error) {
	overrides := threshold.DefaultOverrides()
	for name, v := range cfg.Thresholds {
		overrides[name] = v
	}
	return threshold.NewPolicy(table, overrides, cfg.Detector.Confidence)
}

// NewDetector constructs the configured inference backend.
func NewDetector(dc config.DetectorConfig) (detector.Detector, error) {
	switch dc.Backend {
	case "onnx":
		oc := detector.DefaultONNXConfig()
		oc.ModelPath = dc.ModelPath
		oc.SharedLibPath = dc.SharedLibPath
		if dc.InputSize > 0 {
			oc.InputSize = dc.InputSize
		}
		if dc.NumClasses > 0 {
			oc.NumClasses = dc.NumClasses
		}
		logger.Info("App", "Loading ONNX model %s (%dpx, %d classes)", oc.ModelPath, oc.InputSize, oc.NumClasses)
		return detector.NewONNX(oc)
	case "http":
		logger.Info("App", "Using remote detector %s", dc.Endpoint)
		return detector.NewRemote(dc.Endpoint, dc.Timeout)
	default:
		return nil, fmt.Errorf("unknown detector backend %q", dc.Backend)
	}
}

// Close releases the detector and the MQTT session.
func (a *App) Close() error {
	var errs []error
	if err := a.Detector.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close detector: %w", err))
	}
	if a.mqtt != nil {
		if err := a.mqtt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mqtt: %w", err))
		}
	}
	return errors.Join(errs...)
}
