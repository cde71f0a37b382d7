// Package config loads server and detector settings from YAML, environment
// and command-line flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. WILDWATCH_SERVER_ADDR.
const EnvPrefix = "WILDWATCH"

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig       `mapstructure:"server" yaml:"server"`
	Detector   DetectorConfig     `mapstructure:"detector" yaml:"detector"`
	Thresholds map[string]float64 `mapstructure:"thresholds" yaml:"thresholds"`
	Classes    []ClassConfig      `mapstructure:"classes" yaml:"classes"`
	Camera     CameraConfig       `mapstructure:"camera" yaml:"camera"`
	MQTT       MQTTConfig         `mapstructure:"mqtt" yaml:"mqtt"`
	Log        LogConfig          `mapstructure:"log" yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	MetricsAddr       string        `mapstructure:"metrics_addr" yaml:"metrics_addr"`
	UploadDir         string        `mapstructure:"upload_dir" yaml:"upload_dir"`
	ResultsDir        string        `mapstructure:"results_dir" yaml:"results_dir"`
	MaxUploadMB       int           `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	AllowedExtensions []string      `mapstructure:"allowed_extensions" yaml:"allowed_extensions"`
	StatusInterval    time.Duration `mapstructure:"status_interval" yaml:"status_interval"`
	JPEGQuality       int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
}

// DetectorConfig selects and tunes the inference backend.
type DetectorConfig struct {
	Backend       string        `mapstructure:"backend" yaml:"backend"` // onnx | http
	ModelPath     string        `mapstructure:"model_path" yaml:"model_path"`
	SharedLibPath string        `mapstructure:"shared_lib_path" yaml:"shared_lib_path"`
	InputSize     int           `mapstructure:"input_size" yaml:"input_size"`
	NumClasses    int           `mapstructure:"num_classes" yaml:"num_classes"`
	Endpoint      string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Confidence    float64       `mapstructure:"confidence" yaml:"confidence"`
	IoU           float64       `mapstructure:"iou" yaml:"iou"`
	SampleEvery   int           `mapstructure:"sample_every" yaml:"sample_every"`
}

// ClassConfig adds a class to the built-in taxonomy.
type ClassConfig struct {
	ID       int    `mapstructure:"id" yaml:"id"`
	Name     string `mapstructure:"name" yaml:"name"`
	Category string `mapstructure:"category" yaml:"category"`
}

// CameraConfig selects the live capture device.
type CameraConfig struct {
	Device int `mapstructure:"device" yaml:"device"`
}

// MQTTConfig configures alert publishing.
type MQTTConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	Broker      string        `mapstructure:"broker" yaml:"broker"`
	ClientID    string        `mapstructure:"client_id" yaml:"client_id"`
	Username    string        `mapstructure:"username" yaml:"username"`
	Password    string        `mapstructure:"password" yaml:"password"`
	TopicPrefix string        `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	MinSeverity string        `mapstructure:"min_severity" yaml:"min_severity"` // caution | high | normal
	Cooldown    time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	Color bool   `mapstructure:"color" yaml:"color"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":5000",
			MetricsAddr:       "",
			UploadDir:         "uploads",
			ResultsDir:        "static/results",
			MaxUploadMB:       32,
			AllowedExtensions: []string{"png", "jpg", "jpeg", "gif", "mp4", "avi", "mov"},
			StatusInterval:    2 * time.Second,
			JPEGQuality:       85,
		},
		Detector: DetectorConfig{
			Backend:     "onnx",
			ModelPath:   "models/wildlife.onnx",
			InputSize:   640,
			NumClasses:  48,
			Timeout:     10 * time.Second,
			Confidence:  0.5,
			IoU:         0.45,
			SampleEvery: 5,
		},
		Thresholds: map[string]float64{},
		Camera:     CameraConfig{Device: 0},
		MQTT: MQTTConfig{
			Broker:      "localhost:1883",
			ClientID:    "wildwatch",
			TopicPrefix: "wildlife/alerts",
			MinSeverity: "caution",
			Cooldown:    30 * time.Second,
		},
		Log: LogConfig{Level: "info", Color: true},
	}
}

// NewViper returns a viper instance seeded with DefaultConfig and wired to
// WILDWATCH_* environment variables.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	def, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("encode defaults: %w", err)
	}
	if err := v.ReadConfig(bytes.NewReader(def)); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// Load merges the config file into v and decodes the result. An empty path
// searches ./wildwatch.yaml, ./config/wildwatch.yaml and /etc/wildwatch/;
// a missing file is not an error unless path was given explicitly.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("wildwatch")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/wildwatch")
	}

	if err := v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	unit := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v", name, v))
		}
	}
	unit("detector.confidence", c.Detector.Confidence)
	unit("detector.iou", c.Detector.IoU)
	for name, v := range c.Thresholds {
		unit("thresholds."+name, v)
	}

	switch c.Detector.Backend {
	case "onnx":
		if c.Detector.ModelPath == "" {
			errs = append(errs, errors.New("detector.model_path is required for the onnx backend"))
		}
	case "http":
		if c.Detector.Endpoint == "" {
			errs = append(errs, errors.New("detector.endpoint is required for the http backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("detector.backend must be onnx or http, got %q", c.Detector.Backend))
	}
	if c.Detector.InputSize <= 0 || c.Detector.InputSize%32 != 0 {
		errs = append(errs, fmt.Errorf("detector.input_size must be a positive multiple of 32, got %d", c.Detector.InputSize))
	}
	if c.Detector.SampleEvery <= 0 {
		errs = append(errs, fmt.Errorf("detector.sample_every must be positive, got %d", c.Detector.SampleEvery))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB))
	}
	for i, cl := range c.Classes {
		if cl.Name == "" || cl.Category == "" {
			errs = append(errs, fmt.Errorf("classes[%d] needs a name and a category", i))
		}
	}
	switch strings.ToLower(c.MQTT.MinSeverity) {
	case "normal", "caution", "high":
	default:
		errs = append(errs, fmt.Errorf("mqtt.min_severity must be normal, caution or high, got %q", c.MQTT.MinSeverity))
	}
	return errors.Join(errs...)
}

// MaxUploadBytes converts the upload limit to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}

// Write saves cfg as YAML, refusing to overwrite an existing file.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
