package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/app"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/config"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/video"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/webmonitor"
)

var flagBindings = []app.FlagBinding{
	{Key: "server.addr", Flag: "http"},
	{Key: "server.metrics_addr", Flag: "metrics"},
	{Key: "server.upload_dir", Flag: "uploads"},
	{Key: "server.results_dir", Flag: "results"},
	{Key: "camera.device", Flag: "camera"},
	{Key: "detector.backend", Flag: "backend"},
	{Key: "detector.model_path", Flag: "model"},
	{Key: "detector.endpoint", Flag: "endpoint"},
	{Key: "detector.confidence", Flag: "conf"},
	{Key: "detector.iou", Flag: "iou"},
	{Key: "mqtt.enabled", Flag: "mqtt"},
	{Key: "mqtt.broker", Flag: "mqtt-broker"},
	{Key: "log.level", Flag: "log-level"},
	{Key: "log.color", Flag: "log-color"},
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var (
		configPath string
		pprofAddr  string
		preload    bool
	)
	def := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:          "wildwatch-server",
		Short:        "Wildlife detection web server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(cmd, configPath, flagBindings)
			if err != nil {
				return err
			}
			if err := app.InitLogging(cfg.Log); err != nil {
				return err
			}
			return run(cfg, pprofAddr, preload)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "Config file (default: ./wildwatch.yaml)")
	f.String("http", def.Server.Addr, "HTTP server address")
	f.String("metrics", def.Server.MetricsAddr, "Separate metrics server address (empty serves /metrics on the main server only)")
	f.StringVar(&pprofAddr, "pprof", "", "pprof server address (disabled when empty)")
	f.String("uploads", def.Server.UploadDir, "Upload directory")
	f.String("results", def.Server.ResultsDir, "Annotated results directory")
	f.Int("camera", def.Camera.Device, "Camera device index for /video_feed")
	f.String("backend", def.Detector.Backend, "Detector backend (onnx, http)")
	f.String("model", def.Detector.ModelPath, "ONNX model path")
	f.String("endpoint", def.Detector.Endpoint, "Remote detector endpoint for the http backend")
	f.Float64("conf", def.Detector.Confidence, "Base confidence threshold")
	f.Float64("iou", def.Detector.IoU, "NMS IoU threshold")
	f.Bool("mqtt", def.MQTT.Enabled, "Publish alerts over MQTT")
	f.String("mqtt-broker", def.MQTT.Broker, "MQTT broker address")
	f.String("log-level", def.Log.Level, "Log level (debug, info, warn, error, silent)")
	f.Bool("log-color", def.Log.Color, "Enable colored log output")
	f.BoolVar(&preload, "preload", true, "Load the detector at startup instead of on first request")

	return cmd
}

// Server owns the HTTP listeners and the detection components.
type Server struct {
	cfg        *config.Config
	app        *app.App
	metrics    *metrics.Metrics
	web        *webmonitor.Server
	httpServer *http.Server
	pprofAddr  string
	wg         sync.WaitGroup
}

func run(cfg *config.Config, pprofAddr string, preload bool) error {
	logger.Info("Main", "Wildlife detection server starting...")

	srv, err := NewServer(cfg, pprofAddr)
	if err != nil {
		return err
	}

	if preload {
		logger.Info("Main", "Initializing detector (%s)...", cfg.Detector.Backend)
		if _, err := srv.app.Detector.Get(); err != nil {
			// Requests will report the model as unavailable.
			logger.Error("Main", "Detector failed to load: %v", err)
		} else {
			logger.Info("Main", "Detector initialized")
		}
	}

	srv.Start()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
		return err
	}
	logger.Info("Main", "Server stopped")
	return nil
}

// NewServer wires the application and HTTP handlers.
func NewServer(cfg *config.Config, pprofAddr string) (*Server, error) {
	m := metrics.New()

	a, err := app.Build(cfg, video.NewBackend(), m)
	if err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	device := cfg.Camera.Device
	wcfg := webmonitor.DefaultConfig()
	wcfg.Addr = cfg.Server.Addr
	wcfg.MaxUploadBytes = cfg.MaxUploadBytes()
	wcfg.StatusInterval = cfg.Server.StatusInterval
	wcfg.JPEGQuality = cfg.Server.JPEGQuality
	wcfg.OpenCamera = func() (pipeline.FrameSource, error) {
		cam, err := video.OpenCamera(device)
		if err != nil {
			return nil, err
		}
		return cam, nil
	}
	wcfg.EncodeJPEG = video.EncodeJPEG

	web := webmonitor.NewServer(wcfg, webmonitor.Deps{
		Pipeline:       a.Pipeline,
		Store:          a.Store,
		Alerts:         a.Alerts,
		Metrics:        m,
		DetectorLoaded: a.Detector.Loaded,
	})

	return &Server{
		cfg:     cfg,
		app:     a,
		metrics: m,
		web:     web,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           web.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		pprofAddr: pprofAddr,
	}, nil
}

// Start launches the listeners in the background.
func (s *Server) Start() {
	logger.Info("Main", "  HTTP server: %s", s.cfg.Server.Addr)
	logger.Info("Main", "  Uploads: %s  Results: %s", s.cfg.Server.UploadDir, s.cfg.Server.ResultsDir)
	logger.Info("Main", "  Camera device: %d", s.cfg.Camera.Device)

	if s.pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", s.pprofAddr)
			if err := http.ListenAndServe(s.pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	if addr := s.cfg.Server.MetricsAddr; addr != "" {
		go func() {
			logger.Info("Main", "Starting metrics server on %s", addr)
			if err := s.metrics.StartServer(addr); err != nil {
				logger.Warn("Main", "Metrics server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		logger.Info("Main", "Starting HTTP server on %s", s.cfg.Server.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()
}

// Shutdown stops live capture, drains HTTP requests and releases the model.
func (s *Server) Shutdown() error {
	s.web.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()

	return errors.Join(err, s.app.Close())
}
