package main

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/app"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/config"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/detection"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/metrics"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/pipeline"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/taxonomy"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/video"
)

var flagBindings = []app.FlagBinding{
	{Key: "detector.backend", Flag: "backend"},
	{Key: "detector.model_path", Flag: "model"},
	{Key: "detector.endpoint", Flag: "endpoint"},
	{Key: "detector.confidence", Flag: "conf"},
	{Key: "detector.iou", Flag: "iou"},
	{Key: "log.level", Flag: "log-level"},
}

type cli struct {
	configPath string
	cfg        *config.Config
}

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	c := &cli{}
	def := config.DefaultConfig()

	root := &cobra.Command{
		Use:          "wildwatch",
		Short:        "Detect wildlife in images, videos and camera feeds",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(cmd, c.configPath, flagBindings)
			if err != nil {
				return err
			}
			if err := app.InitLogging(cfg.Log); err != nil {
				return err
			}
			c.cfg = cfg
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&c.configPath, "config", "c", "", "Config file (default: ./wildwatch.yaml)")
	pf.String("backend", def.Detector.Backend, "Detector backend (onnx, http)")
	pf.String("model", def.Detector.ModelPath, "ONNX model path")
	pf.String("endpoint", def.Detector.Endpoint, "Remote detector endpoint for the http backend")
	pf.Float64("conf", def.Detector.Confidence, "Base confidence threshold")
	pf.Float64("iou", def.Detector.IoU, "NMS IoU threshold")
	pf.String("log-level", def.Log.Level, "Log level (debug, info, warn, error, silent)")

	root.AddCommand(c.imageCommand(), c.videoCommand(), c.liveCommand(), c.classesCommand(), configCommand())
	return root
}

func (c *cli) build(videos pipeline.VideoBackend) (*app.App, error) {
	return app.Build(c.cfg, videos, metrics.New())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func (c *cli) imageCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "image <path>",
		Short: "Detect animals in a still image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.build(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			path := args[0]
			if out == "" {
				out = pipeline.DefaultOutputPath(path)
			}
			dets, wrote, err := a.Pipeline.DetectImageFile(ctx, path, out)
			if err != nil {
				return err
			}
			result := map[string]any{"detections": nonNil(dets)}
			if wrote {
				result["output"] = out
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Annotated output path (default: <name>_detected<ext>)")
	return cmd
}

func (c *cli) videoCommand() *cobra.Command {
	var (
		out         string
		sampleEvery int
	)
	cmd := &cobra.Command{
		Use:   "video <path>",
		Short: "Annotate a video file, sampling every Nth frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("every") {
				c.cfg.Detector.SampleEvery = sampleEvery
			}
			a, err := c.build(video.NewBackend())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := signalContext()
			defer cancel()

			res, err := a.Pipeline.ProcessVideo(ctx, args[0], out)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output video path (default: <name>_detected<ext>)")
	cmd.Flags().IntVar(&sampleEvery, "every", config.DefaultConfig().Detector.SampleEvery, "Run detection on every Nth frame")
	return cmd
}

func (c *cli) liveCommand() *cobra.Command {
	var (
		device    int
		maxFrames int
		snapshot  string
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Run detection on a camera and print alerts until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("device") {
				device = c.cfg.Camera.Device
			}
			a, err := c.build(nil)
			if err != nil {
				return err
			}
			defer a.Close()

			cam, err := video.OpenCamera(device)
			if err != nil {
				return err
			}
			defer cam.Close()

			ctx, cancel := signalContext()
			defer cancel()

			frames := 0
			return a.Pipeline.RunLive(ctx, cam, func(frame *image.RGBA, dets []detection.Detection) error {
				frames++
				for _, d := range dets {
					fmt.Printf("frame %d: %s (%.2f)\n", frames, d.Alert, d.Confidence)
				}
				a.Alerts.Notify("live", dets)
				if snapshot != "" && len(dets) > 0 {
					if err := writeSnapshot(snapshot, frame); err != nil {
						logger.Warn("Live", "Snapshot failed: %v", err)
					}
				}
				if maxFrames > 0 && frames >= maxFrames {
					return pipeline.ErrStop
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&device, "device", 0, "Camera device index")
	cmd.Flags().IntVar(&maxFrames, "frames", 0, "Stop after this many frames (0 runs until interrupted)")
	cmd.Flags().StringVar(&snapshot, "snapshot", "", "Write the latest annotated frame with detections to this JPEG path")
	return cmd
}

func writeSnapshot(path string, frame *image.RGBA) error {
	data, err := video.EncodeJPEG(frame, 90)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (c *cli) classesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List the detectable classes with their thresholds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := app.BuildTable(c.cfg)
			if err != nil {
				return err
			}
			policy, err := app.BuildPolicy(c.cfg, table)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tSEVERITY\tTHRESHOLD")
			for _, e := range table.Entries() {
				fmt.Fprintf(w, "%d\t%s %s\t%s\t%s\t%.2f\n",
					e.ID, e.Meta().Glyph, e.DisplayName(), e.Category, e.Meta().Severity,
					policy.Effective(taxonomy.ByID(e.ID)))
			}
			return w.Flush()
		},
	}
}

func configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a new file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "wildwatch.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := config.Write(path, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	})
	return cmd
}

func nonNil(dets []detection.Detection) []detection.Detection {
	if dets == nil {
		return []detection.Detection{}
	}
	return dets
}
