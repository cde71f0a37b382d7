package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dj-oyu/wildlife-camera/detection-server/internal/config"
	"github.com/dj-oyu/wildlife-camera/detection-server/internal/logger"
)

// FlagBinding ties a command-line flag to a config key.
type FlagBinding struct {
	Key  string // e.g. "server.addr"
	Flag string // e.g. "http"
}

// LoadConfig layers defaults, the config file, WILDWATCH_* environment and
// any flags set on cmd, in increasing precedence.
func LoadConfig(cmd *cobra.Command, path string, bindings []FlagBinding) (*config.Config, error) {
	v, err := config.NewViper()
	if err != nil {
		return nil, err
	}
	for _, b := range bindings {
		f := cmd.Flags().Lookup(b.Flag)
		if f == nil {
			return nil, fmt.Errorf("unknown flag %q for %s", b.Flag, b.Key)
		}
		if err := v.BindPFlag(b.Key, f); err != nil {
			return nil, fmt.Errorf("error binding flag %s: %w", b.Flag, err)
		}
	}
	return config.Load(v, path)
}

// InitLogging configures the global logger.
func InitLogging(lc config.LogConfig) error {
	level, err := logger.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	logger.Init(level, os.Stderr, lc.Color)
	logger.SetLevel(level)
	return nil
}
