// Package cli implements the agora commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nidhogg/agora/internal/config"
)

const defaultConfig = "configs/agora.yaml"

var (
	configPath string
	seedFlag   int64
	agentFlag  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:           "agora",
	Short:         "Social-media multi-agent simulation",
	Long:          "Replays a dataset's history into LLM-driven agents and simulates their posting, liking and reposting over time.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $AGORA_CONFIG or "+defaultConfig+")")
	RootCmd.PersistentFlags().Int64Var(&seedFlag, "seed", 0, "Override the config seed")
	RootCmd.PersistentFlags().StringVar(&agentFlag, "agent", "llm", "Agent kind for new users: llm or naive")
}

func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("AGORA_CONFIG"); env != "" {
		return env
	}
	return defaultConfig
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if seedFlag != 0 {
		cfg.Seed = seedFlag
	}
	return cfg, nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// Fail reports a command error on stderr.
func Fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}
