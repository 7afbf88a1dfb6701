package main

import (
	"strings"

	"github.com/spf13/cobra"

	"wakelisten/internal/config"
)

var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

// load resolves configuration and applies persistent flag overrides.
func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if level := strings.TrimSpace(o.logLevel); level != "" {
		cfg.Log.Level = level
	}
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "wakelisten",
		Short: "Wake-word gated voice command listener",
		Long: `wakelisten listens to the microphone through a streaming speech service,
waits for a wake word and records the commands spoken after it.

Commands are printed as they are captured, streamed to websocket clients of
the event bridge and optionally published to NATS.`,
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(newListenCommand(opts))
	cmd.AddCommand(newReplayCommand(opts))
	cmd.AddCommand(newInfoCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
