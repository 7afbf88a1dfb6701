package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"wakelisten/internal/config"
)

// runtimeInfo returns non-sensitive configuration for display.
func runtimeInfo(cfg config.Config) map[string]string {
	info := map[string]string{
		"provider":         "Deepgram",
		"model":            cfg.Deepgram.Model,
		"language":         firstSet(cfg.Session.Language, cfg.Deepgram.Language),
		"wakeWord":         cfg.Session.WakeWord,
		"mode":             cfg.Session.Mode,
		"rulesFile":        cfg.Rules.Path,
		"audioInput":       cfg.Audio.InputDevice,
		"audioInputFormat": cfg.Audio.InputFormat,
		"permission":       cfg.Audio.Permission,
		"restart":          fmt.Sprintf("%s from %s up to %s, %d retries", cfg.Session.Restart.Strategy, cfg.Session.Restart.Delay, cfg.Session.Restart.MaxDelay, cfg.Session.Restart.MaxRetries),
		"apiKeyConfigured": fmt.Sprint(cfg.Deepgram.APIKey != ""),
	}
	if cfg.Bridge.Enabled {
		info["bridge"] = cfg.Bridge.Addr
	}
	if len(cfg.NATS.URLs) > 0 {
		info["natsSubject"] = cfg.NATS.Subject
	}
	return info
}

func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func newInfoCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the resolved runtime configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(runtimeInfo(cfg))
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wakelisten version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wakelisten %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
