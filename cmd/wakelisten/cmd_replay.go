package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"wakelisten/internal/bootstrap"
	"wakelisten/internal/domain"
	"wakelisten/internal/speech"
)

// replayReport is the --json output of the replay command.
type replayReport struct {
	Script   string                `json:"script"`
	State    domain.SessionState   `json:"state"`
	WakeWord string                `json:"wake_word"`
	Commands []domain.CommandEntry `json:"commands"`
}

func newReplayCommand(root *rootOptions) *cobra.Command {
	var (
		asJSON  bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <script.yaml>",
		Short: "Run the session against a recorded transcript script",
		Long: `Run the session against a recorded transcript script instead of the
microphone and print the resulting command log.

A script is a YAML list of recognizer callbacks:

  language: en-US
  interval: 50ms
  steps:
    - partial: "hel"
    - final: "hello"
    - final: "turn on the lights"
    - lifecycle: ended
    - error: network`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			script, err := speech.LoadScript(args[0])
			if err != nil {
				return err
			}
			cfg.Bridge.Enabled = false

			services, err := bootstrap.BuildReplay(cfg, script, bootstrap.Options{})
			if err != nil {
				return err
			}
			defer services.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			if err := services.Session.Start(ctx); err != nil {
				return &SessionFailureError{State: services.Session.Status().Label, Message: err.Error()}
			}
			runErr := services.Session.Run(ctx)
			status := services.Session.Status()
			if err := services.Session.Stop(); err != nil {
				services.Logger.WithError(err).Warn("session did not stop cleanly")
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
				return runErr
			}

			out := cmd.OutOrStdout()
			if asJSON {
				data, err := json.MarshalIndent(replayReport{
					Script:   args[0],
					State:    status.State,
					WakeWord: services.Session.WakeWord(),
					Commands: status.Commands,
				}, "", "  ")
				if err != nil {
					return fmt.Errorf("encode replay report: %w", err)
				}
				fmt.Fprintln(out, string(data))
			} else {
				for _, entry := range status.Commands {
					if err := writeCommand(out, entry, false); err != nil {
						return err
					}
				}
			}
			return sessionFailure(status)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the final state and command log as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Stop the replay after this long")

	return cmd
}
