package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"wakelisten/internal/bootstrap"
	"wakelisten/internal/ports"
)

func newListenCommand(root *rootOptions) *cobra.Command {
	var (
		bridgeAddr string
		noBridge   bool
		waitStart  bool
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen to the microphone and capture commands after the wake word",
		Long: `Listen to the microphone and capture commands after the wake word.

The session starts immediately unless --wait is set, in which case it is
started and stopped through the event bridge (POST /session/start and
POST /session/stop). Captured commands are printed one per line.

Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if noBridge {
				cfg.Bridge.Enabled = false
			}
			if bridgeAddr != "" {
				cfg.Bridge.Addr = bridgeAddr
			}
			if waitStart && !cfg.Bridge.Enabled {
				return errors.New("--wait needs the event bridge to start the session")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, giveUp := context.WithCancel(ctx)
			defer giveUp()

			printer := &commandPrinter{out: cmd.OutOrStdout(), asJSON: asJSON}
			if !cfg.Bridge.Enabled {
				// Nothing can restart the session once retries run out.
				printer.giveUp = giveUp
			}

			services, err := bootstrap.Build(cfg, bootstrap.Options{Sinks: []ports.EventSink{printer}})
			if err != nil {
				return err
			}
			defer services.Close()

			if services.Bridge != nil {
				go func() {
					if err := services.Bridge.ListenAndServe(ctx); err != nil {
						services.Logger.WithError(err).Error("event bridge stopped")
						giveUp()
					}
				}()
			}

			if !waitStart {
				if err := services.Session.Start(ctx); err != nil {
					return &SessionFailureError{State: services.Session.Status().Label, Message: err.Error()}
				}
			}

			runErr := services.Session.Run(ctx)
			status := services.Session.Status()
			if err := services.Session.Stop(); err != nil {
				services.Logger.WithError(err).Warn("session did not stop cleanly")
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return sessionFailure(status)
		},
	}

	cmd.Flags().StringVar(&bridgeAddr, "bridge-addr", "", "Address for the event bridge (overrides config)")
	cmd.Flags().BoolVar(&noBridge, "no-bridge", false, "Disable the HTTP/websocket event bridge")
	cmd.Flags().BoolVar(&waitStart, "wait", false, "Do not start listening until requested through the bridge")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print captured commands as JSON lines")

	return cmd
}
