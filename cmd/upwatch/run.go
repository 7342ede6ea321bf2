package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"upwatch/internal/app"

	"github.com/spf13/cobra"
)

func RunCmd(g *globalFlags) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the retry scheduler and notifier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(g.manager(), app.WithLogTweak(g.tweakLogging))
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
			defer signal.Stop(sigs)

			if err := a.Start(context.Background()); err != nil {
				return err
			}

			reason := app.StopUnknown
		wait:
			for {
				select {
				case sig := <-sigs:
					switch sig {
					case syscall.SIGHUP:
						_ = a.Reload(context.Background())
						continue
					case syscall.SIGTERM:
						reason = app.StopSIGTERM
					default:
						reason = app.StopSIGINT
					}
					break wait
				case <-a.Done():
					reason = app.StopFatalError
					break wait
				}
			}

			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := a.Stop(ctx, reason); err != nil {
				return err
			}
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 20*time.Second, "upper bound for graceful shutdown")
	return cmd
}
