package main

import (
	"fmt"
	"time"

	"upwatch/internal/app"

	"github.com/spf13/cobra"
)

func EnqueueCmd(g *globalFlags) *cobra.Command {
	var (
		target string
		tries  int
		delay  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue <url>",
		Short: "Start a retry chain in the job store",
		Long: "Insert a chain head into the durable job store. A daemon running " +
			"against the same store picks it up when it falls due.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			log := g.cliLogger()
			store, err := app.OpenStore(cfg, log)
			if err != nil {
				return err
			}
			defer store.Close()

			in, err := app.NewIntake(cfg, store, log)
			if err != nil {
				return err
			}
			id, err := in.Enqueue(cmd.Context(), target, args[0], tries, delay)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&target, "target", "t", "", "who to notify: email, tg:<chat id>[/<thread id>] or a user id")
	cmd.Flags().IntVar(&tries, "tries", 0, "attempts before giving up (default from controller.default_tries)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "wait before the first attempt (default from controller.default_delay)")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
