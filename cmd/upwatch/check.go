package main

import (
	"fmt"

	"upwatch/internal/app"
	"upwatch/internal/probe"

	"github.com/spf13/cobra"
)

func CheckCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Probe a URL once and print the verdict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			out, err := app.Check(cmd.Context(), cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], verdict(out))
			if out.Kind == probe.Unexpected {
				return fmt.Errorf("unexpected response: %s", out)
			}
			return nil
		},
	}
}

func verdict(o probe.Outcome) string {
	switch o.Kind {
	case probe.Success:
		return "up"
	case probe.ClientError:
		return fmt.Sprintf("client error (status %d)", o.Status)
	case probe.Transient:
		return "down (" + o.String() + ")"
	default:
		return o.String()
	}
}
