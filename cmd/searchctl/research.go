package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var researchCmd = &cobra.Command{
	Use:   "research <prompt>",
	Short: "Plan and run a multi-step research task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		a, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := a.Agent.Run(ctx, strings.Join(args, " "), progressSink(os.Stderr))
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

func init() {
	rootCmd.AddCommand(researchCmd)
}
