package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newTestConnectionCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Log in to the configured mailbox and out again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd, false)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if err := rt.retriever.TestConnection(ctx); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "OK: logged in to %s as %s\n", rt.cfg.IMAPAddress(), rt.cfg.IMAPUsername)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "Give up after this long")
	return cmd
}
