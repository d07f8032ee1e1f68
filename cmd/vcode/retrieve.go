package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vdavid/vcode/internal/retrieval"
	"github.com/vdavid/vcode/internal/retriever"
)

type retrieveOptions struct {
	to      string
	timeout time.Duration
	verbose bool
}

func newRetrieveCmd() *cobra.Command {
	o := &retrieveOptions{}
	cmd := &cobra.Command{
		Use:   "retrieve",
		Short: "Wait for a verification code sent to an address and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetrieve(cmd, o)
		},
	}
	cmd.Flags().StringVar(&o.to, "to", "", "Recipient address the code was sent to (required)")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 0, "How long to wait (default from VCODE_TIMEOUT)")
	cmd.Flags().BoolVar(&o.verbose, "verbose", false, "Log every session step to stderr")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runRetrieve(cmd *cobra.Command, o *retrieveOptions) error {
	rt, err := loadRuntime(cmd, o.verbose)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var options []retriever.Option
	if o.verbose {
		options = append(options, retriever.WithObserver(progressPrinter(cmd.ErrOrStderr())))
	}

	code, err := rt.retriever.RetrieveCode(ctx, o.to, o.timeout, options...)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), code)
	return err
}

// progressPrinter writes one line per session state change.
func progressPrinter(w io.Writer) retrieval.Observer {
	return retrieval.ObserverFunc(func(e retrieval.Event) {
		line := fmt.Sprintf("%s %-16s", e.Time.Format("15:04:05"), e.State)
		if e.Folder != "" {
			line += " folder=" + e.Folder
		}
		if e.Error != "" {
			line += " error=" + e.Error
		}
		_, _ = fmt.Fprintln(w, line)
	})
}
