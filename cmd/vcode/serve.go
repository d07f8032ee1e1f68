package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vdavid/vcode/internal/api"
	"github.com/vdavid/vcode/internal/retriever"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API on PORT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(cmd, false)
			if err != nil {
				return err
			}
			if err := rt.cfg.ValidateServer(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			handler := api.NewServer(rt.cfg, rt.retriever, retriever.IMAPConfig(rt.cfg, rt.password), rt.log)
			return api.ListenAndServe(ctx, ":"+rt.cfg.Port, handler, rt.log)
		},
	}
}
