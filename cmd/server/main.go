// Command server runs the vcode HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/api"
	"github.com/vdavid/vcode/internal/config"
	"github.com/vdavid/vcode/internal/credential"
	"github.com/vdavid/vcode/internal/logging"
	"github.com/vdavid/vcode/internal/retriever"
)

func main() {
	bootLog := logging.New("info", false)

	cfg, err := config.NewConfig()
	if err != nil {
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}
	if err := cfg.ValidateServer(); err != nil {
		bootLog.Fatal().Err(err).Msg("Invalid server config")
	}

	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("Server failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	password, source, err := credential.ResolvePassword(cfg, credential.OpenKeyring)
	if err != nil {
		return err
	}
	log.Info().Str("password_source", string(source)).Str("imap", cfg.IMAPAddress()).Msg("IMAP account configured")

	r := retriever.New(cfg, password, log)

	// Fail fast on bad credentials, but keep serving if the mailbox is only temporarily down.
	if err := r.TestConnection(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial IMAP login failed")
	}

	handler := api.NewServer(cfg, r, retriever.IMAPConfig(cfg, password), log)
	log.Info().Str("environment", cfg.Environment).Msg("vcode API server starting")
	return api.ListenAndServe(ctx, ":"+cfg.Port, handler, log)
}
