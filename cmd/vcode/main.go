// Command vcode waits for an emailed verification code and prints it.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vdavid/vcode/internal/config"
	"github.com/vdavid/vcode/internal/credential"
	"github.com/vdavid/vcode/internal/logging"
	"github.com/vdavid/vcode/internal/retrieval"
	"github.com/vdavid/vcode/internal/retriever"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = ""
)

// Exit codes, so scripts can tell a slow mailbox from a broken one.
const (
	exitError      = 1
	exitTimeout    = 2
	exitConnection = 3
)

// openKeyring is swapped in tests.
var openKeyring credential.KeyringOpener = credential.OpenKeyring

func main() {
	root := newRootCmd(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "vcode",
		Short:         "vcode - fetch verification codes from a mailbox",
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.AddCommand(
		newRetrieveCmd(),
		newTestConnectionCmd(),
		newServeCmd(),
		newSecretCmd(),
	)
	return rootCmd
}

func versionString() string {
	if commit != "" {
		return fmt.Sprintf("%s (%s)", version, commit)
	}
	return version
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrTimeout):
		return exitTimeout
	case errors.Is(err, retrieval.ErrConnection):
		return exitConnection
	default:
		return exitError
	}
}

// app is what every mailbox command needs.
type app struct {
	cfg       *config.Config
	log       zerolog.Logger
	retriever *retriever.Retriever
	password  string
}

func loadRuntime(cmd *cobra.Command, verbose bool) (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := logging.NewWithWriter(cmd.ErrOrStderr(), level, cfg.LogPretty)

	password, source, err := credential.ResolvePassword(cfg, openKeyring)
	if err != nil {
		return nil, fmt.Errorf("failed to find the IMAP password (set VCODE_IMAP_PASSWORD or run 'vcode secret set'): %w", err)
	}
	log.Debug().Str("source", string(source)).Msg("IMAP password resolved")

	return &app{
		cfg:       cfg,
		log:       log,
		retriever: retriever.New(cfg, password, log),
		password:  password,
	}, nil
}
