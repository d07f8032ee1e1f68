package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vdavid/vcode/internal/config"
	"github.com/vdavid/vcode/internal/crypto"
)

func newSecretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage the IMAP password",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "set",
			Short: "Store the IMAP password in the OS keyring",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.NewConfig()
				if err != nil {
					return err
				}
				password, err := readPassword(cmd, "IMAP password for "+cfg.IMAPUsername+": ")
				if err != nil {
					return err
				}
				ring, err := openKeyring(cfg.KeyringService)
				if err != nil {
					return err
				}
				if err := ring.Set(cfg.IMAPUsername, password); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stored password for %s in keyring %q\n", cfg.IMAPUsername, cfg.KeyringService)
				return err
			},
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Remove the IMAP password from the OS keyring",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.NewConfig()
				if err != nil {
					return err
				}
				ring, err := openKeyring(cfg.KeyringService)
				if err != nil {
					return err
				}
				return ring.Delete(cfg.IMAPUsername)
			},
		},
		&cobra.Command{
			Use:   "keygen",
			Short: "Print a new VCODE_ENCRYPTION_KEY_BASE64",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				key, err := crypto.GenerateKey()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), key)
				return err
			},
		},
		&cobra.Command{
			Use:   "seal",
			Short: "Encrypt a password for VCODE_IMAP_PASSWORD_ENCRYPTED with VCODE_ENCRYPTION_KEY_BASE64",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				box, err := crypto.NewSecretBox(os.Getenv("VCODE_ENCRYPTION_KEY_BASE64"))
				if err != nil {
					return fmt.Errorf("VCODE_ENCRYPTION_KEY_BASE64: %w", err)
				}
				password, err := readPassword(cmd, "Password to seal: ")
				if err != nil {
					return err
				}
				sealed, err := box.Seal(password)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), sealed)
				return err
			},
		},
	)
	return cmd
}

// readPassword prompts without echo on a terminal, and reads one line otherwise.
func readPassword(cmd *cobra.Command, prompt string) (string, error) {
	in := cmd.InOrStdin()

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return nonEmpty(string(b))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return nonEmpty(strings.TrimRight(line, "\r\n"))
}

func nonEmpty(password string) (string, error) {
	if password == "" {
		return "", errors.New("password must not be empty")
	}
	return password, nil
}
