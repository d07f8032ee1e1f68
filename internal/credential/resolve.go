// Package credential finds the IMAP password: in the environment, sealed in the environment,
// or in the OS keyring.
package credential

import (
	"errors"
	"fmt"

	"github.com/vdavid/vcode/internal/config"
	"github.com/vdavid/vcode/internal/crypto"
)

// ErrNotFound means no source had a password.
var ErrNotFound = errors.New("no IMAP password found")

// Source says where a password came from. It is safe to log.
type Source string

const (
	SourceEnv       Source = "env"
	SourceSealedEnv Source = "sealed_env"
	SourceKeyring   Source = "keyring"
)

// KeyringOpener opens the keyring lazily, so machines that never use it never touch it.
type KeyringOpener func(service string) (*Keyring, error)

// ResolvePassword returns the IMAP password for cfg.
func ResolvePassword(cfg *config.Config, open KeyringOpener) (string, Source, error) {
	if cfg.IMAPPassword != "" {
		return cfg.IMAPPassword, SourceEnv, nil
	}

	if cfg.IMAPPasswordEncrypted != "" {
		box, err := crypto.NewSecretBox(cfg.EncryptionKeyBase64)
		if err != nil {
			return "", "", err
		}
		password, err := box.Open(cfg.IMAPPasswordEncrypted)
		if err != nil {
			return "", "", fmt.Errorf("failed to decrypt VCODE_IMAP_PASSWORD_ENCRYPTED: %w", err)
		}
		return password, SourceSealedEnv, nil
	}

	if open == nil {
		return "", "", ErrNotFound
	}

	ring, err := open(cfg.KeyringService)
	if err != nil {
		return "", "", err
	}
	password, err := ring.Get(cfg.IMAPUsername)
	if err != nil {
		return "", "", err
	}
	if password == "" {
		return "", "", ErrNotFound
	}
	return password, SourceKeyring, nil
}
