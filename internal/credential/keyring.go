package credential

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/99designs/keyring"
)

// Keyring stores the IMAP password in the OS keyring, keyed by IMAP username.
type Keyring struct {
	ring keyring.Keyring
}

// OpenKeyring opens the OS keyring for service. On machines without a keyring daemon
// it falls back to an encrypted file under the user config dir.
func OpenKeyring(service string) (*Keyring, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName: service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(dir, service, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

// NewKeyring wraps an already open keyring.
func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// Get returns the stored secret for key, or ErrNotFound.
func (k *Keyring) Get(key string) (string, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores secret under key.
func (k *Keyring) Set(key, secret string) error {
	err := k.ring.Set(keyring.Item{
		Key:         key,
		Data:        []byte(secret),
		Label:       "IMAP password for " + key,
		Description: "used to read verification mails",
	})
	if err != nil {
		return fmt.Errorf("failed to store credential %q: %w", key, err)
	}
	return nil
}

// Delete removes the secret stored under key.
func (k *Keyring) Delete(key string) error {
	if err := k.ring.Remove(key); err != nil {
		return fmt.Errorf("failed to delete credential %q: %w", key, err)
	}
	return nil
}
