package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	IMAPHost     string
	IMAPPort     string
	IMAPUseTLS   bool
	IMAPUsername string
	// IMAPMaxConnections caps concurrent retrievals against the account.
	IMAPMaxConnections int

	// The IMAP secret comes from one of these, in this order, or from the OS keyring.
	IMAPPassword          string
	IMAPPasswordEncrypted string
	EncryptionKeyBase64   string
	KeyringService        string

	Timeout        time.Duration
	PollInterval   time.Duration
	FolderFallback time.Duration
	VendorTokens   []string

	LogLevel  string
	LogPretty bool

	Port     string
	APIToken string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("VCODE_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Fprintln(os.Stderr, "Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment:           env,
		IMAPHost:              os.Getenv("VCODE_IMAP_HOST"),
		IMAPPort:              getEnvOrDefault("VCODE_IMAP_PORT", "993"),
		IMAPUsername:          os.Getenv("VCODE_IMAP_USERNAME"),
		IMAPPassword:          os.Getenv("VCODE_IMAP_PASSWORD"),
		IMAPPasswordEncrypted: os.Getenv("VCODE_IMAP_PASSWORD_ENCRYPTED"),
		EncryptionKeyBase64:   os.Getenv("VCODE_ENCRYPTION_KEY_BASE64"),
		KeyringService:        getEnvOrDefault("VCODE_KEYRING_SERVICE", "vcode"),
		VendorTokens:          splitList(os.Getenv("VCODE_VENDOR_TOKENS")),
		LogLevel:              getEnvOrDefault("VCODE_LOG_LEVEL", "info"),
		Port:                  getEnvOrDefault("PORT", "8080"),
		APIToken:              os.Getenv("VCODE_API_TOKEN"),
	}

	var err error
	if config.IMAPUseTLS, err = getBoolOrDefault("VCODE_IMAP_TLS", true); err != nil {
		return nil, err
	}
	if config.LogPretty, err = getBoolOrDefault("VCODE_LOG_PRETTY", env == "development"); err != nil {
		return nil, err
	}
	if config.IMAPMaxConnections, err = getIntOrDefault("VCODE_IMAP_MAX_CONNECTIONS", 5); err != nil {
		return nil, err
	}
	if config.Timeout, err = getDurationOrDefault("VCODE_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if config.PollInterval, err = getDurationOrDefault("VCODE_POLL_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if config.FolderFallback, err = getDurationOrDefault("VCODE_FOLDER_FALLBACK", 30*time.Second); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks what every command needs: a reachable account and sane timings.
func (c *Config) Validate() error {
	if c.IMAPHost == "" {
		return fmt.Errorf("VCODE_IMAP_HOST is required")
	}

	if c.IMAPUsername == "" {
		return fmt.Errorf("VCODE_IMAP_USERNAME is required")
	}

	if port, err := strconv.Atoi(c.IMAPPort); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("VCODE_IMAP_PORT must be a port number, got %q", c.IMAPPort)
	}

	if c.IMAPPasswordEncrypted != "" && c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("VCODE_ENCRYPTION_KEY_BASE64 is required when VCODE_IMAP_PASSWORD_ENCRYPTED is set")
	}

	if c.Timeout <= 0 || c.PollInterval <= 0 || c.FolderFallback <= 0 {
		return fmt.Errorf("VCODE_TIMEOUT, VCODE_POLL_INTERVAL and VCODE_FOLDER_FALLBACK must be positive")
	}

	if c.PollInterval >= c.Timeout {
		return fmt.Errorf("VCODE_POLL_INTERVAL (%s) must be shorter than VCODE_TIMEOUT (%s)", c.PollInterval, c.Timeout)
	}

	return nil
}

// ValidateServer adds the checks only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if c.APIToken == "" {
		return fmt.Errorf("VCODE_API_TOKEN is required to serve the API")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a port number, got %q", c.Port)
	}

	return nil
}

// IMAPAddress returns host:port.
func (c *Config) IMAPAddress() string {
	return net.JoinHostPort(c.IMAPHost, c.IMAPPort)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false, got %q", key, value)
	}
	return parsed, nil
}

func getIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, value)
	}
	return parsed, nil
}

func getDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like 90s, got %q", key, value)
	}
	return parsed, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
