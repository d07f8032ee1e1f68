// Package retriever is the call surface the CLI and HTTP server use: it turns configuration
// into IMAP stores and runs one retrieval session per call.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/classify"
	"github.com/vdavid/vcode/internal/config"
	"github.com/vdavid/vcode/internal/extract"
	"github.com/vdavid/vcode/internal/imap"
	"github.com/vdavid/vcode/internal/retrieval"
)

// ErrInvalidTarget is returned for a target that is not a bare email address.
var ErrInvalidTarget = errors.New("target must be an email address")

// MaxWait caps per-call timeouts.
const MaxWait = 10 * time.Minute

// Retriever runs retrievals against one configured account. It is safe for concurrent use;
// every call gets its own connection.
type Retriever struct {
	cfg        *config.Config
	log        zerolog.Logger
	classifier *classify.Classifier
	cascade    *extract.Cascade
	newStore   func() retrieval.MailStore
}

// New creates a Retriever for cfg, logging in with password.
func New(cfg *config.Config, password string, log zerolog.Logger) *Retriever {
	r := &Retriever{
		cfg:        cfg,
		log:        log,
		classifier: classify.New(classify.DefaultMaxAge, cfg.VendorTokens),
		cascade:    extract.NewCascade(nil),
	}
	imapCfg := IMAPConfig(cfg, password)
	pool := imap.NewPool(cfg.IMAPMaxConnections)
	r.newStore = func() retrieval.MailStore {
		return pool.Wrap(imap.NewStore(imapCfg, log))
	}
	return r
}

// IMAPConfig derives the store settings from cfg.
func IMAPConfig(cfg *config.Config, password string) imap.Config {
	return imap.Config{
		Address:  cfg.IMAPAddress(),
		Username: cfg.IMAPUsername,
		Password: password,
		UseTLS:   cfg.IMAPUseTLS,
	}
}

// Option adjusts a single RetrieveCode call.
type Option func(*retrieval.Options)

// WithObserver streams the session's state changes to o.
func WithObserver(o retrieval.Observer) Option {
	return func(opts *retrieval.Options) {
		opts.Observer = o
	}
}

// RetrieveCode waits up to maxWait for a verification code sent to target.
// A zero maxWait uses the configured timeout.
func (r *Retriever) RetrieveCode(ctx context.Context, target string, maxWait time.Duration, options ...Option) (string, error) {
	target, err := NormalizeTarget(target)
	if err != nil {
		return "", err
	}

	if maxWait <= 0 {
		maxWait = r.cfg.Timeout
	}
	if maxWait > MaxWait {
		maxWait = MaxWait
	}

	opts := retrieval.Options{
		Host:                r.cfg.IMAPHost,
		Timeout:             maxWait,
		PollInterval:        r.cfg.PollInterval,
		FolderFallbackAfter: r.cfg.FolderFallback,
		Classifier:          r.classifier,
		Cascade:             r.cascade,
		Logger:              &r.log,
	}
	for _, option := range options {
		option(&opts)
	}

	return retrieval.NewSession(r.newStore(), target, opts).Run(ctx)
}

// TestConnection logs in and out once, reporting failures as a *retrieval.ConnectionError.
func (r *Retriever) TestConnection(ctx context.Context) error {
	store := r.newStore()
	defer func() {
		if err := store.Close(); err != nil {
			r.log.Debug().Err(err).Msg("Failed to close test connection cleanly")
		}
	}()

	if err := store.Connect(ctx); err != nil {
		return &retrieval.ConnectionError{Host: r.cfg.IMAPHost, Op: "connect", Err: err}
	}
	return nil
}

// NormalizeTarget trims target and checks it is a bare address.
func NormalizeTarget(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrInvalidTarget
	}
	addr, err := mail.ParseAddress(target)
	if err != nil || addr.Name != "" || addr.Address != target {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return addr.Address, nil
}
