// Package retrieval runs one verification-code retrieval against a mail store: it opens a
// folder, polls it on a timer, falls back to the junk folder once, and stops at the first code.
package retrieval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vdavid/vcode/internal/classify"
	"github.com/vdavid/vcode/internal/extract"
	"github.com/vdavid/vcode/internal/logging"
)

// State is a step of the session state machine.
type State int

const (
	StateConnecting State = iota
	StateFolderOpening
	StatePolling
	StateSwitchingFolder
	StateResolved
	StateTimedOut
	StateConnectionFailed
	StateCanceled
	StateClosed
)

var stateNames = map[State]string{
	StateConnecting:       "connecting",
	StateFolderOpening:    "folder_opening",
	StatePolling:          "polling",
	StateSwitchingFolder:  "switching_folder",
	StateResolved:         "resolved",
	StateTimedOut:         "timed_out",
	StateConnectionFailed: "connection_failed",
	StateCanceled:         "canceled",
	StateClosed:           "closed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText lets states show up by name in JSON events.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Defaults used when Options leave a field zero.
const (
	DefaultTimeout             = 120 * time.Second
	DefaultPollInterval        = 2 * time.Second
	DefaultFolderFallbackAfter = 30 * time.Second
	DefaultSearchWindow        = 5 * time.Minute
	DefaultPrimaryFolder       = "INBOX"
)

// Event is one state transition, reported to the Observer.
type Event struct {
	SessionID string    `json:"session_id"`
	State     State     `json:"state"`
	Folder    string    `json:"folder,omitempty"`
	Code      string    `json:"code,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// Observer receives session events. It is called from the session goroutine and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// Options tune a session. Zero values fall back to the defaults above.
type Options struct {
	// Host is only used in error messages.
	Host                string
	PrimaryFolder       string
	Timeout             time.Duration
	PollInterval        time.Duration
	FolderFallbackAfter time.Duration
	SearchWindow        time.Duration

	Classifier *classify.Classifier
	Cascade    *extract.Cascade
	Logger     *zerolog.Logger
	Observer   Observer
	Now        func() time.Time
}

func (o Options) withDefaults() Options {
	if o.PrimaryFolder == "" {
		o.PrimaryFolder = DefaultPrimaryFolder
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.FolderFallbackAfter <= 0 {
		o.FolderFallbackAfter = DefaultFolderFallbackAfter
	}
	if o.SearchWindow <= 0 {
		o.SearchWindow = DefaultSearchWindow
	}
	if o.Classifier == nil {
		o.Classifier = classify.New(classify.DefaultMaxAge, nil)
	}
	if o.Cascade == nil {
		o.Cascade = extract.NewCascade(nil)
	}
	if o.Logger == nil {
		nop := zerolog.Nop()
		o.Logger = &nop
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Session is a single retrieval attempt. It owns the store for its lifetime and closes it
// exactly once. A Session is not reusable; call Run once.
type Session struct {
	id     string
	target string
	store  MailStore
	opts   Options

	baseLog zerolog.Logger
	log     zerolog.Logger

	state           State
	folder          string
	folderOpenedAt  time.Time
	startedAt       time.Time
	switchAttempted bool
	seen            *SeenSet

	deadline  *time.Timer
	opCtx     context.Context
	cancelOps context.CancelFunc

	// resolved is the guard checked before acting on any completion.
	resolved bool
	code     string
	err      error

	closeOnce sync.Once
}

// NewSession prepares a session looking for a code sent to target.
func NewSession(store MailStore, target string, opts Options) *Session {
	opts = opts.withDefaults()
	id := uuid.NewString()
	base := opts.Logger.With().
		Str("session", id).
		Str("target", logging.MaskEmail(target)).
		Logger()

	return &Session{
		id:      id,
		target:  target,
		store:   store,
		opts:    opts,
		baseLog: base,
		log:     base,
		seen:    NewSeenSet(),
	}
}

// ID returns the session id used in logs and events.
func (s *Session) ID() string {
	return s.id
}

// Run drives the session to a terminal state and returns the code or exactly one error:
// a *ConnectionError, a *TimeoutError, or the context's error.
func (s *Session) Run(ctx context.Context) (string, error) {
	s.startedAt = s.now()
	s.opCtx, s.cancelOps = context.WithCancel(ctx)
	s.deadline = time.NewTimer(s.opts.Timeout)
	defer s.deadline.Stop()
	defer s.teardown()

	s.log.Info().Dur("timeout", s.opts.Timeout).Msg("Waiting for verification code")

	s.setState(StateConnecting)
	if err := s.call(ctx, s.store.Connect); err != nil {
		if !errors.Is(err, errSessionOver) {
			s.fail(&ConnectionError{Host: s.opts.Host, Op: "connect", Err: err})
		}
		return s.outcome()
	}

	s.setState(StateFolderOpening)
	if err := s.openFolder(ctx, s.opts.PrimaryFolder); err != nil {
		if !errors.Is(err, errSessionOver) {
			s.fail(&ConnectionError{Host: s.opts.Host, Op: "open folder " + s.opts.PrimaryFolder, Err: err})
		}
		return s.outcome()
	}

	s.setState(StatePolling)
	s.pollCycle(ctx)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for !s.resolved {
		select {
		case <-ticker.C:
			s.tick(ctx)
			// A tick that fired during a long cycle is dropped rather than run back to back.
			select {
			case <-ticker.C:
			default:
			}
		case <-s.deadline.C:
			s.timeout()
		case <-ctx.Done():
			s.finish(StateCanceled, "", ctx.Err())
		}
	}

	return s.outcome()
}

func (s *Session) tick(ctx context.Context) {
	if s.shouldSwitch() {
		s.switchFolder(ctx)
	}
	if !s.resolved {
		s.pollCycle(ctx)
	}
}

// call runs one store operation while still honoring the deadline and ctx.
// It returns errSessionOver when the session ended before the operation completed;
// the late result is then dropped.
func (s *Session) call(ctx context.Context, op func(context.Context) error) error {
	if s.resolved {
		return errSessionOver
	}

	done := make(chan error, 1)
	go func() {
		done <- op(s.opCtx)
	}()

	select {
	case err := <-done:
		if s.resolved {
			return errSessionOver
		}
		if ctx.Err() != nil {
			s.finish(StateCanceled, "", ctx.Err())
			return errSessionOver
		}
		return err
	case <-s.deadline.C:
		s.timeout()
		return errSessionOver
	case <-ctx.Done():
		s.finish(StateCanceled, "", ctx.Err())
		return errSessionOver
	}
}

func (s *Session) openFolder(ctx context.Context, name string) error {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.store.OpenFolder(ctx, name)
	})
	if err != nil {
		return err
	}

	s.folder = name
	s.folderOpenedAt = s.now()
	s.log = s.baseLog.With().Str("folder", name).Logger()
	s.log.Debug().Msg("Folder opened")
	return nil
}

func (s *Session) resolve(code string) {
	s.finish(StateResolved, code, nil)
}

func (s *Session) fail(err error) {
	s.finish(StateConnectionFailed, "", err)
}

func (s *Session) timeout() {
	s.finish(StateTimedOut, "", &TimeoutError{
		Target:  s.target,
		Folder:  s.folder,
		Elapsed: s.now().Sub(s.startedAt),
		Seen:    s.seen.Len(),
	})
}

// finish records the first terminal outcome and tears down. Later calls are ignored.
func (s *Session) finish(state State, code string, err error) bool {
	if s.resolved {
		return false
	}
	s.resolved = true
	s.code = code
	s.err = err
	s.setState(state)

	switch state {
	case StateResolved:
		s.log.Info().Dur("elapsed", s.now().Sub(s.startedAt)).Msg("Verification code found")
	case StateCanceled:
		s.log.Info().Err(err).Msg("Retrieval canceled")
	default:
		s.log.Warn().Err(err).Msg("Retrieval failed")
	}

	s.teardown()
	return true
}

// teardown closes the store exactly once, whatever path got here.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		if s.cancelOps != nil {
			s.cancelOps()
		}
		if err := s.store.Close(); err != nil {
			s.log.Debug().Err(err).Msg("Failed to close mail store cleanly")
		}

		e := s.event(StateClosed)
		e.Code = s.code
		if s.err != nil {
			e.Error = s.err.Error()
		}
		s.state = StateClosed
		s.emit(e)
	})
}

func (s *Session) outcome() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.code, nil
}

func (s *Session) setState(state State) {
	if s.state == state && state != StateConnecting {
		return
	}
	s.state = state
	s.log.Debug().Stringer("state", state).Msg("Session state changed")
	s.emit(s.event(state))
}

func (s *Session) event(state State) Event {
	return Event{
		SessionID: s.id,
		State:     state,
		Folder:    s.folder,
		Time:      s.now(),
	}
}

func (s *Session) emit(e Event) {
	if s.opts.Observer != nil {
		s.opts.Observer.Observe(e)
	}
}

func (s *Session) now() time.Time {
	return s.opts.Now()
}
