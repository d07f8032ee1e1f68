package retrieval

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConnection matches any ConnectionError via errors.Is.
	ErrConnection = errors.New("mail store connection failed")
	// ErrTimeout matches any TimeoutError via errors.Is.
	ErrTimeout = errors.New("timed out waiting for verification code")

	// errSessionOver is returned internally when the session reached a terminal state
	// while an operation was in flight.
	errSessionOver = errors.New("session is over")
)

// ConnectionError is returned when the store cannot be reached, authenticated against,
// or the folder cannot be opened. The whole call may be retried by the caller.
type ConnectionError struct {
	Host string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	host := e.Host
	if host == "" {
		host = "mail server"
	}
	return fmt.Sprintf("failed to %s on %s: %v (check the account address, password and IMAP access settings)", e.Op, host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrConnection) work.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnection
}

// TimeoutError is returned when the deadline passed without a matching message.
type TimeoutError struct {
	Target  string
	Folder  string
	Elapsed time.Duration
	Seen    int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no verification code for %s after %s (last folder %s, %d messages checked)",
		e.Target, e.Elapsed.Round(time.Second), e.Folder, e.Seen)
}

// Is makes errors.Is(err, ErrTimeout) work.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}
