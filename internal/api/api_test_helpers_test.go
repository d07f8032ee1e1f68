package api

import (
	"context"
	"sync"
	"time"

	"github.com/vdavid/vcode/internal/retrieval"
	"github.com/vdavid/vcode/internal/retriever"
)

// fakeRetriever runs a scripted retrieval and records how it was called.
type fakeRetriever struct {
	retrieve func(ctx context.Context, target string, observer retrieval.Observer) (string, error)
	connErr  error

	mu      sync.Mutex
	targets []string
	waits   []time.Duration
}

func (f *fakeRetriever) RetrieveCode(ctx context.Context, target string, maxWait time.Duration, options ...retriever.Option) (string, error) {
	var opts retrieval.Options
	for _, option := range options {
		option(&opts)
	}

	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.waits = append(f.waits, maxWait)
	f.mu.Unlock()

	return f.retrieve(ctx, target, opts.Observer)
}

func (f *fakeRetriever) TestConnection(ctx context.Context) error {
	return f.connErr
}

func (f *fakeRetriever) calls() ([]string, []time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.targets...), append([]time.Duration(nil), f.waits...)
}

// succeedWith plays a short polling session that finds code.
func succeedWith(code string) func(context.Context, string, retrieval.Observer) (string, error) {
	return func(ctx context.Context, target string, observer retrieval.Observer) (string, error) {
		if observer != nil {
			observer.Observe(retrieval.Event{SessionID: "s1", State: retrieval.StatePolling, Folder: "INBOX"})
			observer.Observe(retrieval.Event{SessionID: "s1", State: retrieval.StateResolved, Folder: "INBOX"})
			observer.Observe(retrieval.Event{SessionID: "s1", State: retrieval.StateClosed, Folder: "INBOX", Code: code})
		}
		return code, nil
	}
}

func failWith(err error) func(context.Context, string, retrieval.Observer) (string, error) {
	return func(ctx context.Context, target string, observer retrieval.Observer) (string, error) {
		return "", err
	}
}

// wireEvent is the subset of a streamed event the tests look at.
type wireEvent struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Folder    string `json:"folder"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}
