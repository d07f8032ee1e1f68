package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestSessionRun(t *testing.T) {
	t.Run("subject code resolves without a body fetch", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(1, testTarget, "Your Windsurf code 482913", ""), false)
		rec := &recorder{}

		code, err := NewSession(store, testTarget, fastOptions(rec)).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "482913", code)
		stats := store.stats()
		assert.Empty(t, stats.bodyFetches)
		assert.Equal(t, 1, stats.closeCalls)
		assert.Equal(t, []State{StateConnecting, StateFolderOpening, StatePolling, StateResolved, StateClosed}, rec.states())
		assert.Equal(t, "482913", rec.events[len(rec.events)-1].Code)
	})

	t.Run("body code resolves after one body fetch", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(7, testTarget, "Verify your email", "Your verification code: 7Q3K9Z"), false)

		code, err := NewSession(store, testTarget, fastOptions(nil)).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "7Q3K9Z", code)
		assert.Len(t, store.stats().bodyFetches, 1)
	})

	t.Run("subject code anywhere in the batch beats body fetches", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(1, testTarget, "Windsurf code 111222", ""), false)
		store.deliver("INBOX", mail(2, testTarget, "Verify your email", "Your verification code: 7Q3K9Z"), false)

		code, err := NewSession(store, testTarget, fastOptions(nil)).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "111222", code)
		assert.Empty(t, store.stats().bodyFetches)
	})

	t.Run("recipient named only in the body is accepted", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(3, "relay@forwarder.example", "Verify your email",
			"Hi dev.account, your verification code: 5K2M8P"), false)

		code, err := NewSession(store, testTarget, fastOptions(nil)).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "5K2M8P", code)
	})

	t.Run("read messages are found through the fallback search", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(4, testTarget, "Your Windsurf code 482913", ""), true)

		code, err := NewSession(store, testTarget, fastOptions(nil)).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "482913", code)
		calls := store.stats().searchCalls
		require.GreaterOrEqual(t, len(calls), 2)
		assert.True(t, calls[0].UnreadOnly)
		assert.False(t, calls[1].UnreadOnly)
	})

	t.Run("failed body fetch is retried on the next tick", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(5, testTarget, "Verify your email", "Your verification code: 7Q3K9Z"), false)
		store.fetchErrs[5] = errors.New("connection reset by peer")

		code, err := NewSession(store, testTarget, fastOptions(nil)).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "7Q3K9Z", code)
		assert.Len(t, store.stats().bodyFetches, 2)
	})
}

func TestSessionFolderFallback(t *testing.T) {
	t.Run("switches once to the junk folder and finds the code there", func(t *testing.T) {
		store := newFakeStore("INBOX", "Sent", "Junk")
		store.deliver("Junk", mail(9, testTarget, "Your Windsurf code 482913", ""), false)
		rec := &recorder{}

		code, err := NewSession(store, testTarget, fastOptions(rec)).Run(context.Background())

		require.NoError(t, err)
		assert.Equal(t, "482913", code)
		stats := store.stats()
		assert.Equal(t, 1, stats.listCalls)
		assert.Equal(t, []string{"INBOX", "Junk"}, stats.opened)
		assert.Equal(t, 1, rec.count(StateSwitchingFolder))
	})

	t.Run("stays in INBOX when there is no junk folder", func(t *testing.T) {
		store := newFakeStore("INBOX", "Sent", "Drafts")
		opts := fastOptions(nil)
		opts.Timeout = 250 * time.Millisecond

		_, err := NewSession(store, testTarget, opts).Run(context.Background())

		require.ErrorIs(t, err, ErrTimeout)
		stats := store.stats()
		assert.Equal(t, 1, stats.listCalls)
		assert.Equal(t, []string{"INBOX"}, stats.opened)
	})

	t.Run("failed folder listing is retried", func(t *testing.T) {
		store := newFakeStore("INBOX", "Spam")
		store.listErr = errors.New("BAD command")
		opts := fastOptions(nil)
		opts.Timeout = 250 * time.Millisecond

		_, err := NewSession(store, testTarget, opts).Run(context.Background())

		require.ErrorIs(t, err, ErrTimeout)
		assert.Greater(t, store.stats().listCalls, 1)
	})

	t.Run("goes back to INBOX when the junk folder cannot be opened", func(t *testing.T) {
		store := newFakeStore("INBOX", "Spam")
		store.openErr["Spam"] = errors.New("NO mailbox does not exist")
		opts := fastOptions(nil)
		opts.Timeout = 250 * time.Millisecond

		_, err := NewSession(store, testTarget, opts).Run(context.Background())

		require.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, []string{"INBOX", "INBOX"}, store.stats().opened)
	})
}

func TestSessionTimeout(t *testing.T) {
	t.Run("no message before the deadline", func(t *testing.T) {
		store := newFakeStore("INBOX")
		rec := &recorder{}
		opts := fastOptions(rec)
		opts.Timeout = 150 * time.Millisecond

		code, err := NewSession(store, testTarget, opts).Run(context.Background())

		assert.Empty(t, code)
		require.ErrorIs(t, err, ErrTimeout)
		var timeoutErr *TimeoutError
		require.ErrorAs(t, err, &timeoutErr)
		assert.Equal(t, testTarget, timeoutErr.Target)
		assert.Equal(t, "INBOX", timeoutErr.Folder)
		assert.Equal(t, 1, store.stats().closeCalls)
		assert.Equal(t, 1, rec.count(StateTimedOut))
		assert.Equal(t, 1, rec.count(StateClosed))
	})

	t.Run("stale messages never resolve", func(t *testing.T) {
		store := newFakeStore("INBOX")
		old := mail(1, testTarget, "Your Windsurf code 482913", "")
		old.Date = time.Now().Add(-3 * time.Minute)
		store.deliver("INBOX", old, false)
		opts := fastOptions(nil)
		opts.Timeout = 150 * time.Millisecond

		_, err := NewSession(store, testTarget, opts).Run(context.Background())

		require.ErrorIs(t, err, ErrTimeout)
		assert.Empty(t, store.stats().bodyFetches)
	})

	t.Run("late fetch completion after the deadline is dropped", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(1, testTarget, "Verify your email", "Your verification code: 7Q3K9Z"), false)
		store.fetchBlock = make(chan struct{})
		rec := &recorder{}
		opts := fastOptions(rec)
		opts.Timeout = 100 * time.Millisecond

		code, err := NewSession(store, testTarget, opts).Run(context.Background())
		close(store.fetchBlock)
		time.Sleep(30 * time.Millisecond)

		assert.Empty(t, code)
		require.ErrorIs(t, err, ErrTimeout)
		assert.Equal(t, 1, store.stats().closeCalls)
		assert.Equal(t, 1, rec.count(StateClosed))
		assert.Zero(t, rec.count(StateResolved))
	})
}

func TestSessionDeduplication(t *testing.T) {
	t.Run("out of scope message is evaluated once", func(t *testing.T) {
		store := newFakeStore("INBOX")
		newsletter := mail(1, testTarget, "Weekly digest", "nothing to see")
		newsletter.From = "news@example.org"
		store.deliver("INBOX", newsletter, false)
		opts := fastOptions(nil)
		opts.Timeout = 150 * time.Millisecond

		_, err := NewSession(store, testTarget, opts).Run(context.Background())

		require.ErrorIs(t, err, ErrTimeout)
		stats := store.stats()
		assert.Equal(t, 1, stats.headerFetches)
		assert.Empty(t, stats.bodyFetches)
	})

	t.Run("in scope message without a code is fetched once", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(1, testTarget, "Verify your email", "Click the link below."), false)
		opts := fastOptions(nil)
		opts.Timeout = 150 * time.Millisecond

		_, err := NewSession(store, testTarget, opts).Run(context.Background())

		require.ErrorIs(t, err, ErrTimeout)
		assert.Len(t, store.stats().bodyFetches, 1)
	})

	t.Run("message for another account is fetched once and ignored", func(t *testing.T) {
		store := newFakeStore("INBOX")
		store.deliver("INBOX", mail(1, "someone@else.example", "Verify your email",
			"Your verification code: 7Q3K9Z"), false)
		opts := fastOptions(nil)
		opts.Timeout = 150 * time.Millisecond

		_, err := NewSession(store, testTarget, opts).Run(context.Background())

		require.ErrorIs(t, err, ErrTimeout)
		assert.Len(t, store.stats().bodyFetches, 1)
	})
}

func TestSessionCancel(t *testing.T) {
	store := newFakeStore("INBOX")
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	_, err := NewSession(store, testTarget, fastOptions(rec)).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, store.stats().closeCalls)
	assert.Equal(t, 1, rec.count(StateCanceled))
}

func TestSessionCancelDuringSearch(t *testing.T) {
	store := newFakeStore("INBOX")
	store.deliver("INBOX", mail(1, testTarget, "Your Windsurf code 482913", ""), false)
	store.searchBlock = make(chan struct{})
	store.searchStarted = make(chan struct{}, 1)
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		<-store.searchStarted
		cancel()
	}()

	code, err := NewSession(store, testTarget, fastOptions(rec)).Run(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, code)

	// Let the hung search complete after the session is gone; its result must be dropped.
	close(store.searchBlock)
	assert.Eventually(t, func() bool { return store.stats().searchDone == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, store.stats().closeCalls)
	assert.Equal(t, 1, rec.count(StateCanceled))
	assert.Zero(t, rec.count(StateResolved))
}

func TestSessionConnectionFailure(t *testing.T) {
	t.Run("connect fails", func(t *testing.T) {
		store := &mockStore{}
		store.On("Connect", mock.Anything).Return(errors.New("authentication failed"))
		store.On("Close").Return(nil)

		_, err := NewSession(store, testTarget, fastOptions(nil)).Run(context.Background())

		require.ErrorIs(t, err, ErrConnection)
		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "connect", connErr.Op)
		assert.Contains(t, err.Error(), "imap.example.com")
		assert.Contains(t, err.Error(), "authentication failed")
		store.AssertNumberOfCalls(t, "Close", 1)
		store.AssertNotCalled(t, "OpenFolder", mock.Anything, mock.Anything)
	})

	t.Run("INBOX cannot be opened", func(t *testing.T) {
		store := &mockStore{}
		store.On("Connect", mock.Anything).Return(nil)
		store.On("OpenFolder", mock.Anything, "INBOX").Return(errors.New("NO no such mailbox"))
		store.On("Close").Return(nil)

		_, err := NewSession(store, testTarget, fastOptions(nil)).Run(context.Background())

		var connErr *ConnectionError
		require.ErrorAs(t, err, &connErr)
		assert.Equal(t, "open folder INBOX", connErr.Op)
		store.AssertNumberOfCalls(t, "Close", 1)
		store.AssertNotCalled(t, "Search", mock.Anything, mock.Anything)
	})
}

func TestSessionFinishOnce(t *testing.T) {
	store := newFakeStore("INBOX")
	rec := &recorder{}
	s := NewSession(store, testTarget, fastOptions(rec))

	assert.True(t, s.finish(StateResolved, "482913", nil))
	assert.False(t, s.finish(StateResolved, "999999", nil))
	s.timeout()
	s.fail(errors.New("late failure"))
	s.teardown()

	code, err := s.outcome()
	require.NoError(t, err)
	assert.Equal(t, "482913", code)
	assert.Equal(t, 1, store.stats().closeCalls)
	assert.Equal(t, 1, rec.count(StateResolved))
	assert.Equal(t, 1, rec.count(StateClosed))
	assert.Zero(t, rec.count(StateTimedOut))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "switching_folder", StateSwitchingFolder.String())
	assert.Equal(t, "unknown", State(99).String())

	text, err := StateTimedOut.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "timed_out", string(text))
}
