package imap

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdavid/vcode/internal/testutil"
)

func TestPool(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	defer server.Close()

	pool := NewPool(1)
	newStore := func(password string) *Store {
		return NewStore(Config{Address: server.Address, Username: server.Username(), Password: password}, zerolog.Nop())
	}

	t.Run("second connection waits for the first to close", func(t *testing.T) {
		first := pool.Wrap(newStore(server.Password()))
		require.NoError(t, first.Connect(context.Background()))
		assert.Equal(t, 1, pool.InUse())

		second := pool.Wrap(newStore(server.Password()))
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, second.Connect(ctx), context.DeadlineExceeded)

		connected := make(chan error, 1)
		go func() {
			connected <- second.Connect(context.Background())
		}()

		require.NoError(t, first.Close())
		select {
		case err := <-connected:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("second store never got a slot")
		}
		assert.Equal(t, 1, pool.InUse())

		require.NoError(t, second.Close())
		assert.Equal(t, 0, pool.InUse())
	})

	t.Run("failed login gives the slot back", func(t *testing.T) {
		store := pool.Wrap(newStore("wrong"))
		assert.Error(t, store.Connect(context.Background()))
		assert.Equal(t, 0, pool.InUse())
		assert.NoError(t, store.Close())
		assert.Equal(t, 0, pool.InUse())
	})

	t.Run("close twice releases once", func(t *testing.T) {
		store := pool.Wrap(newStore(server.Password()))
		require.NoError(t, store.Connect(context.Background()))
		require.NoError(t, store.Close())
		require.NoError(t, store.Close())
		assert.Equal(t, 0, pool.InUse())
	})

	t.Run("connect after close", func(t *testing.T) {
		store := pool.Wrap(newStore(server.Password()))
		require.NoError(t, store.Close())
		assert.ErrorIs(t, store.Connect(context.Background()), ErrStoreClosed)
		assert.Equal(t, 0, pool.InUse())
	})

	t.Run("default size", func(t *testing.T) {
		assert.Equal(t, DefaultMaxConnections, cap(NewPool(0).slots))
	})
}
