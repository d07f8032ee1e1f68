package imap

import (
	"context"
	"sync"

	"github.com/vdavid/vcode/internal/retrieval"
)

// DefaultMaxConnections stays well under common per-account limits (Gmail allows 15).
const DefaultMaxConnections = 5

// Pool caps how many connections to one account are open at once. Concurrent retrievals
// beyond the cap wait in Connect for a slot, bounded by their own context.
type Pool struct {
	slots chan struct{}
}

// NewPool creates a pool with room for maxConns open connections.
func NewPool(maxConns int) *Pool {
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	return &Pool{slots: make(chan struct{}, maxConns)}
}

// InUse returns how many slots are held.
func (p *Pool) InUse() int {
	return len(p.slots)
}

// Wrap returns store as a MailStore whose connection holds a pool slot until Close.
func (p *Pool) Wrap(store *Store) retrieval.MailStore {
	return &pooledStore{Store: store, pool: p}
}

type pooledStore struct {
	*Store
	pool *Pool

	mu     sync.Mutex
	held   bool
	closed bool
}

func (s *pooledStore) Connect(ctx context.Context) error {
	select {
	case s.pool.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.pool.slots
		return ErrStoreClosed
	}
	s.held = true
	s.mu.Unlock()

	if err := s.Store.Connect(ctx); err != nil {
		s.release()
		return err
	}
	return nil
}

func (s *pooledStore) Close() error {
	err := s.Store.Close()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.release()
	return err
}

func (s *pooledStore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held {
		s.held = false
		<-s.pool.slots
	}
}
