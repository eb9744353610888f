package transport

import (
	"context"
	"errors"
	"sync"

	"github.com/danmuck/spellctl/internal/target"
	"github.com/rs/zerolog/log"
)

// Pool hands out one session per target for the lifetime of a run. Sessions
// are opened lazily and closed together by Close.
type Pool struct {
	connector Connector

	mu      sync.Mutex
	closed  bool
	entries map[string]*poolEntry
}

type poolEntry struct {
	mu      sync.Mutex
	session Session
}

func NewPool(connector Connector) *Pool {
	return &Pool{connector: connector, entries: make(map[string]*poolEntry)}
}

// Session returns the pooled session for tgt, connecting on first use.
// Concurrent callers for the same target share one connect attempt; a failed
// connect is retried by the next caller.
func (p *Pool) Session(ctx context.Context, tgt target.Target) (Session, error) {
	return p.session(ctx, tgt.UUID, tgt)
}

// DirectSession is Session without the target's SSH hop. It is pooled apart
// from the tunnelled session of the same target.
func (p *Pool) DirectSession(ctx context.Context, tgt target.Target) (Session, error) {
	direct := tgt.Clone()
	direct.SSH = nil
	return p.session(ctx, tgt.UUID+"#direct", direct)
}

func (p *Pool) session(ctx context.Context, key string, tgt target.Target) (Session, error) {
	if p == nil || p.connector == nil {
		return nil, ErrNoConnector
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrSessionClosed
	}
	entry, ok := p.entries[key]
	if !ok {
		entry = &poolEntry{}
		p.entries[key] = entry
	}
	p.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.session != nil {
		return entry.session, nil
	}
	session, err := p.connector.Connect(ctx, tgt)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		_ = session.Close()
		return nil, ErrSessionClosed
	}
	log.Debug().Str("target", tgt.Identity()).Bool("tunnel", tgt.SSH != nil).Msg("transport.Pool.Session connected")
	entry.session = session
	return session, nil
}

// Close closes every open session and joins their errors. Later calls are no-ops.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	entries := p.entries
	p.entries = map[string]*poolEntry{}
	p.mu.Unlock()

	var errs []error
	for id, entry := range entries {
		entry.mu.Lock()
		session := entry.session
		entry.session = nil
		entry.mu.Unlock()
		if session == nil {
			continue
		}
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Str("target", id).Msg("transport.Pool.Close")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
