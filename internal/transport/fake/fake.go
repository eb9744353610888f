// Package fake provides a scriptable in-memory transport.
package fake

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/transport"
)

// Handler answers one operation for one target. The returned value is
// marshalled to JSON before it reaches the caller.
type Handler func(ctx context.Context, tgt target.Target, params map[string]any) (any, error)

// Call is one recorded Invoke.
type Call struct {
	Target string
	Op     string
	Params map[string]any
}

type Transport struct {
	mu         sync.Mutex
	handlers   map[string]Handler
	connectErr map[string]error
	calls      []Call
	connects   int
	closes     int
}

var _ transport.Connector = (*Transport)(nil)

func New() *Transport {
	return &Transport{
		handlers:   make(map[string]Handler),
		connectErr: make(map[string]error),
	}
}

func (f *Transport) On(op string, h Handler) *Transport {
	f.mu.Lock()
	f.handlers[op] = h
	f.mu.Unlock()
	return f
}

// Reply answers op with a fixed value for every target.
func (f *Transport) Reply(op string, v any) *Transport {
	return f.On(op, func(context.Context, target.Target, map[string]any) (any, error) {
		return v, nil
	})
}

// Fail answers op with err for every target.
func (f *Transport) Fail(op string, err error) *Transport {
	return f.On(op, func(context.Context, target.Target, map[string]any) (any, error) {
		return nil, err
	})
}

// FailConnect makes Connect fail for the target uuid.
func (f *Transport) FailConnect(uuid string, err error) *Transport {
	f.mu.Lock()
	f.connectErr[uuid] = err
	f.mu.Unlock()
	return f
}

func (f *Transport) Connect(ctx context.Context, tgt target.Target) (transport.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.connectErr[tgt.UUID]; err != nil {
		return nil, err
	}
	f.connects++
	return &session{f: f, tgt: tgt}, nil
}

// Calls returns every recorded invocation in order.
func (f *Transport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Count returns how many times op was invoked, across all targets when uuid is empty.
func (f *Transport) Count(uuid, op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Op == op && (uuid == "" || c.Target == uuid) {
			n++
		}
	}
	return n
}

func (f *Transport) Connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *Transport) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type session struct {
	f      *Transport
	tgt    target.Target
	mu     sync.Mutex
	closed bool
}

func (s *session) Invoke(ctx context.Context, op string, params map[string]any) (json.RawMessage, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, transport.ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	s.f.mu.Lock()
	s.f.calls = append(s.f.calls, Call{Target: s.tgt.UUID, Op: op, Params: copied})
	h, ok := s.f.handlers[op]
	s.f.mu.Unlock()
	if !ok {
		return nil, &transport.RemoteError{Op: op, Code: transport.CodeUnsupported, Message: "no handler"}
	}

	v, err := h(ctx, s.tgt, params)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.f.mu.Lock()
	s.f.closes++
	s.f.mu.Unlock()
	return nil
}
