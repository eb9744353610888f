package rpc

import (
	"encoding/json"
	"sync"
)

type response struct {
	RequestID uint64          `json:"request-id"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error-code,omitempty"`
}

// pending correlates in-flight request ids with their reply channel.
type pending struct {
	mu      sync.Mutex
	entries map[uint64]chan response
	err     error
}

func newPending() *pending {
	return &pending{entries: make(map[uint64]chan response)}
}

func (p *pending) register(id uint64) (chan response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	ch := make(chan response, 1)
	p.entries[id] = ch
	return ch, nil
}

func (p *pending) unregister(id uint64) {
	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// resolve delivers resp and reports whether anyone was waiting for it.
func (p *pending) resolve(resp response) bool {
	p.mu.Lock()
	ch, ok := p.entries[resp.RequestID]
	if ok {
		delete(p.entries, resp.RequestID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

// failAll closes every waiting channel and rejects future registrations with err.
func (p *pending) failAll(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
	for id, ch := range p.entries {
		close(ch)
		delete(p.entries, id)
	}
}

func (p *pending) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}
