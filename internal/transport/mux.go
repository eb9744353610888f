package transport

import (
	"context"
	"fmt"

	"github.com/danmuck/spellctl/internal/target"
)

// Mux routes Connect to a connector chosen by target.Transport.
type Mux struct {
	connectors map[string]Connector
}

func NewMux() *Mux {
	return &Mux{connectors: make(map[string]Connector)}
}

// Handle registers connector for a transport name; nil removes it.
func (m *Mux) Handle(name string, connector Connector) *Mux {
	if connector == nil {
		delete(m.connectors, name)
		return m
	}
	m.connectors[name] = connector
	return m
}

func (m *Mux) Connect(ctx context.Context, tgt target.Target) (Session, error) {
	name := tgt.TransportName()
	connector, ok := m.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q for %s", ErrUnknownTransport, name, tgt.Identity())
	}
	return connector.Connect(ctx, tgt)
}
