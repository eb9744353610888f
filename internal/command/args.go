package command

import (
	"context"
	"strconv"
	"strings"

	"github.com/danmuck/spellctl/internal/cache"
	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/transport"
)

// Arguments is the per-call input shared by a pipeline. The runner binds a
// copy per target with WithTarget.
type Arguments struct {
	Target    target.Target
	Refresh   bool
	DryRun    bool
	Overwrite bool
	Models    []string
	Params    map[string]string
	Cache     cache.Store
	Sessions  *transport.Pool
	// Tunnel is set from the calling command's capabilities. Without it
	// Connect skips the target's SSH hop.
	Tunnel bool
}

// WithTarget returns a copy bound to tgt. Params and Models are copied so
// tasks cannot observe each other's changes.
func (a Arguments) WithTarget(tgt target.Target) Arguments {
	out := a
	out.Target = tgt.Clone()
	out.Models = append([]string(nil), a.Models...)
	if a.Params != nil {
		out.Params = make(map[string]string, len(a.Params))
		for k, v := range a.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Connect returns the run's session for the bound target.
func (a Arguments) Connect(ctx context.Context) (transport.Session, error) {
	if a.Sessions == nil {
		return nil, transport.ErrNoConnector
	}
	if !a.Tunnel {
		return a.Sessions.DirectSession(ctx, a.Target)
	}
	return a.Sessions.Session(ctx, a.Target)
}

func (a Arguments) Param(key string) string {
	return strings.TrimSpace(a.Params[key])
}

// ParamBool parses a boolean parameter; missing or invalid values yield def.
func (a Arguments) ParamBool(key string, def bool) bool {
	raw := a.Param(key)
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}
