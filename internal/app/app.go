// Package app wires inventory, spells, transports and the cache into a single
// cast operation shared by the CLI and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/spellctl/internal/cache"
	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/config"
	"github.com/danmuck/spellctl/internal/runner"
	"github.com/danmuck/spellctl/internal/spells"
	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/danmuck/spellctl/internal/transport/cli"
	"github.com/danmuck/spellctl/internal/transport/rpc"
	"github.com/rs/zerolog/log"
)

var ErrNoTargets = errors.New("app: no controllers match the selection")

// Request is one spell invocation.
type Request struct {
	Spell       string            `json:"spell" yaml:"spell"`
	Filter      string            `json:"filter,omitempty" yaml:"filter,omitempty"`
	Controllers []string          `json:"controllers,omitempty" yaml:"controllers,omitempty"`
	Models      []string          `json:"models,omitempty" yaml:"models,omitempty"`
	Params      map[string]string `json:"params,omitempty" yaml:"params,omitempty"`
	RunType     string            `json:"run_type,omitempty" yaml:"run_type,omitempty"`
	BatchSize   int               `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Refresh     bool              `json:"refresh,omitempty" yaml:"refresh,omitempty"`
	DryRun      bool              `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Overwrite   bool              `json:"overwrite,omitempty" yaml:"overwrite,omitempty"`
}

type App struct {
	Config    config.Config
	Registry  *spells.Registry
	Connector transport.Connector
	Cache     cache.Store
}

// DefaultConnector routes targets to the rpc or cli transport.
func DefaultConnector() transport.Connector {
	return transport.NewMux().
		Handle(target.TransportRPC, rpc.NewConnector()).
		Handle(target.TransportCLI, cli.NewConnector())
}

// New builds an App over cfg with the built-in spells, the default
// transports and a file cache in cacheDir.
func New(cfg config.Config, cacheDir string) (*App, error) {
	store, err := cache.Open(cacheDir, cache.WithTTL(cfg.Settings.CacheTTL))
	if err != nil {
		return nil, err
	}
	return &App{
		Config:    cfg,
		Registry:  spells.DefaultRegistry(),
		Connector: DefaultConnector(),
		Cache:     store,
	}, nil
}

// Targets selects inventory controllers by filter expression and names.
func (a *App) Targets(filter string, names []string) ([]target.Target, error) {
	f, err := target.ParseFilter(filter)
	if err != nil {
		return nil, err
	}
	selected := a.Config.Targets(f.WithNames(names))
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: filter=%q controllers=%v", ErrNoTargets, filter, names)
	}
	return selected, nil
}

// RunnerConfig resolves the scheduling policy, preferring request overrides.
func (a *App) RunnerConfig(req Request) (runner.Config, error) {
	cfg := a.Config.RunnerConfig()
	if req.RunType != "" {
		policy, err := runner.ParsePolicy(req.RunType)
		if err != nil {
			return runner.Config{}, err
		}
		cfg.Policy = policy
	}
	if req.BatchSize != 0 {
		cfg.BatchSize = req.BatchSize
	}
	return cfg, cfg.Validate()
}

// Prepare validates req and resolves its spell and targets without running.
func (a *App) Prepare(req Request) (spells.Spell, []target.Target, error) {
	spell, err := a.Registry.Lookup(req.Spell)
	if err != nil {
		return spells.Spell{}, nil, err
	}
	if err := spell.ValidateParams(req.Params); err != nil {
		return spells.Spell{}, nil, err
	}
	targets, err := a.Targets(req.Filter, req.Controllers)
	if err != nil {
		return spells.Spell{}, nil, err
	}
	return spell, targets, nil
}

// Cast runs the spell across every selected controller.
func (a *App) Cast(ctx context.Context, req Request) ([]runner.TaskResult, error) {
	spell, targets, err := a.Prepare(req)
	if err != nil {
		return nil, err
	}
	rc, err := a.RunnerConfig(req)
	if err != nil {
		return nil, err
	}
	r, err := runner.New(rc, a.Connector)
	if err != nil {
		return nil, err
	}
	shared := command.Arguments{
		Refresh:   req.Refresh,
		DryRun:    req.DryRun,
		Overwrite: req.Overwrite,
		Models:    req.Models,
		Params:    req.Params,
		Cache:     a.Cache,
	}
	if err := r.BuildTasks(targets, spell.Pipeline, shared); err != nil {
		return nil, err
	}

	start := time.Now()
	results, err := r.Run(ctx)
	if err != nil {
		return nil, err
	}
	failed := 0
	for _, res := range results {
		if !res.Result.Success {
			failed++
		}
	}
	log.Info().
		Str("spell", spell.Name).
		Str("policy", string(rc.Policy)).
		Int("targets", len(targets)).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("app.Cast")
	return results, nil
}
