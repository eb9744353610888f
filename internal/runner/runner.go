// Package runner fans one pipeline out across targets under a scheduling
// policy and collects one TaskResult per target.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/danmuck/spellctl/internal/command"
	"github.com/danmuck/spellctl/internal/observability"
	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Context identifies the target a TaskResult belongs to.
type Context struct {
	UUID     string `json:"uuid" yaml:"uuid"`
	Name     string `json:"name" yaml:"name"`
	Customer string `json:"customer" yaml:"customer"`
}

func contextOf(tgt target.Target) Context {
	return Context{UUID: tgt.UUID, Name: tgt.Name, Customer: tgt.Customer}
}

// Task is one pipeline bound to one target.
type Task struct {
	Context  Context
	callable command.Callable
	args     command.Arguments
}

// TaskResult is the outcome for one target. Result is the first failed
// envelope of the pipeline, or the final one when every step succeeded;
// Steps holds every envelope in order.
type TaskResult struct {
	Context Context          `json:"context" yaml:"context"`
	Result  command.Result   `json:"result" yaml:"result"`
	Steps   []command.Result `json:"steps,omitempty" yaml:"steps,omitempty"`
}

type Runner struct {
	cfg       Config
	connector transport.Connector
	tasks     []Task
}

func New(cfg Config, connector transport.Connector) (*Runner, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, connector: connector}, nil
}

func (r *Runner) Config() Config {
	return r.cfg
}

// BuildTasks binds a copy of shared to every target. Calling it again
// replaces the previous task list.
func (r *Runner) BuildTasks(targets []target.Target, callable command.Callable, shared command.Arguments) error {
	if callable == nil {
		return ErrNilCallable
	}
	tasks := make([]Task, 0, len(targets))
	for _, tgt := range targets {
		tasks = append(tasks, Task{
			Context:  contextOf(tgt),
			callable: callable,
			args:     shared.WithTarget(tgt),
		})
	}
	r.tasks = tasks
	return nil
}

func (r *Runner) Tasks() []Task {
	return append([]Task(nil), r.tasks...)
}

// Run executes every task and returns results in target order. A failing
// target never prevents the others from running. Sessions opened during the
// run are closed before Run returns.
func (r *Runner) Run(ctx context.Context) ([]TaskResult, error) {
	if len(r.tasks) == 0 {
		return nil, ErrNoTasks
	}
	runID := uuid.NewString()
	logger := log.With().
		Str("run", runID).
		Str("policy", string(r.cfg.Policy)).
		Int("tasks", len(r.tasks)).
		Logger()
	logger.Info().Msg("runner.Run start")
	observability.RecordRun(string(r.cfg.Policy))

	pool := transport.NewPool(r.connector)
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn().Err(err).Msg("runner.Run session close")
		}
	}()

	results := make([]TaskResult, len(r.tasks))
	switch r.cfg.Policy {
	case PolicySerial:
		for i, task := range r.tasks {
			results[i] = r.runTask(ctx, logger, pool, task)
		}
	case PolicyParallel:
		r.runWindow(ctx, logger, pool, results, len(r.tasks))
	case PolicyBatch:
		r.runWindow(ctx, logger, pool, results, r.cfg.BatchSize)
	}

	failed := 0
	for _, res := range results {
		if !res.Result.Success {
			failed++
		}
	}
	logger.Info().Int("failed", failed).Msg("runner.Run complete")
	return results, nil
}

// runWindow keeps at most width tasks in flight and slots results by index.
func (r *Runner) runWindow(ctx context.Context, logger zerolog.Logger, pool *transport.Pool, results []TaskResult, width int) {
	if width < 1 {
		width = 1
	}
	sem := make(chan struct{}, width)
	var wg sync.WaitGroup
	for i, task := range r.tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task Task) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.runTask(ctx, logger, pool, task)
		}(i, task)
	}
	wg.Wait()
}

func (r *Runner) runTask(ctx context.Context, logger zerolog.Logger, pool *transport.Pool, task Task) (out TaskResult) {
	start := time.Now()
	out = TaskResult{Context: task.Context}
	defer func() {
		observability.RecordTask(string(r.cfg.Policy), out.Result.Success, time.Since(start))
	}()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().
				Str("target", task.args.Target.Identity()).
				Str("stack", string(debug.Stack())).
				Msgf("runner.Run task panic: %v", rec)
			out.Result = command.Result{Err: fmt.Errorf("%w: %s: %v", command.ErrPanic, task.callable.Name(), rec)}
		}
	}()

	if err := ctx.Err(); err != nil {
		out.Result = command.Result{Err: err}
		return out
	}

	args := task.args
	args.Sessions = pool
	steps := task.callable.Call(ctx, args, nil)
	final, ok := outcome(steps)
	if !ok {
		out.Result = command.Result{Err: ErrEmptyPipeline}
		return out
	}
	out.Result = final
	out.Steps = steps

	logger.Debug().
		Str("target", task.args.Target.Identity()).
		Bool("success", final.Success).
		Dur("duration", time.Since(start)).
		Msg("runner.Run task")
	return out
}

// outcome reduces a pipeline's envelopes to one: the first failure, else the
// last envelope.
func outcome(steps []command.Result) (command.Result, bool) {
	for _, step := range steps {
		if !step.Success {
			return step, true
		}
	}
	return command.Last(steps)
}
