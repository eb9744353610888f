package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/danmuck/spellctl/internal/cache"
	"github.com/danmuck/spellctl/internal/observability"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Operation is the behaviour a concrete command supplies.
type Operation interface {
	Name() string
	Execute(ctx context.Context, args Arguments, prior []Result, input any) (any, error)
}

// PreProcessor prepares the input handed to Execute.
type PreProcessor interface {
	PreProcess(args Arguments, prior []Result) (any, error)
}

// PostProcessor shapes the raw Execute output.
type PostProcessor interface {
	PostProcess(raw any, prior []Result, input any, args Arguments) (any, error)
}

// CacheCodec converts an output to and from a cache record payload.
type CacheCodec interface {
	Encode(output any) (map[string]any, error)
	Decode(data map[string]any) (any, error)
}

type Kind int

const (
	KindRead Kind = iota + 1
	KindWrite
	KindReadWrite
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// Capabilities are fixed by Kind when the command is built.
type Capabilities struct {
	Cacheable bool
	Tunnel    bool
}

func (k Kind) Capabilities() Capabilities {
	return Capabilities{
		Cacheable: k == KindRead || k == KindReadWrite,
		Tunnel:    true,
	}
}

// DryRunReport is the output of a write command invoked with DryRun set.
type DryRunReport struct {
	DryRun  bool   `json:"dry_run" yaml:"dry_run"`
	Command string `json:"command" yaml:"command"`
	Target  string `json:"target" yaml:"target"`
	Input   any    `json:"input" yaml:"input"`
}

// Command wraps an Operation with the cache and error handling lifecycle.
type Command struct {
	op   Operation
	kind Kind
	caps Capabilities
}

func NewRead(op Operation) *Command {
	return newCommand(op, KindRead)
}

func NewWrite(op Operation) *Command {
	return newCommand(op, KindWrite)
}

func NewReadWrite(op Operation) *Command {
	return newCommand(op, KindReadWrite)
}

func newCommand(op Operation, kind Kind) *Command {
	if op == nil {
		panic("command: nil operation")
	}
	return &Command{op: op, kind: kind, caps: kind.Capabilities()}
}

func (c *Command) Name() string {
	return c.op.Name()
}

func (c *Command) Kind() Kind {
	return c.kind
}

func (c *Command) Capabilities() Capabilities {
	return c.caps
}

// Call runs the full lifecycle and always returns exactly one envelope.
func (c *Command) Call(ctx context.Context, args Arguments, prior []Result) []Result {
	res := c.call(ctx, args, cloneResults(prior))
	observability.RecordCommand(c.Name(), res.Success)
	return []Result{res}
}

func (c *Command) call(ctx context.Context, args Arguments, prior []Result) (res Result) {
	args.Tunnel = c.caps.Tunnel
	logger := log.With().
		Str("command", c.Name()).
		Str("kind", c.kind.String()).
		Str("target", args.Target.Identity()).
		Logger()

	stage := StageCacheCheck
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("stage", string(stage)).
				Str("stack", string(debug.Stack())).
				Msgf("command.Call panic: %v", r)
			res = failure(c.wrap(args, stage, fmt.Errorf("%w: %v", ErrPanic, r)))
		}
	}()

	if c.caps.Cacheable && !args.Refresh && args.Cache != nil {
		output, ok, err := c.LoadFromCache(args)
		switch {
		case err != nil:
			observability.RecordCacheLookup(c.Name(), "error")
			logger.Warn().Err(err).Msg("command.Call cache read failed, executing")
		case ok:
			observability.RecordCacheLookup(c.Name(), "hit")
			logger.Debug().Msg("command.Call cache hit")
			return success(output)
		default:
			observability.RecordCacheLookup(c.Name(), "miss")
		}
	}

	stage = StagePreProcess
	input, err := c.preProcess(args, prior)
	if err != nil {
		return c.fail(logger, args, stage, err)
	}
	if args.DryRun && c.kind == KindWrite {
		logger.Info().Msg("command.Call dry run")
		return success(DryRunReport{
			DryRun:  true,
			Command: c.Name(),
			Target:  args.Target.Identity(),
			Input:   input,
		})
	}

	stage = StageExecute
	raw, err := c.op.Execute(ctx, args, prior, input)
	if err != nil {
		return c.fail(logger, args, stage, err)
	}

	stage = StagePostProcess
	output, err := c.postProcess(raw, prior, input, args)
	if err != nil {
		return c.fail(logger, args, stage, err)
	}

	if c.caps.Cacheable && args.Cache != nil {
		if err := c.SaveToCache(args, output); err != nil {
			logger.Warn().Err(err).Msg("command.Call cache write failed")
		}
	}
	return success(output)
}

// LoadFromCache restores a cached output for the bound target. Write
// commands reject the call; commands without a codec always miss.
func (c *Command) LoadFromCache(args Arguments) (any, bool, error) {
	if c.kind == KindWrite {
		return nil, false, fmt.Errorf("%w: %s cannot read from cache", ErrUnsupportedOperation, c.Name())
	}
	codec, ok := c.op.(CacheCodec)
	if !ok {
		log.Debug().Str("command", c.Name()).Msg("command.LoadFromCache no codec")
		return nil, false, nil
	}
	if args.Cache == nil {
		return nil, false, nil
	}
	rec, ok, err := args.Cache.Get(c.cacheKey(args))
	if err != nil || !ok {
		return nil, false, err
	}
	output, err := codec.Decode(rec.Data)
	if err != nil {
		return nil, false, err
	}
	return output, true, nil
}

// SaveToCache stores output for the bound target. Write commands reject the
// call; commands without a codec store nothing.
func (c *Command) SaveToCache(args Arguments, output any) error {
	if c.kind == KindWrite {
		return fmt.Errorf("%w: %s cannot write to cache", ErrUnsupportedOperation, c.Name())
	}
	codec, ok := c.op.(CacheCodec)
	if !ok {
		log.Debug().Str("command", c.Name()).Msg("command.SaveToCache no codec")
		return nil
	}
	if args.Cache == nil {
		return nil
	}
	data, err := codec.Encode(output)
	if err != nil {
		return err
	}
	return args.Cache.Put(c.cacheKey(args), data)
}

func (c *Command) cacheKey(args Arguments) string {
	return cache.Key(c.Name(), args.Target.UUID)
}

func (c *Command) preProcess(args Arguments, prior []Result) (any, error) {
	if p, ok := c.op.(PreProcessor); ok {
		return p.PreProcess(args, prior)
	}
	return nil, nil
}

func (c *Command) postProcess(raw any, prior []Result, input any, args Arguments) (any, error) {
	if p, ok := c.op.(PostProcessor); ok {
		return p.PostProcess(raw, prior, input, args)
	}
	return raw, nil
}

func (c *Command) fail(logger zerolog.Logger, args Arguments, stage Stage, err error) Result {
	wrapped := c.wrap(args, stage, err)
	logger.Error().Err(err).Str("stage", string(stage)).Msg("command.Call failed")
	return failure(wrapped)
}

func (c *Command) wrap(args Arguments, stage Stage, err error) error {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return err
	}
	return &ExecutionError{
		Command: c.Name(),
		Target:  args.Target.Identity(),
		Stage:   stage,
		Err:     err,
	}
}
