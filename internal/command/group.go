package command

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Callable is anything a pipeline can hold: a Command or a group.
type Callable interface {
	Name() string
	Call(ctx context.Context, args Arguments, prior []Result) []Result
}

var (
	_ Callable = (*Command)(nil)
	_ Callable = (*SequentialGroup)(nil)
	_ Callable = (*ParallelGroup)(nil)
)

// SequentialGroup runs children in order, each seeing every envelope
// produced before it. A failed child does not stop the group.
type SequentialGroup struct {
	name     string
	children []Callable
}

func Sequential(name string, children ...Callable) *SequentialGroup {
	return &SequentialGroup{name: name, children: append([]Callable(nil), children...)}
}

func (g *SequentialGroup) Name() string {
	return g.name
}

func (g *SequentialGroup) Children() []Callable {
	return append([]Callable(nil), g.children...)
}

// Call returns prior followed by every envelope the children produced.
func (g *SequentialGroup) Call(ctx context.Context, args Arguments, prior []Result) []Result {
	results := cloneResults(prior)
	for _, child := range g.children {
		seen := cloneResults(results)
		out := child.Call(ctx, args, seen)
		results = append(results, Produced(child, seen, out)...)
	}
	return results
}

// ParallelGroup runs children concurrently against one snapshot of prior.
type ParallelGroup struct {
	name     string
	children []Callable
}

func Parallel(name string, children ...Callable) *ParallelGroup {
	return &ParallelGroup{name: name, children: append([]Callable(nil), children...)}
}

func (g *ParallelGroup) Name() string {
	return g.name
}

func (g *ParallelGroup) Children() []Callable {
	return append([]Callable(nil), g.children...)
}

// Call returns only the children's envelopes, in declared order.
func (g *ParallelGroup) Call(ctx context.Context, args Arguments, prior []Result) []Result {
	outs := make([][]Result, len(g.children))
	var wg sync.WaitGroup
	for i, child := range g.children {
		wg.Add(1)
		go func(i int, child Callable) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("group", g.name).Str("child", child.Name()).Msgf("command.ParallelGroup panic: %v", r)
					outs[i] = []Result{failure(&ExecutionError{
						Command: child.Name(),
						Target:  args.Target.Identity(),
						Stage:   StageExecute,
						Err:     fmt.Errorf("%w: %v", ErrPanic, r),
					})}
				}
			}()
			snapshot := cloneResults(prior)
			outs[i] = Produced(child, snapshot, child.Call(ctx, args, snapshot))
		}(i, child)
	}
	wg.Wait()

	results := make([]Result, 0, len(g.children))
	for _, out := range outs {
		results = append(results, out...)
	}
	return results
}

// Produced strips the prior prefix a sequential child echoes back so nested
// groups never duplicate envelopes.
func Produced(child Callable, prior, out []Result) []Result {
	if _, ok := child.(*SequentialGroup); !ok {
		return out
	}
	if len(out) < len(prior) {
		return out
	}
	return out[len(prior):]
}
