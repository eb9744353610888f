package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
)

// recordOp records the prior length it saw and returns its own name.
type recordOp struct {
	name  string
	delay time.Duration
	fail  bool

	mu       sync.Mutex
	priorLen int
}

func (r *recordOp) Name() string { return r.name }

func (r *recordOp) Execute(_ context.Context, _ Arguments, prior []Result, _ any) (any, error) {
	r.mu.Lock()
	r.priorLen = len(prior)
	r.mu.Unlock()
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.fail {
		return nil, errors.New(r.name + " failed")
	}
	return r.name, nil
}

func (r *recordOp) seen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.priorLen
}

// mutatingOp scribbles over the prior slice it was handed.
type mutatingOp struct{ name string }

func (m mutatingOp) Name() string { return m.name }

func (m mutatingOp) Execute(_ context.Context, _ Arguments, prior []Result, _ any) (any, error) {
	for i := range prior {
		prior[i] = failure(errors.New("clobbered"))
	}
	return m.name, nil
}

type panicCallable struct{}

func (panicCallable) Name() string { return "panicky" }

func (panicCallable) Call(context.Context, Arguments, []Result) []Result {
	panic("group child exploded")
}

func groupArgs() Arguments {
	return Arguments{Target: target.Target{UUID: "c-1", Name: "alpha"}}
}

func outputs(results []Result) []any {
	out := make([]any, 0, len(results))
	for _, r := range results {
		out = append(out, r.Output)
	}
	return out
}

func TestSequentialAccumulatesAfterPrior(t *testing.T) {
	testlog.Start(t)
	a, b, c := &recordOp{name: "a"}, &recordOp{name: "b"}, &recordOp{name: "c"}
	seq := Sequential("seq", NewRead(a), NewRead(b), NewRead(c))
	prior := []Result{success("p1"), success("p2")}

	got := seq.Call(context.Background(), groupArgs(), prior)
	if len(got) != 5 {
		t.Fatalf("expected prior + 3 produced, got %d", len(got))
	}
	want := []any{"p1", "p2", "a", "b", "c"}
	for i, w := range want {
		if got[i].Output != w {
			t.Fatalf("position %d: got %v want %v", i, got[i].Output, w)
		}
	}
	if a.seen() != 2 || b.seen() != 3 || c.seen() != 4 {
		t.Fatalf("children saw wrong prior lengths: %d %d %d", a.seen(), b.seen(), c.seen())
	}
	if len(prior) != 2 || prior[0].Output != "p1" {
		t.Fatalf("caller prior mutated: %+v", prior)
	}
}

func TestSequentialContinuesAfterFailure(t *testing.T) {
	testlog.Start(t)
	seq := Sequential("seq", NewRead(&recordOp{name: "a", fail: true}), NewRead(&recordOp{name: "b"}))
	got := seq.Call(context.Background(), groupArgs(), nil)
	if len(got) != 2 || got[0].Success || !got[1].Success {
		t.Fatalf("expected failure then success, got %+v", got)
	}
}

func TestParallelReturnsOnlyProducedInOrder(t *testing.T) {
	testlog.Start(t)
	slow := &recordOp{name: "slow", delay: 40 * time.Millisecond}
	fast := &recordOp{name: "fast"}
	mid := &recordOp{name: "mid", delay: 10 * time.Millisecond}
	par := Parallel("par", NewRead(slow), NewRead(fast), NewRead(mid))
	prior := []Result{success("p")}

	got := par.Call(context.Background(), groupArgs(), prior)
	if len(got) != 3 {
		t.Fatalf("expected one envelope per child, got %d", len(got))
	}
	want := []any{"slow", "fast", "mid"}
	for i, w := range want {
		if got[i].Output != w {
			t.Fatalf("position %d: got %v want %v", i, got[i].Output, w)
		}
	}
	for _, op := range []*recordOp{slow, fast, mid} {
		if op.seen() != 1 {
			t.Fatalf("%s saw %d prior envelopes, want 1", op.name, op.seen())
		}
	}
}

func TestParallelChildrenAreIsolated(t *testing.T) {
	testlog.Start(t)
	observer := &recordOp{name: "observer", delay: 20 * time.Millisecond}
	par := Parallel("par", NewRead(mutatingOp{name: "mutator"}), NewRead(observer))
	prior := []Result{success("p1"), success("p2")}

	got := par.Call(context.Background(), groupArgs(), prior)
	if len(got) != 2 || !got[0].Success || !got[1].Success {
		t.Fatalf("unexpected results %+v", got)
	}
	if !prior[0].Success || prior[0].Output != "p1" {
		t.Fatalf("parallel child mutated caller prior: %+v", prior)
	}
	if observer.seen() != 2 {
		t.Fatalf("observer saw %d prior envelopes", observer.seen())
	}
}

func TestParallelRecoversChildPanic(t *testing.T) {
	testlog.Start(t)
	par := Parallel("par", panicCallable{}, NewRead(&recordOp{name: "ok"}))
	got := par.Call(context.Background(), groupArgs(), nil)
	if len(got) != 2 || got[0].Success || !errors.Is(got[0].Err, ErrPanic) || !got[1].Success {
		t.Fatalf("expected panic isolated to first child, got %+v", got)
	}
}

func TestNestedGroupsDoNotDuplicate(t *testing.T) {
	testlog.Start(t)
	inner := Sequential("inner", NewRead(&recordOp{name: "i1"}), NewRead(&recordOp{name: "i2"}))
	par := Parallel("par", NewRead(&recordOp{name: "x"}), NewRead(&recordOp{name: "y"}))
	outer := Sequential("outer", NewRead(&recordOp{name: "head"}), inner, par)

	got := outer.Call(context.Background(), groupArgs(), []Result{success("p")})
	want := []any{"p", "head", "i1", "i2", "x", "y"}
	if len(got) != len(want) {
		t.Fatalf("expected %d envelopes, got %d: %v", len(want), len(got), outputs(got))
	}
	for i, w := range want {
		if got[i].Output != w {
			t.Fatalf("position %d: got %v want %v (all=%v)", i, got[i].Output, w, outputs(got))
		}
	}

	parOfSeq := Parallel("ps", inner, NewRead(&recordOp{name: "z"}))
	got = parOfSeq.Call(context.Background(), groupArgs(), []Result{success("p")})
	if len(got) != 3 || got[0].Output != "i1" || got[2].Output != "z" {
		t.Fatalf("parallel over sequential duplicated prior: %v", outputs(got))
	}
}
