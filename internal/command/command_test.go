package command

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/danmuck/spellctl/internal/cache"
	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
	"gopkg.in/yaml.v3"
)

type spyOp struct {
	name     string
	calls    atomic.Int32
	output   any
	err      error
	panicMsg string
}

func (s *spyOp) Name() string { return s.name }

func (s *spyOp) Execute(context.Context, Arguments, []Result, any) (any, error) {
	s.calls.Add(1)
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.output, s.err
}

type cachedSpy struct {
	spyOp
}

func (c *cachedSpy) Encode(output any) (map[string]any, error) {
	return map[string]any{"value": output}, nil
}

func (c *cachedSpy) Decode(data map[string]any) (any, error) {
	return data["value"], nil
}

type inputOp struct {
	spyOp
	seenInput any
}

func (o *inputOp) PreProcess(args Arguments, prior []Result) (any, error) {
	return map[string]any{"user": args.Param("user"), "prior": len(prior)}, nil
}

func (o *inputOp) Execute(ctx context.Context, args Arguments, prior []Result, input any) (any, error) {
	o.seenInput = input
	return o.spyOp.Execute(ctx, args, prior, input)
}

func (o *inputOp) PostProcess(raw any, _ []Result, _ any, _ Arguments) (any, error) {
	return strings.ToUpper(raw.(string)), nil
}

type brokenStore struct {
	puts atomic.Int32
}

func (b *brokenStore) Get(key string) (cache.Record, bool, error) {
	return cache.Record{}, false, &cache.AccessError{Op: "read from", Key: key, Err: errors.New("disk on fire")}
}

func (b *brokenStore) Put(key string, data map[string]any) error {
	b.puts.Add(1)
	return &cache.AccessError{Op: "write to", Key: key, Err: errors.New("disk on fire")}
}

func (b *brokenStore) Delete(string) error { return nil }

func testArgs(t *testing.T) Arguments {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "caches"))
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	return Arguments{
		Target: target.Target{UUID: "c-1", Name: "alpha"},
		Cache:  store,
		Params: map[string]string{},
	}
}

func TestCacheHitShortCircuitsExecute(t *testing.T) {
	testlog.Start(t)
	op := &cachedSpy{spyOp{name: "Spy", output: "fresh"}}
	cmd := NewRead(op)
	args := testArgs(t)
	if err := args.Cache.Put(cache.Key("Spy", "c-1"), map[string]any{"value": "cached"}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}

	out := cmd.Call(context.Background(), args, nil)
	if len(out) != 1 || !out[0].Success || out[0].Output != "cached" {
		t.Fatalf("expected cached envelope, got %+v", out)
	}
	if op.calls.Load() != 0 {
		t.Fatalf("execute must not run on cache hit, ran %d times", op.calls.Load())
	}
}

func TestRefreshBypassesCacheAndRewrites(t *testing.T) {
	testlog.Start(t)
	op := &cachedSpy{spyOp{name: "Spy", output: "fresh"}}
	cmd := NewReadWrite(op)
	args := testArgs(t)
	_ = args.Cache.Put(cache.Key("Spy", "c-1"), map[string]any{"value": "stale"})
	args.Refresh = true

	out := cmd.Call(context.Background(), args, nil)
	if !out[0].Success || out[0].Output != "fresh" || op.calls.Load() != 1 {
		t.Fatalf("expected fresh execution, got %+v calls=%d", out, op.calls.Load())
	}
	rec, ok, err := args.Cache.Get(cache.Key("Spy", "c-1"))
	if err != nil || !ok || rec.Data["value"] != "fresh" {
		t.Fatalf("expected cache rewritten with fresh value: %+v ok=%v err=%v", rec, ok, err)
	}
}

func TestCacheMissExecutesAndStores(t *testing.T) {
	testlog.Start(t)
	op := &cachedSpy{spyOp{name: "Spy", output: "v1"}}
	cmd := NewRead(op)
	args := testArgs(t)

	first := cmd.Call(context.Background(), args, nil)
	second := cmd.Call(context.Background(), args, nil)
	if !first[0].Success || !second[0].Success || second[0].Output != "v1" {
		t.Fatalf("unexpected envelopes: %+v %+v", first, second)
	}
	if op.calls.Load() != 1 {
		t.Fatalf("expected a single execution, got %d", op.calls.Load())
	}
}

func TestCacheErrorsDoNotFailCommand(t *testing.T) {
	testlog.Start(t)
	op := &cachedSpy{spyOp{name: "Spy", output: "ok"}}
	store := &brokenStore{}
	args := testArgs(t)
	args.Cache = store

	out := NewRead(op).Call(context.Background(), args, nil)
	if !out[0].Success || out[0].Output != "ok" {
		t.Fatalf("cache failures must not downgrade success: %+v", out)
	}
	if op.calls.Load() != 1 || store.puts.Load() != 1 {
		t.Fatalf("expected execute and attempted write, calls=%d puts=%d", op.calls.Load(), store.puts.Load())
	}
}

func TestWriteCommandRejectsCacheHooks(t *testing.T) {
	testlog.Start(t)
	cmd := NewWrite(&cachedSpy{spyOp{name: "Grant"}})
	args := testArgs(t)
	if _, _, err := cmd.LoadFromCache(args); !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("expected ErrUnsupportedOperation on load, got %v", err)
	}
	if err := cmd.SaveToCache(args, "x"); !errors.Is(err, ErrUnsupportedOperation) {
		t.Fatalf("expected ErrUnsupportedOperation on save, got %v", err)
	}
	if cmd.Capabilities().Cacheable || !cmd.Capabilities().Tunnel {
		t.Fatalf("unexpected write capabilities: %+v", cmd.Capabilities())
	}
}

func TestReadCommandWithoutCodecIsPermissive(t *testing.T) {
	testlog.Start(t)
	cmd := NewRead(&spyOp{name: "Status", output: "up"})
	args := testArgs(t)
	if out, ok, err := cmd.LoadFromCache(args); out != nil || ok || err != nil {
		t.Fatalf("expected silent miss, got %v %v %v", out, ok, err)
	}
	if err := cmd.SaveToCache(args, "up"); err != nil {
		t.Fatalf("expected silent save, got %v", err)
	}
	keys, _ := args.Cache.(*cache.FileStore).Keys()
	if len(keys) != 0 {
		t.Fatalf("no-codec save must not write, found %v", keys)
	}
}

func TestExecuteErrorIsWrapped(t *testing.T) {
	testlog.Start(t)
	boom := errors.New("connection reset")
	out := NewRead(&spyOp{name: "Spy", err: boom}).Call(context.Background(), testArgs(t), nil)
	if len(out) != 1 || out[0].Success || out[0].Output != nil {
		t.Fatalf("expected single failed envelope, got %+v", out)
	}
	var execErr *ExecutionError
	if !errors.As(out[0].Err, &execErr) {
		t.Fatalf("expected ExecutionError, got %T", out[0].Err)
	}
	if execErr.Command != "Spy" || execErr.Stage != StageExecute || !strings.Contains(execErr.Target, "alpha") {
		t.Fatalf("missing context in %+v", execErr)
	}
	if !errors.Is(out[0].Err, ErrCommandExecution) || !errors.Is(out[0].Err, boom) {
		t.Fatalf("expected chain to match sentinel and cause: %v", out[0].Err)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	testlog.Start(t)
	out := NewWrite(&spyOp{name: "Spy", panicMsg: "nil map"}).Call(context.Background(), testArgs(t), nil)
	if out[0].Success || !errors.Is(out[0].Err, ErrPanic) || !errors.Is(out[0].Err, ErrCommandExecution) {
		t.Fatalf("expected recovered panic failure, got %+v", out[0])
	}
}

func TestPreAndPostProcessFlow(t *testing.T) {
	testlog.Start(t)
	op := &inputOp{spyOp: spyOp{name: "Flow", output: "done"}}
	args := testArgs(t)
	args.Params["user"] = "bob"
	prior := []Result{success("a")}

	out := NewWrite(op).Call(context.Background(), args, prior)
	if !out[0].Success || out[0].Output != "DONE" {
		t.Fatalf("expected post-processed output, got %+v", out[0])
	}
	in, _ := op.seenInput.(map[string]any)
	if in["user"] != "bob" || in["prior"] != 1 {
		t.Fatalf("execute did not receive pre-processed input: %#v", op.seenInput)
	}
}

func TestDryRunSkipsExecuteForWrites(t *testing.T) {
	testlog.Start(t)
	op := &inputOp{spyOp: spyOp{name: "Grant", output: "done"}}
	args := testArgs(t)
	args.DryRun = true
	args.Params["user"] = "bob"

	out := NewWrite(op).Call(context.Background(), args, nil)
	report, ok := out[0].Output.(DryRunReport)
	if !out[0].Success || !ok {
		t.Fatalf("expected dry run report, got %+v", out[0])
	}
	if report.Command != "Grant" || !report.DryRun || op.calls.Load() != 0 {
		t.Fatalf("unexpected report %+v calls=%d", report, op.calls.Load())
	}

	readOp := &spyOp{name: "Read", output: "x"}
	_ = NewRead(readOp).Call(context.Background(), args, nil)
	if readOp.calls.Load() != 1 {
		t.Fatalf("dry run must not skip read commands")
	}
}

func TestResultMarshalling(t *testing.T) {
	testlog.Start(t)
	ok, err := json.Marshal(success(map[string]any{"n": 1}))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(ok) != `{"success":true,"output":{"n":1},"error":null}` {
		t.Fatalf("unexpected success json: %s", ok)
	}
	bad, _ := json.Marshal(failure(errors.New("nope")))
	if string(bad) != `{"success":false,"output":null,"error":"nope"}` {
		t.Fatalf("unexpected failure json: %s", bad)
	}
	y, err := yaml.Marshal(failure(errors.New("nope")))
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	if !strings.Contains(string(y), "error: nope") || !strings.Contains(string(y), "success: false") {
		t.Fatalf("unexpected yaml: %s", y)
	}
}

func TestFindAndLast(t *testing.T) {
	testlog.Start(t)
	type info struct{ Name string }
	results := []Result{success(info{"a"}), failure(errors.New("x")), success("s"), success(info{"b"})}
	got, ok := Find[info](results)
	if !ok || got.Name != "b" {
		t.Fatalf("expected latest info, got %+v %v", got, ok)
	}
	if _, ok := Find[int](results); ok {
		t.Fatalf("expected no int output")
	}
	last, ok := Last(results)
	if !ok || last.Output != (info{"b"}) {
		t.Fatalf("unexpected last %+v", last)
	}
	if _, ok := Last(nil); ok {
		t.Fatalf("Last(nil) must report false")
	}
}

func TestWithTargetCopiesArguments(t *testing.T) {
	testlog.Start(t)
	shared := Arguments{Params: map[string]string{"k": "v"}, Models: []string{"m"}}
	a := shared.WithTarget(target.Target{UUID: "a"})
	a.Params["k"] = "changed"
	a.Models[0] = "other"
	if shared.Params["k"] != "v" || shared.Models[0] != "m" {
		t.Fatalf("WithTarget aliased shared arguments: %+v", shared)
	}
	if a.Target.UUID != "a" {
		t.Fatalf("target not bound")
	}
	if _, err := a.Connect(context.Background()); err == nil {
		t.Fatalf("expected error without a session pool")
	}
}
