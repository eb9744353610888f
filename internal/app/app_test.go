package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/danmuck/spellctl/internal/config"
	"github.com/danmuck/spellctl/internal/runner"
	"github.com/danmuck/spellctl/internal/spells"
	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/danmuck/spellctl/internal/transport/fake"
)

func testApp(t *testing.T) (*App, *fake.Transport) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Controllers = []target.Target{
		{UUID: "c-1", Name: "prod", Customer: "acme", Endpoint: "a:1"},
		{UUID: "c-2", Name: "edge", Customer: "globex", Endpoint: "b:1"},
		{UUID: "c-3", Name: "lab", Customer: "acme", Endpoint: "c:1"},
	}
	a, err := New(cfg, filepath.Join(t.TempDir(), "caches"))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	f := fake.New().
		On(transport.OpControllerInfo, func(_ context.Context, tgt target.Target, _ map[string]any) (any, error) {
			return transport.ControllerInfo{UUID: tgt.UUID, Name: tgt.Name}, nil
		}).
		Reply(transport.OpListModels, transport.ModelsReply{Models: []transport.ModelInfo{{Name: "default", UUID: "m-1"}}}).
		FailConnect("c-3", errors.New("dial refused"))
	a.Connector = f
	return a, f
}

func TestTargetsSelection(t *testing.T) {
	testlog.Start(t)
	a, _ := testApp(t)
	got, err := a.Targets("customer=acme", nil)
	if err != nil || len(got) != 2 || got[0].Name != "prod" || got[1].Name != "lab" {
		t.Fatalf("unexpected targets %+v err=%v", got, err)
	}
	got, err = a.Targets("", []string{"edge"})
	if err != nil || len(got) != 1 || got[0].UUID != "c-2" {
		t.Fatalf("unexpected named targets %+v err=%v", got, err)
	}
	if _, err := a.Targets("customer=nobody", nil); !errors.Is(err, ErrNoTargets) {
		t.Fatalf("expected ErrNoTargets, got %v", err)
	}
	if _, err := a.Targets("bogus=1", nil); !errors.Is(err, target.ErrInvalidFilter) {
		t.Fatalf("expected ErrInvalidFilter, got %v", err)
	}
}

func TestCastPingAcrossTargets(t *testing.T) {
	testlog.Start(t)
	a, f := testApp(t)
	results, err := a.Cast(context.Background(), Request{Spell: "ping", RunType: "parallel"})
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{spells.Accessible, spells.Accessible, spells.Unreachable} {
		if results[i].Result.Output != want {
			t.Fatalf("result %d = %#v, want %s", i, results[i].Result, want)
		}
	}
	if f.Closes() != 2 {
		t.Fatalf("expected sessions closed, got %d", f.Closes())
	}
}

func TestCastUsesCache(t *testing.T) {
	testlog.Start(t)
	a, f := testApp(t)
	req := Request{Spell: "list-models", Controllers: []string{"prod"}}
	for i := 0; i < 2; i++ {
		results, err := a.Cast(context.Background(), req)
		if err != nil {
			t.Fatalf("cast %d: %v", i, err)
		}
		if !results[0].Result.Success {
			t.Fatalf("cast %d failed: %v", i, results[0].Result.Err)
		}
	}
	if f.Count("c-1", transport.OpControllerInfo) != 1 || f.Count("c-1", transport.OpListModels) != 1 {
		t.Fatalf("second cast must be served from cache, calls=%v", f.Calls())
	}
	req.Refresh = true
	if _, err := a.Cast(context.Background(), req); err != nil {
		t.Fatalf("cast: %v", err)
	}
	if f.Count("c-1", transport.OpControllerInfo) != 2 || f.Count("c-1", transport.OpListModels) != 2 {
		t.Fatalf("expected refresh to bypass cache, calls=%v", f.Calls())
	}
}

func TestCastReportsFailedStep(t *testing.T) {
	testlog.Start(t)
	a, f := testApp(t)
	f.Fail(transport.OpListModels, errors.New("models unavailable"))
	f.Reply(transport.OpListUsers, transport.UsersReply{})
	results, err := a.Cast(context.Background(), Request{Spell: "info", Controllers: []string{"prod"}})
	if err != nil {
		t.Fatalf("cast: %v", err)
	}
	res := results[0]
	if len(res.Steps) != 3 || !res.Steps[2].Success {
		t.Fatalf("expected controller, models and users steps, got %+v", res.Steps)
	}
	if res.Result.Success || res.Result.Err == nil {
		t.Fatalf("info with a failed models step must fail, got %+v", res.Result)
	}
}

func TestCastRejectsBadRequests(t *testing.T) {
	testlog.Start(t)
	a, _ := testApp(t)
	cases := []struct {
		req  Request
		want error
	}{
		{Request{Spell: "nope"}, spells.ErrUnknownSpell},
		{Request{Spell: "grant", Params: map[string]string{spells.ParamUser: "bob"}}, spells.ErrMissingParam},
		{Request{Spell: "ping", RunType: "chaos"}, runner.ErrUnknownPolicy},
		{Request{Spell: "ping", RunType: "batch", BatchSize: -1}, runner.ErrInvalidBatchSize},
		{Request{Spell: "ping", Filter: "name=ghost"}, ErrNoTargets},
	}
	for _, tc := range cases {
		if _, err := a.Cast(context.Background(), tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%+v: expected %v, got %v", tc.req, tc.want, err)
		}
	}
}
