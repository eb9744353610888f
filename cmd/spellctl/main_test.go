package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/spellctl/internal/config"
	"github.com/danmuck/spellctl/internal/spells"
	"github.com/danmuck/spellctl/internal/target"
	"github.com/danmuck/spellctl/internal/testutil/testlog"
	"github.com/danmuck/spellctl/internal/transport"
	"github.com/danmuck/spellctl/internal/transport/fake"
	"gopkg.in/yaml.v3"
)

const testInventory = `[settings]
output = "json"

[[controllers]]
uuid = "c-1"
name = "prod"
customer = "acme"
endpoint = "10.0.0.1:17070"
password = "hunter2"

[[controllers]]
uuid = "c-2"
name = "lab"
customer = "globex"
transport = "cli"
`

type harness struct {
	cli    *cli
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	fake   *fake.Transport
	data   string
}

func newHarness(t *testing.T, inventory string) *harness {
	t.Helper()
	data := t.TempDir()
	t.Setenv(config.EnvData, data)
	t.Setenv(config.EnvConfig, "")
	t.Setenv(config.EnvPersonalConfig, "")
	if inventory != "" {
		if err := os.WriteFile(filepath.Join(data, "config.toml"), []byte(inventory), 0o600); err != nil {
			t.Fatalf("write inventory: %v", err)
		}
	}
	f := fake.New().
		On(transport.OpControllerInfo, func(_ context.Context, tgt target.Target, _ map[string]any) (any, error) {
			return transport.ControllerInfo{UUID: tgt.UUID, Name: tgt.Name}, nil
		}).
		Reply(transport.OpListModels, transport.ModelsReply{Models: []transport.ModelInfo{{Name: "default", UUID: "m-1"}}}).
		Reply(transport.OpListUsers, transport.UsersReply{})
	h := &harness{stdout: &bytes.Buffer{}, stderr: &bytes.Buffer{}, fake: f, data: data}
	h.cli = &cli{
		stdout:     h.stdout,
		stderr:     h.stderr,
		stdin:      strings.NewReader(""),
		isTerminal: func() bool { return false },
		connector:  f,
	}
	return h
}

func (h *harness) run(args ...string) int {
	h.stdout.Reset()
	h.stderr.Reset()
	return h.cli.run(context.Background(), args)
}

func TestVersionAndUsage(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	if code := h.run("version"); code != exitOK || !strings.HasPrefix(h.stdout.String(), "spellctl ") {
		t.Fatalf("version: code=%d out=%q", code, h.stdout.String())
	}
	if code := h.run(); code != exitUsage || !strings.Contains(h.stderr.String(), "usage:") {
		t.Fatalf("no args: code=%d err=%q", code, h.stderr.String())
	}
}

func TestSpellsListing(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	if code := h.run("spells", "--format", "yaml"); code != exitOK {
		t.Fatalf("spells: code=%d err=%s", code, h.stderr.String())
	}
	var listed []map[string]any
	if err := yaml.Unmarshal(h.stdout.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v\n%s", err, h.stdout.String())
	}
	if len(listed) != len(spells.DefaultRegistry().List()) {
		t.Fatalf("expected every spell listed, got %d", len(listed))
	}
}

func TestPingRendersJSON(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testInventory)
	if code := h.run("ping", "--run-type", "parallel"); code != exitOK {
		t.Fatalf("ping: code=%d err=%s", code, h.stderr.String())
	}
	var out []struct {
		Context struct {
			Name string `json:"name"`
		} `json:"context"`
		Result struct {
			Success bool   `json:"success"`
			Output  string `json:"output"`
		} `json:"result"`
	}
	if err := json.Unmarshal(h.stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v\n%s", err, h.stdout.String())
	}
	if len(out) != 2 || out[0].Context.Name != "prod" || out[1].Context.Name != "lab" {
		t.Fatalf("unexpected results %+v", out)
	}
	for _, res := range out {
		if !res.Result.Success || res.Result.Output != spells.Accessible {
			t.Fatalf("unexpected result %+v", res)
		}
	}
}

func TestFailedTargetExitsNonZero(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testInventory)
	h.fake.Fail(transport.OpListModels, errors.New("controller down"))
	if code := h.run("list-models", "-c", "prod"); code != exitFailed {
		t.Fatalf("expected failure exit, got %d out=%s err=%s", code, h.stdout.String(), h.stderr.String())
	}
	if strings.Contains(h.stderr.String(), "error:") {
		t.Fatalf("run must reach the controller, got %q", h.stderr.String())
	}
	var out []struct {
		Result struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		} `json:"result"`
		Steps []json.RawMessage `json:"steps"`
	}
	if err := json.Unmarshal(h.stdout.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v\n%s", err, h.stdout.String())
	}
	if len(out) != 1 || out[0].Result.Success || !strings.Contains(out[0].Result.Error, "controller down") || len(out[0].Steps) != 2 {
		t.Fatalf("unexpected results %+v", out)
	}

	h.fake.Reply(transport.OpListModels, transport.ModelsReply{})
	if code := h.run("list-models", "-c", "prod"); code != exitOK {
		t.Fatalf("expected success once the controller answers, got %d err=%s", code, h.stderr.String())
	}
}

func TestTargetsHidesCredentials(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testInventory)
	if code := h.run("targets", "--filter", "customer=acme"); code != exitOK {
		t.Fatalf("targets: code=%d err=%s", code, h.stderr.String())
	}
	out := h.stdout.String()
	if !strings.Contains(out, `"prod"`) || strings.Contains(out, `"lab"`) {
		t.Fatalf("filter not applied: %s", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("password leaked: %s", out)
	}
}

func TestWriteSpellNeedsConfirmation(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testInventory)
	if code := h.run("add-user", "-p", "user=alice", "-c", "prod"); code != exitFailed {
		t.Fatalf("expected refusal without terminal, got %d", code)
	}
	if !strings.Contains(h.stderr.String(), "--no-confirm") {
		t.Fatalf("expected hint, got %q", h.stderr.String())
	}
	if h.fake.Connects() != 0 {
		t.Fatalf("nothing may run before confirmation, connects=%d", h.fake.Connects())
	}

	if code := h.run("add-user", "-p", "user=alice", "-c", "prod", "--dry-run"); code != exitOK {
		t.Fatalf("dry run: code=%d err=%s out=%s", code, h.stderr.String(), h.stdout.String())
	}
}

func TestConfirmPrompt(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	h.cli.isTerminal = func() bool { return true }
	spell := spells.Spell{Name: "grant", Write: true}

	h.cli.stdin = strings.NewReader("yes\n")
	if err := h.cli.confirm(spell, 2); err != nil {
		t.Fatalf("expected confirmation, got %v", err)
	}
	if !strings.Contains(h.stderr.String(), "grant will modify 2 controller(s)") {
		t.Fatalf("unexpected prompt %q", h.stderr.String())
	}
	h.cli.stdin = strings.NewReader("n\n")
	if err := h.cli.confirm(spell, 2); !errors.Is(err, errNotConfirmed) {
		t.Fatalf("expected errNotConfirmed, got %v", err)
	}
}

func TestCastUsageErrors(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, testInventory)
	cases := []struct {
		name string
		args []string
		code int
	}{
		{"bad param", []string{"grant", "-p", "user"}, exitUsage},
		{"unknown flag", []string{"ping", "--bogus"}, exitUsage},
		{"extra args", []string{"ping", "prod"}, exitUsage},
		{"unknown spell", []string{"fireball"}, exitFailed},
		{"missing param", []string{"grant", "--no-confirm"}, exitFailed},
		{"no targets", []string{"ping", "--filter", "customer=nobody"}, exitFailed},
		{"bad policy", []string{"ping", "--run-type", "async"}, exitFailed},
		{"bad format", []string{"ping", "--format", "xml"}, exitFailed},
	}
	for _, tc := range cases {
		if code := h.run(tc.args...); code != tc.code {
			t.Fatalf("%s: expected exit %d, got %d (stderr=%q)", tc.name, tc.code, code, h.stderr.String())
		}
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams([]string{"user=bob", "set=a=1,b=2", "display-name="})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got["user"] != "bob" || got["set"] != "a=1,b=2" || got["display-name"] != "" {
		t.Fatalf("unexpected params %v", got)
	}
	if _, err := parseParams([]string{"=x"}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

func TestConfigInitAndCache(t *testing.T) {
	testlog.Start(t)
	h := newHarness(t, "")
	if code := h.run("config", "init"); code != exitOK {
		t.Fatalf("config init: code=%d err=%s", code, h.stderr.String())
	}
	if _, err := config.LoadFile(filepath.Join(h.data, "config.toml")); err != nil {
		t.Fatalf("written template must load: %v", err)
	}
	if code := h.run("config", "init"); code != exitFailed {
		t.Fatalf("expected refusal to overwrite, got %d", code)
	}
	if code := h.run("config", "init", "--force"); code != exitOK {
		t.Fatalf("force: code=%d", code)
	}

	if code := h.run("list-models", "-c", "prod"); code != exitOK {
		t.Fatalf("list-models: code=%d err=%s", code, h.stderr.String())
	}
	if code := h.run("cache", "list"); code != exitOK || !strings.Contains(h.stdout.String(), "00000000-0000-0000-0000-000000000001") {
		t.Fatalf("cache list: code=%d out=%q", code, h.stdout.String())
	}
	if code := h.run("cache", "ttl"); code != exitOK || strings.TrimSpace(h.stdout.String()) != "1h0m0s" {
		t.Fatalf("cache ttl: code=%d out=%q", code, h.stdout.String())
	}
	if code := h.run("cache", "clear"); code != exitOK || !strings.HasPrefix(h.stdout.String(), "removed 2 ") {
		t.Fatalf("cache clear: code=%d out=%q", code, h.stdout.String())
	}
	if code := h.run("cache", "nope"); code != exitUsage {
		t.Fatalf("expected usage error, got %d", code)
	}
}
