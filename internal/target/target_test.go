package target

import (
	"errors"
	"reflect"
	"testing"

	"github.com/danmuck/spellctl/internal/testutil/testlog"
)

func fleet() []Target {
	return []Target{
		{UUID: "u-1", Name: "alpha", Customer: "acme", Owner: "ops", Tags: map[string]string{"env": "prod"}},
		{UUID: "u-2", Name: "bravo", Customer: "acme", Owner: "dev", Tags: map[string]string{"env": "stage"}},
		{UUID: "u-3", Name: "charlie", Customer: "globex", Owner: "ops"},
	}
}

func names(ts []Target) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Name)
	}
	return out
}

func TestParseFilterApply(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: []string{"alpha", "bravo", "charlie"}},
		{raw: "customer=acme", want: []string{"alpha", "bravo"}},
		{raw: "customer=acme,globex owner=ops", want: []string{"alpha", "charlie"}},
		{raw: "tag.env=prod", want: []string{"alpha"}},
		{raw: "uuid=u-3", want: []string{"charlie"}},
		{raw: "name=nobody", want: []string{}},
	}
	for _, tc := range cases {
		f, err := ParseFilter(tc.raw)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		got := names(f.Apply(fleet()))
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("filter %q: got %v want %v", tc.raw, got, tc.want)
		}
	}
}

func TestParseFilterRejectsUnknownOrMalformed(t *testing.T) {
	testlog.Start(t)
	for _, raw := range []string{"color=red", "customer", "=acme", "customer=", "tag.=x"} {
		if _, err := ParseFilter(raw); !errors.Is(err, ErrInvalidFilter) {
			t.Fatalf("expected ErrInvalidFilter for %q, got %v", raw, err)
		}
	}
}

func TestFilterWithNames(t *testing.T) {
	testlog.Start(t)
	f, err := ParseFilter("customer=acme")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := names(f.WithNames([]string{"bravo", "u-3"}).Apply(fleet()))
	if !reflect.DeepEqual(got, []string{"bravo"}) {
		t.Fatalf("expected names to narrow within the filter, got %v", got)
	}
	if !f.WithNames(nil).Match(fleet()[0]) {
		t.Fatalf("empty name list must not narrow")
	}
}

func TestResolveModels(t *testing.T) {
	testlog.Start(t)
	tgt := Target{ModelMapping: map[string][]string{
		"lma":     {"lma-prod", "lma-stage"},
		"default": {"controller"},
	}}
	got := tgt.ResolveModels([]string{"lma", "k8s", "lma-prod", " ", "default", "k8s"})
	want := []string{"lma-prod", "lma-stage", "k8s", "controller"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolve: got %v want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	testlog.Start(t)
	ok := Target{UUID: "u", Name: "n", Endpoint: "10.0.0.1:17070"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid target rejected: %v", err)
	}
	bad := []Target{
		{Name: "n", Endpoint: "e"},
		{UUID: "u", Endpoint: "e"},
		{UUID: "u", Name: "n"},
		{UUID: "u", Name: "n", Transport: "carrier-pigeon"},
		{UUID: "u", Name: "n", Transport: "cli", SSH: &SSHConfig{}},
	}
	for _, tgt := range bad {
		if err := tgt.Validate(); !errors.Is(err, ErrInvalidTarget) {
			t.Fatalf("expected ErrInvalidTarget for %+v, got %v", tgt, err)
		}
	}
	cli := Target{UUID: "u", Name: "n", Transport: "CLI"}
	if err := cli.Validate(); err != nil {
		t.Fatalf("local cli target rejected: %v", err)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	testlog.Start(t)
	orig := Target{
		UUID:         "u",
		SSH:          &SSHConfig{Host: "h"},
		ModelMapping: map[string][]string{"a": {"b"}},
		Tags:         map[string]string{"k": "v"},
	}
	cp := orig.Clone()
	cp.SSH.Host = "other"
	cp.ModelMapping["a"][0] = "z"
	cp.Tags["k"] = "changed"
	if orig.SSH.Host != "h" || orig.ModelMapping["a"][0] != "b" || orig.Tags["k"] != "v" {
		t.Fatalf("clone aliased original: %+v", orig)
	}
}
