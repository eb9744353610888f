package target

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidFilter = errors.New("target: invalid filter")

const tagPrefix = "tag."

type term struct {
	key    string
	values []string
}

// Filter selects targets by attribute. Terms are ANDed; values within one
// term are ORed. The zero Filter matches everything.
type Filter struct {
	terms []term
	names map[string]struct{}
}

// ParseFilter parses "key=v1,v2 key2=v3". Accepted keys are uuid, name,
// customer, owner and tag.<name>.
func ParseFilter(raw string) (Filter, error) {
	var f Filter
	for _, field := range strings.Fields(raw) {
		key, values, ok := strings.Cut(field, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" {
			return Filter{}, fmt.Errorf("%w: malformed term %q", ErrInvalidFilter, field)
		}
		if !validKey(key) {
			return Filter{}, fmt.Errorf("%w: unknown key %q", ErrInvalidFilter, key)
		}
		parts := make([]string, 0, 2)
		for _, v := range strings.Split(values, ",") {
			if v = strings.TrimSpace(v); v != "" {
				parts = append(parts, v)
			}
		}
		if len(parts) == 0 {
			return Filter{}, fmt.Errorf("%w: no values for %q", ErrInvalidFilter, key)
		}
		f.terms = append(f.terms, term{key: key, values: parts})
	}
	return f, nil
}

// WithNames narrows the filter to targets whose name or uuid is listed.
func (f Filter) WithNames(names []string) Filter {
	out := Filter{terms: append([]term(nil), f.terms...)}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if out.names == nil {
			out.names = make(map[string]struct{}, len(names))
		}
		out.names[n] = struct{}{}
	}
	return out
}

func (f Filter) Empty() bool {
	return len(f.terms) == 0 && len(f.names) == 0
}

func (f Filter) Match(t Target) bool {
	if len(f.names) > 0 {
		_, byName := f.names[t.Name]
		_, byUUID := f.names[t.UUID]
		if !byName && !byUUID {
			return false
		}
	}
	for _, tm := range f.terms {
		if !tm.match(t) {
			return false
		}
	}
	return true
}

// Apply returns the matching targets in input order.
func (f Filter) Apply(targets []Target) []Target {
	out := make([]Target, 0, len(targets))
	for _, t := range targets {
		if f.Match(t) {
			out = append(out, t)
		}
	}
	return out
}

func (f Filter) String() string {
	parts := make([]string, 0, len(f.terms))
	for _, tm := range f.terms {
		parts = append(parts, tm.key+"="+strings.Join(tm.values, ","))
	}
	return strings.Join(parts, " ")
}

func (tm term) match(t Target) bool {
	var have string
	switch tm.key {
	case "uuid":
		have = t.UUID
	case "name":
		have = t.Name
	case "customer":
		have = t.Customer
	case "owner":
		have = t.Owner
	default:
		v, ok := t.Tags[strings.TrimPrefix(tm.key, tagPrefix)]
		if !ok {
			return false
		}
		have = v
	}
	for _, want := range tm.values {
		if have == want {
			return true
		}
	}
	return false
}

func validKey(key string) bool {
	switch key {
	case "uuid", "name", "customer", "owner":
		return true
	}
	return strings.HasPrefix(key, tagPrefix) && len(key) > len(tagPrefix)
}
