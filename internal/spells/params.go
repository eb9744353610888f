package spells

import (
	"fmt"
	"sort"
	"strings"
)

// Parameter keys read from command.Arguments.Params.
const (
	ParamUser        = "user"
	ParamACL         = "acl"
	ParamDisplayName = "display-name"
	ParamPassword    = "password"
	ParamApp         = "app"
	ParamGet         = "get"
	ParamSet         = "set"
	ParamFile        = "file"
	ParamPurge       = "purge"
)

// ParseSettings reads "key=value,key2=value2" into a map.
func ParseSettings(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(map[string]any)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: setting %q is not key=value", ErrInvalidParam, pair)
		}
		out[key] = strings.TrimSpace(value)
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
