package cache

import (
	"fmt"
	"strings"
)

const (
	keySeparator = "."
	emptyPart    = "~"
)

// Key addresses the record of one command for one target. Each part is
// escaped so distinct pairs never share a key and the result is a plain
// file name.
func Key(command, targetID string) string {
	return escapePart(command) + keySeparator + escapePart(targetID)
}

// ValidateKey rejects keys that cannot be used as a plain file name.
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, key)
	}
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: %q starts with a dot", ErrInvalidKey, key)
	}
	return nil
}

// escapePart keeps [A-Za-z0-9_-] and writes every other byte as %XX, so the
// separator and the empty marker never appear in an escaped part.
func escapePart(in string) string {
	if in == "" {
		return emptyPart
	}
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(in))
	for i := 0; i < len(in); i++ {
		c := in[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}
