package cache

import (
	"errors"
	"fmt"
	"io/fs"
)

var (
	ErrCacheAccess = errors.New("cache: access failed")
	ErrKeyNotFound = errors.New("cache: key does not exist")
	ErrInvalidKey  = errors.New("cache: invalid key")
	ErrMalformed   = errors.New("cache: malformed record")
)

// AccessError reports any failed cache operation. It always matches
// ErrCacheAccess and unwraps to the underlying cause, so permission failures
// also match fs.ErrPermission.
type AccessError struct {
	Op   string
	Key  string
	Path string
	Err  error
}

func (e *AccessError) Error() string {
	if errors.Is(e.Err, fs.ErrPermission) {
		return fmt.Sprintf("cache: permission denied to %s file `%s`", e.Op, e.Path)
	}
	if errors.Is(e.Err, ErrKeyNotFound) {
		return fmt.Sprintf("cache: `%s` does not exist", e.Path)
	}
	return fmt.Sprintf("cache: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *AccessError) Unwrap() error {
	return e.Err
}

func (e *AccessError) Is(target error) bool {
	return target == ErrCacheAccess
}

// IsPermission reports whether err is a cache failure caused by missing permission.
func IsPermission(err error) bool {
	var accessErr *AccessError
	return errors.As(err, &accessErr) && errors.Is(accessErr.Err, fs.ErrPermission)
}

func accessErr(op, key, path string, err error) error {
	return &AccessError{Op: op, Key: key, Path: path, Err: err}
}
