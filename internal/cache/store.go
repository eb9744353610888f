package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultTTL is the staleness threshold applied when no TTL option is given.
const DefaultTTL = 3600 * time.Second

// Record is one cached command output for a (command, target) key.
type Record struct {
	Timestamp float64        `yaml:"timestamp" json:"timestamp"`
	Data      map[string]any `yaml:"data" json:"data"`
}

// Time returns the record timestamp as wall-clock time.
func (r Record) Time() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Store is the cache contract consumed by commands.
type Store interface {
	Get(key string) (Record, bool, error)
	Put(key string, data map[string]any) error
	Delete(key string) error
}

// FileStore keeps one YAML document per key inside a directory.
type FileStore struct {
	dir string
	now func() time.Time

	mu  sync.RWMutex
	ttl time.Duration
}

type Option func(*FileStore)

func WithTTL(ttl time.Duration) Option {
	return func(s *FileStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces the wall clock used for timestamps and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		if now != nil {
			s.now = now
		}
	}
}

var _ Store = (*FileStore)(nil)

// Open prepares dir as the backing directory and returns a store over it.
// The directory is created once here and never removed.
func Open(dir string, opts ...Option) (*FileStore, error) {
	resolved := strings.TrimSpace(dir)
	if resolved == "" {
		return nil, accessErr("open", "", dir, errors.New("empty cache directory"))
	}
	s := &FileStore{dir: resolved, now: time.Now, ttl: DefaultTTL}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(resolved, 0o755); err != nil {
		return nil, accessErr("create", "", resolved, err)
	}
	log.Debug().Str("dir", resolved).Dur("ttl", s.ttl).Msg("cache.Open")
	return s, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) TTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ttl
}

// SetTTL changes the policy for every subsequent expiry check.
func (s *FileStore) SetTTL(ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s.mu.Lock()
	s.ttl = ttl
	s.mu.Unlock()
}

// Get returns the live record for key. A stale record is reported absent and
// removed from disk.
func (s *FileStore) Get(key string) (Record, bool, error) {
	path, err := s.path("read from", key)
	if err != nil {
		return Record{}, false, err
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, accessErr("read from", key, path, err)
	}
	rec, err := decodeRecord(raw)
	if err != nil {
		return Record{}, false, accessErr("decode", key, path, err)
	}
	if s.expired(rec) {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Record{}, false, accessErr("delete", key, path, err)
		}
		log.Debug().Str("key", key).Msg("cache.FileStore.Get expired")
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Put stores data under key stamped with the current time, replacing any
// previous record atomically.
func (s *FileStore) Put(key string, data map[string]any) error {
	path, err := s.path("write to", key)
	if err != nil {
		return err
	}
	if data == nil {
		data = map[string]any{}
	}
	rec := Record{Timestamp: unixSeconds(s.now()), Data: data}
	raw, err := yaml.Marshal(rec)
	if err != nil {
		return accessErr("encode", key, path, err)
	}
	if err := writeAtomic(s.dir, path, raw); err != nil {
		return accessErr("write to", key, path, err)
	}
	return nil
}

// Delete removes the record for key. Deleting a missing key is an error.
func (s *FileStore) Delete(key string) error {
	path, err := s.path("delete", key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return accessErr("delete", key, path, ErrKeyNotFound)
		}
		return accessErr("delete", key, path, err)
	}
	return nil
}

// Keys lists stored keys in lexical order, including stale ones.
func (s *FileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, accessErr("list", "", s.dir, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Purge deletes every record and returns how many were removed.
func (s *FileStore) Purge() (int, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, key := range keys {
		if err := s.Delete(key); err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *FileStore) expired(rec Record) bool {
	age := s.now().Sub(rec.Time())
	return age >= s.TTL()
}

func (s *FileStore) path(op, key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", accessErr(op, key, filepath.Join(s.dir, key), err)
	}
	return filepath.Join(s.dir, key), nil
}

type wireRecord struct {
	Timestamp *float64       `yaml:"timestamp"`
	Data      map[string]any `yaml:"data"`
}

func decodeRecord(raw []byte) (Record, error) {
	var wire wireRecord
	if err := yaml.Unmarshal(raw, &wire); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.Timestamp == nil {
		return Record{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	data := wire.Data
	if data == nil {
		data = map[string]any{}
	}
	return Record{Timestamp: *wire.Timestamp, Data: data}, nil
}

func writeAtomic(dir, path string, raw []byte) error {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
