package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/spellctl/internal/cache"
	"github.com/danmuck/spellctl/internal/runner"
	"github.com/danmuck/spellctl/internal/target"
	"github.com/rs/zerolog/log"
)

var ErrInvalidConfig = errors.New("config: invalid config")

const DefaultServerAddr = ":8787"

type Settings struct {
	RunType   runner.Policy
	BatchSize int
	CacheTTL  time.Duration
	Output    string
}

type ServerConfig struct {
	Addr        string
	Token       string
	CorsOrigins []string
}

// Config is the merged inventory and settings.
type Config struct {
	Settings    Settings
	Server      ServerConfig
	Controllers []target.Target
}

func DefaultConfig() Config {
	return Config{
		Settings: Settings{
			RunType:   runner.PolicySerial,
			BatchSize: runner.DefaultBatchSize,
			CacheTTL:  cache.DefaultTTL,
			Output:    "yaml",
		},
		Server: ServerConfig{Addr: DefaultServerAddr},
	}
}

// RunnerConfig returns the configured scheduling policy.
func (c Config) RunnerConfig() runner.Config {
	return runner.Config{Policy: c.Settings.RunType, BatchSize: c.Settings.BatchSize}
}

// Targets returns the controllers selected by filter in inventory order.
func (c Config) Targets(filter target.Filter) []target.Target {
	return filter.Apply(c.Controllers)
}

type fileConfig struct {
	Settings struct {
		RunType   string `toml:"run_type"`
		BatchSize int    `toml:"batch_size"`
		CacheTTL  string `toml:"cache_ttl"`
		Output    string `toml:"output"`
	} `toml:"settings"`
	Server struct {
		Addr        string   `toml:"addr"`
		Token       string   `toml:"token"`
		CorsOrigins []string `toml:"cors_origins"`
	} `toml:"server"`
	Controllers []target.Target `toml:"controllers"`
}

// Load reads the inventory and overlays the personal file when it exists.
// Personal controllers are merged into inventory controllers by uuid.
func Load(paths Paths) (Config, error) {
	base, err := readDocument(paths.ConfigFile)
	if err != nil {
		return Config{}, err
	}
	if paths.PersonalFile != "" {
		personal, err := readDocument(paths.PersonalFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, err
		default:
			base = mergeDocuments(base, personal)
			log.Debug().Str("file", paths.PersonalFile).Msg("config.Load personal overlay")
		}
	}
	cfg, err := decode(base)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", paths.ConfigFile, err)
	}
	log.Debug().Str("file", paths.ConfigFile).Int("controllers", len(cfg.Controllers)).Msg("config.Load")
	return cfg, nil
}

// LoadFile reads a single inventory file with no personal overlay.
func LoadFile(path string) (Config, error) {
	return Load(Paths{ConfigFile: path})
}

func readDocument(path string) (map[string]any, error) {
	doc := map[string]any{}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		var parseErr toml.ParseError
		if errors.As(err, &parseErr) {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, path, err)
		}
		return nil, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	return doc, nil
}

// mergeDocuments overlays personal onto base. Plain tables merge key by key;
// controllers merge by uuid with personal keys winning and unknown uuids
// appended.
func mergeDocuments(base, personal map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(personal))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range personal {
		if k == "controllers" {
			out[k] = mergeControllers(tables(base[k]), tables(v))
			continue
		}
		if overlay, ok := v.(map[string]any); ok {
			if existing, ok := out[k].(map[string]any); ok {
				merged := make(map[string]any, len(existing)+len(overlay))
				for key, val := range existing {
					merged[key] = val
				}
				for key, val := range overlay {
					merged[key] = val
				}
				out[k] = merged
				continue
			}
		}
		out[k] = v
	}
	return out
}

func mergeControllers(base, personal []map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(base)+len(personal))
	index := make(map[string]int, len(base))
	for _, entry := range base {
		copied := make(map[string]any, len(entry))
		for k, v := range entry {
			copied[k] = v
		}
		if uuid, ok := entry["uuid"].(string); ok && uuid != "" {
			index[uuid] = len(out)
		}
		out = append(out, copied)
	}
	for _, entry := range personal {
		uuid, _ := entry["uuid"].(string)
		if i, ok := index[uuid]; ok && uuid != "" {
			for k, v := range entry {
				out[i][k] = v
			}
			continue
		}
		copied := make(map[string]any, len(entry))
		for k, v := range entry {
			copied[k] = v
		}
		if uuid != "" {
			index[uuid] = len(out)
		}
		out = append(out, copied)
	}
	return out
}

func tables(v any) []map[string]any {
	switch t := v.(type) {
	case []map[string]any:
		return t
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}

// decode re-encodes the merged document and overlays it on the defaults.
func decode(doc map[string]any) (Config, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	var raw fileConfig
	meta, err := toml.Decode(buf.String(), &raw)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		log.Warn().Str("keys", fmt.Sprint(undecoded)).Msg("config.decode unknown keys ignored")
	}

	cfg := DefaultConfig()
	if meta.IsDefined("settings", "run_type") {
		policy, err := runner.ParsePolicy(raw.Settings.RunType)
		if err != nil {
			return Config{}, fmt.Errorf("%w: settings.run_type: %v", ErrInvalidConfig, err)
		}
		cfg.Settings.RunType = policy
	}
	if meta.IsDefined("settings", "batch_size") {
		cfg.Settings.BatchSize = raw.Settings.BatchSize
	}
	if meta.IsDefined("settings", "cache_ttl") {
		ttl, err := time.ParseDuration(strings.TrimSpace(raw.Settings.CacheTTL))
		if err != nil {
			return Config{}, fmt.Errorf("%w: settings.cache_ttl: %v", ErrInvalidConfig, err)
		}
		cfg.Settings.CacheTTL = ttl
	}
	if meta.IsDefined("settings", "output") {
		cfg.Settings.Output = strings.ToLower(strings.TrimSpace(raw.Settings.Output))
	}
	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Server.Addr)
	}
	if meta.IsDefined("server", "token") {
		cfg.Server.Token = strings.TrimSpace(raw.Server.Token)
	}
	if meta.IsDefined("server", "cors_origins") {
		cfg.Server.CorsOrigins = raw.Server.CorsOrigins
	}
	cfg.Controllers = raw.Controllers
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks settings and every controller entry.
func Validate(cfg Config) error {
	if err := cfg.RunnerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Settings.BatchSize < 1 {
		return fmt.Errorf("%w: settings.batch_size must be positive", ErrInvalidConfig)
	}
	if cfg.Settings.CacheTTL <= 0 {
		return fmt.Errorf("%w: settings.cache_ttl must be positive", ErrInvalidConfig)
	}
	switch cfg.Settings.Output {
	case "yaml", "json":
	default:
		return fmt.Errorf("%w: settings.output %q", ErrInvalidConfig, cfg.Settings.Output)
	}
	seen := make(map[string]struct{}, len(cfg.Controllers))
	for i, ctrl := range cfg.Controllers {
		if err := ctrl.Validate(); err != nil {
			return fmt.Errorf("%w: controllers[%d]: %v", ErrInvalidConfig, i, err)
		}
		if _, dup := seen[ctrl.UUID]; dup {
			return fmt.Errorf("%w: duplicate controller uuid %s", ErrInvalidConfig, ctrl.UUID)
		}
		seen[ctrl.UUID] = struct{}{}
	}
	return nil
}
