package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	EnvData           = "SPELLCTL_DATA"
	EnvConfig         = "SPELLCTL_CONFIG"
	EnvPersonalConfig = "SPELLCTL_PERSONAL_CONFIG"
)

// Paths locates every file spellctl reads or writes.
type Paths struct {
	DataDir      string
	ConfigFile   string
	PersonalFile string
	CacheDir     string
}

// ResolvePaths applies the environment overrides. Inside a snap $HOME points
// at the snap, so $SNAP_REAL_HOME wins when set.
func ResolvePaths() Paths {
	data := strings.TrimSpace(os.Getenv(EnvData))
	if data == "" {
		home := strings.TrimSpace(os.Getenv("SNAP_REAL_HOME"))
		if home == "" {
			home, _ = os.UserHomeDir()
		}
		data = filepath.Join(home, ".local", "share", "spellctl")
	}
	p := Paths{
		DataDir:      data,
		ConfigFile:   filepath.Join(data, "config.toml"),
		PersonalFile: filepath.Join(data, "config.personal.toml"),
		CacheDir:     filepath.Join(data, "caches"),
	}
	if v := strings.TrimSpace(os.Getenv(EnvConfig)); v != "" {
		p.ConfigFile = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPersonalConfig)); v != "" {
		p.PersonalFile = v
	}
	return p
}

// LoadEnv reads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		log.Debug().Str("file", file).Msg("config.LoadEnv")
	}
	return nil
}
