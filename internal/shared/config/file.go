package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// fileConfig is the optional TOML overlay named by KANA_CONFIG.
type fileConfig struct {
	Env              string   `toml:"env"`
	Port             string   `toml:"port"`
	CORSAllowOrigins []string `toml:"cors_allow_origins"`
	Threads          int      `toml:"threads"`
	MaxSessions      int      `toml:"max_sessions"`
	ReferencesURL    string   `toml:"references_url"`

	Database struct {
		URL        string `toml:"url"`
		SQLitePath string `toml:"sqlite_path"`
	} `toml:"database"`

	ObjectStore struct {
		Type     string `toml:"type"`
		LocalDir string `toml:"local_dir"`
		Region   string `toml:"region"`
		Bucket   string `toml:"bucket"`
		Prefix   string `toml:"prefix"`
		KMSKeyID string `toml:"kms_key_id"`
	} `toml:"object_store"`
}

func loadFile(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return cfg, nil
}
