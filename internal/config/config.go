// Package config loads server configuration from defaults, a global
// user file, a project file, and CLI overrides, in that precedence
// order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
)

// Config holds every option the server needs to start listening and
// open its store.
type Config struct {
	DataDir       string `json:"data_dir"`       //nolint:tagliatelle // snake_case for config file
	ListenAddr    string `json:"listen_addr"`    //nolint:tagliatelle // snake_case for config file
	ServerID      string `json:"server_id"`      //nolint:tagliatelle // snake_case for config file
	ServerName    string `json:"server_name"`    //nolint:tagliatelle // snake_case for config file
	CacheCapacity int    `json:"cache_capacity"` //nolint:tagliatelle // snake_case for config file
	Compression   string `json:"compression,omitempty"`
	SlabMinSize   uint32 `json:"slab_min_size,omitempty"`  //nolint:tagliatelle // snake_case for config file
	SlabMaxSize   uint32 `json:"slab_max_size,omitempty"`  //nolint:tagliatelle // snake_case for config file
	AuthKey       string `json:"auth_key,omitempty"`       //nolint:tagliatelle // snake_case for config file
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string
	Project string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		DataDir:       "./data",
		ListenAddr:    "127.0.0.1:28015",
		ServerID:      "rethinkdb-core",
		ServerName:    "default",
		CacheCapacity: 1000,
		Compression:   "zstd",
		SlabMinSize:   64,
		SlabMaxSize:   64 * 1024,
	}
}

// FileName is the default project config file name.
const FileName = ".rethinkdb-core.json"

// globalConfigPath returns $XDG_CONFIG_HOME/rethinkdb-core/config.json,
// falling back to ~/.config/rethinkdb-core/config.json. Returns empty
// if no home directory can be determined.
func globalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "rethinkdb-core", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "rethinkdb-core", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "rethinkdb-core", "config.json")
	}

	return ""
}

// Load loads configuration with the following precedence (highest
// wins): defaults, global user config, project config file
// (.rethinkdb-core.json, or an explicit configPath), then CLI
// overrides applied by the caller via cliOverrides/hasOverride flags.
func Load(workDir, configPath string, cliOverrides Config, hasOverride map[string]bool, env []string) (Config, Sources, error) {
	cfg := DefaultConfig()

	var sources Sources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = mergeConfig(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = mergeConfig(cfg, projectCfg)

	if hasOverride["data_dir"] {
		cfg.DataDir = cliOverrides.DataDir
	}

	if hasOverride["listen_addr"] {
		cfg.ListenAddr = cliOverrides.ListenAddr
	}

	if hasOverride["server_id"] {
		cfg.ServerID = cliOverrides.ServerID
	}

	if hasOverride["server_name"] {
		cfg.ServerName = cliOverrides.ServerName
	}

	if hasOverride["cache_capacity"] {
		cfg.CacheCapacity = cliOverrides.CacheCapacity
	}

	if hasOverride["compression"] {
		cfg.Compression = cliOverrides.Compression
	}

	if hasOverride["slab_min_size"] {
		cfg.SlabMinSize = cliOverrides.SlabMinSize
	}

	if hasOverride["slab_max_size"] {
		cfg.SlabMaxSize = cliOverrides.SlabMaxSize
	}

	if hasOverride["auth_key"] {
		cfg.AuthKey = cliOverrides.AuthKey
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := globalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, explicitEmpty, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	if explicitEmpty["data_dir"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", errConfigInvalid, path, errDataDirEmpty)
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, err := os.Stat(cfgFile); err != nil {
			return Config{}, "", fmt.Errorf("%w: %s", errConfigFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, FileName)
		mustExist = false
	}

	cfg, explicitEmpty, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	if explicitEmpty["data_dir"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", errConfigInvalid, cfgFile, errDataDirEmpty)
	}

	return cfg, cfgFile, nil
}

func loadConfigFile(path string, mustExist bool) (Config, map[string]bool, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, nil, false, nil
		}

		if mustExist {
			return Config{}, nil, false, fmt.Errorf("%w: %s", errConfigFileRead, path)
		}

		return Config{}, nil, false, nil
	}

	cfg, explicitEmpty, err := parseConfig(data)
	if err != nil {
		return Config{}, nil, false, fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
	}

	return cfg, explicitEmpty, true, nil
}

func parseConfig(data []byte) (Config, map[string]bool, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	explicitEmpty := make(map[string]bool)

	if val, exists := raw["data_dir"]; exists {
		if str, ok := val.(string); ok && str == "" {
			explicitEmpty["data_dir"] = true
		}
	}

	return cfg, explicitEmpty, nil
}

func mergeConfig(base, overlay Config) Config {
	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}

	if overlay.ListenAddr != "" {
		base.ListenAddr = overlay.ListenAddr
	}

	if overlay.ServerID != "" {
		base.ServerID = overlay.ServerID
	}

	if overlay.ServerName != "" {
		base.ServerName = overlay.ServerName
	}

	if overlay.CacheCapacity != 0 {
		base.CacheCapacity = overlay.CacheCapacity
	}

	if overlay.Compression != "" {
		base.Compression = overlay.Compression
	}

	if overlay.SlabMinSize != 0 {
		base.SlabMinSize = overlay.SlabMinSize
	}

	if overlay.SlabMaxSize != 0 {
		base.SlabMaxSize = overlay.SlabMaxSize
	}

	if overlay.AuthKey != "" {
		base.AuthKey = overlay.AuthKey
	}

	return base
}

func validateConfig(cfg Config) error {
	if cfg.DataDir == "" {
		return errDataDirEmpty
	}

	switch cfg.Compression {
	case "zstd", "none":
	default:
		return fmt.Errorf("%w: %q", errInvalidCompression, cfg.Compression)
	}

	if cfg.SlabMinSize == 0 || cfg.SlabMaxSize < cfg.SlabMinSize {
		return fmt.Errorf("%w: slab_min_size=%d slab_max_size=%d", errInvalidSlabBounds, cfg.SlabMinSize, cfg.SlabMaxSize)
	}

	return nil
}

// Format returns cfg as formatted JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("format config: %w", err)
	}

	return string(data), nil
}
