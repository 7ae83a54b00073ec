package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

type GlobalFlags struct {
	ConfigPath     string
	JSON           bool
	Plain          bool
	Select         string
	ResultsOnly    bool
	Timeout        string
	Retries        int
	PermissionsURL string
	Catalogue      string
	CatalogueURL   string
	NoCache        bool
	LogLevel       string
}

type Settings struct {
	OutputMode        string   `validate:"oneof=json plain"`
	SelectFields      []string `validate:"dive,required"`
	ResultsOnly       bool
	Timeout           time.Duration `validate:"gt=0"`
	Retries           int           `validate:"gte=0,lte=10"`
	PermissionsURL    string        `validate:"omitempty,url"`
	PermissionsAPIKey string
	CataloguePath     string
	CatalogueURL      string        `validate:"omitempty,url"`
	CatalogueTTL      time.Duration `validate:"gte=0"`
	CacheEnabled      bool
	CachePath         string `validate:"required_if=CacheEnabled true"`
	CacheLockPath     string `validate:"required_if=CacheEnabled true"`
	LogLevel          string `validate:"oneof=debug info warn error"`
}

type fileConfig struct {
	Output      string `yaml:"output"`
	Timeout     string `yaml:"timeout"`
	Retries     *int   `yaml:"retries"`
	LogLevel    string `yaml:"log_level"`
	Permissions struct {
		URL       string `yaml:"url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"permissions"`
	Tokens struct {
		Path string `yaml:"path"`
		URL  string `yaml:"url"`
		TTL  string `yaml:"ttl"`
	} `yaml:"tokens"`
	Cache struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
}

// Load resolves settings from defaults, the yaml file, DEFIC_* variables and
// flags, in that order, and validates the result.
func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if err := validator.New().Struct(settings); err != nil {
		return Settings{}, fmt.Errorf("invalid settings: %w", err)
	}
	return settings, nil
}

// SlogLevel maps the configured level name onto slog.
func (s Settings) SlogLevel() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:    "json",
		Timeout:       10 * time.Second,
		Retries:       0,
		CatalogueTTL:  24 * time.Hour,
		CacheEnabled:  true,
		CachePath:     cachePath,
		CacheLockPath: lockPath,
		LogLevel:      "warn",
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "defic", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "defic")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Permissions.URL != "" {
		settings.PermissionsURL = cfg.Permissions.URL
	}
	if cfg.Permissions.APIKey != "" {
		settings.PermissionsAPIKey = cfg.Permissions.APIKey
	}
	if cfg.Permissions.APIKeyEnv != "" {
		settings.PermissionsAPIKey = os.Getenv(cfg.Permissions.APIKeyEnv)
	}
	if cfg.Tokens.Path != "" {
		settings.CataloguePath = cfg.Tokens.Path
	}
	if cfg.Tokens.URL != "" {
		settings.CatalogueURL = cfg.Tokens.URL
	}
	if cfg.Tokens.TTL != "" {
		d, err := time.ParseDuration(cfg.Tokens.TTL)
		if err != nil {
			return fmt.Errorf("config tokens.ttl: %w", err)
		}
		settings.CatalogueTTL = d
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	return nil
}

// envBindings maps DEFIC_* variables onto settings. Values that do not parse
// are ignored.
var envBindings = []struct {
	name  string
	apply func(*Settings, string)
}{
	{"DEFIC_OUTPUT", func(s *Settings, v string) { s.OutputMode = strings.ToLower(v) }},
	{"DEFIC_TIMEOUT", func(s *Settings, v string) { setDuration(&s.Timeout, v) }},
	{"DEFIC_RETRIES", func(s *Settings, v string) {
		if n, err := cast.ToIntE(v); err == nil {
			s.Retries = n
		}
	}},
	{"DEFIC_LOG_LEVEL", func(s *Settings, v string) { s.LogLevel = strings.ToLower(v) }},
	{"DEFIC_PERMISSIONS_URL", func(s *Settings, v string) { s.PermissionsURL = v }},
	{"DEFIC_PERMISSIONS_API_KEY", func(s *Settings, v string) { s.PermissionsAPIKey = v }},
	{"DEFIC_TOKENS_PATH", func(s *Settings, v string) { s.CataloguePath = v }},
	{"DEFIC_TOKENS_URL", func(s *Settings, v string) { s.CatalogueURL = v }},
	{"DEFIC_TOKENS_TTL", func(s *Settings, v string) { setDuration(&s.CatalogueTTL, v) }},
	{"DEFIC_NO_CACHE", func(s *Settings, v string) {
		if b, err := cast.ToBoolE(v); err == nil {
			s.CacheEnabled = !b
		}
	}},
	{"DEFIC_CACHE_PATH", func(s *Settings, v string) { s.CachePath = v }},
	{"DEFIC_CACHE_LOCK_PATH", func(s *Settings, v string) { s.CacheLockPath = v }},
}

func applyEnv(settings *Settings) {
	for _, b := range envBindings {
		if v := strings.TrimSpace(os.Getenv(b.name)); v != "" {
			b.apply(settings, v)
		}
	}
}

func setDuration(dst *time.Duration, v string) {
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.PermissionsURL != "" {
		settings.PermissionsURL = flags.PermissionsURL
	}
	if flags.Catalogue != "" {
		settings.CataloguePath = flags.Catalogue
	}
	if flags.CatalogueURL != "" {
		settings.CatalogueURL = flags.CatalogueURL
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	return nil
}
