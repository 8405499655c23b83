// Package config loads readaloud's configuration from readaloud.yaml and
// READALOUD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. READALOUD_BACKEND_URL.
const EnvPrefix = "READALOUD"

// Text-to-speech providers.
const (
	ProviderBackend = "backend"
	ProviderGoogle  = "google"
)

// Remote position stores.
const (
	RemoteNone     = "none"
	RemoteHTTP     = "http"
	RemotePostgres = "postgres"
)

type Config struct {
	Log       Log       `mapstructure:"log" yaml:"log"`
	Backend   Backend   `mapstructure:"backend" yaml:"backend"`
	TTS       TTS       `mapstructure:"tts" yaml:"tts"`
	Remote    Remote    `mapstructure:"remote" yaml:"remote"`
	Cache     Cache     `mapstructure:"cache" yaml:"cache"`
	Extract   Extract   `mapstructure:"extract" yaml:"extract"`
	Narration Narration `mapstructure:"narration" yaml:"narration"`
	Generate  Generate  `mapstructure:"generate" yaml:"generate"`
	Position  Position  `mapstructure:"position" yaml:"position"`
	View      View      `mapstructure:"view" yaml:"view"`
	Metrics   Metrics   `mapstructure:"metrics" yaml:"metrics"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-"`
}

type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
	// File receives logs while the terminal UI owns the screen.
	File string `mapstructure:"file" yaml:"file"`
}

type Backend struct {
	URL   string `mapstructure:"url" yaml:"url"`
	Token string `mapstructure:"token" yaml:"token"`
}

// TTS selects the synthesizer. Empty voice and zero speed or pitch fall
// back to the saved settings.
type TTS struct {
	Provider string  `mapstructure:"provider" yaml:"provider"`
	Voice    string  `mapstructure:"voice" yaml:"voice"`
	Speed    float64 `mapstructure:"speed" yaml:"speed"`
	Pitch    float64 `mapstructure:"pitch" yaml:"pitch"`
}

type Remote struct {
	Kind        string `mapstructure:"kind" yaml:"kind"`
	PostgresDSN string `mapstructure:"postgres_dsn" yaml:"postgres_dsn"`
}

type Cache struct {
	AudioClips int `mapstructure:"audio_clips" yaml:"audio_clips"`
}

type Extract struct {
	Attempts int           `mapstructure:"attempts" yaml:"attempts"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type Narration struct {
	SettleDelay        time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	TurnAttempts       int           `mapstructure:"turn_attempts" yaml:"turn_attempts"`
	MaxAdvanceFailures int           `mapstructure:"max_advance_failures" yaml:"max_advance_failures"`
	TurnTimeout        time.Duration `mapstructure:"turn_timeout" yaml:"turn_timeout"`
}

type Generate struct {
	Delay       time.Duration `mapstructure:"delay" yaml:"delay"`
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
}

type Position struct {
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
}

type View struct {
	PageChars int `mapstructure:"page_chars" yaml:"page_chars"`
}

type Metrics struct {
	// Addr serves /metrics when set, e.g. ":9464".
	Addr string `mapstructure:"addr" yaml:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("backend.url", "http://localhost:8000")
	v.SetDefault("backend.token", "")
	v.SetDefault("tts.provider", ProviderBackend)
	v.SetDefault("tts.voice", "")
	v.SetDefault("tts.speed", 0.0)
	v.SetDefault("tts.pitch", 0.0)
	v.SetDefault("remote.kind", RemoteNone)
	v.SetDefault("remote.postgres_dsn", "")
	v.SetDefault("cache.audio_clips", 50)
	v.SetDefault("extract.attempts", 10)
	v.SetDefault("extract.interval", 100*time.Millisecond)
	v.SetDefault("narration.settle_delay", 300*time.Millisecond)
	v.SetDefault("narration.retry_delay", time.Second)
	v.SetDefault("narration.turn_attempts", 3)
	v.SetDefault("narration.max_advance_failures", 10)
	v.SetDefault("narration.turn_timeout", 10*time.Second)
	v.SetDefault("generate.delay", 500*time.Millisecond)
	v.SetDefault("generate.backoff_base", 2*time.Second)
	v.SetDefault("generate.backoff_max", 30*time.Second)
	v.SetDefault("generate.max_retries", 5)
	v.SetDefault("position.settle_delay", 3*time.Second)
	v.SetDefault("view.page_chars", 1800)
	v.SetDefault("metrics.addr", "")
}

// Dir returns $XDG_CONFIG_HOME/readaloud, or ~/.config/readaloud.
func Dir() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "readaloud")
}

// Load reads path, or readaloud.yaml from the usual places when path is
// empty, applies environment overrides and validates the result. A missing
// config file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("readaloud")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath("$HOME/.readaloud")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	switch cfg.TTS.Provider {
	case ProviderBackend, ProviderGoogle:
	default:
		errs = append(errs, fmt.Errorf("tts.provider %q is invalid; valid values: backend, google", cfg.TTS.Provider))
	}
	if cfg.TTS.Speed < 0 || cfg.TTS.Speed > 4 {
		errs = append(errs, fmt.Errorf("tts.speed %v is out of range [0.25, 4]", cfg.TTS.Speed))
	}
	if cfg.TTS.Pitch < -20 || cfg.TTS.Pitch > 20 {
		errs = append(errs, fmt.Errorf("tts.pitch %v is out of range [-20, 20]", cfg.TTS.Pitch))
	}

	switch cfg.Remote.Kind {
	case RemoteNone, RemoteHTTP:
	case RemotePostgres:
		if cfg.Remote.PostgresDSN == "" {
			errs = append(errs, errors.New("remote.postgres_dsn is required when remote.kind is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.kind %q is invalid; valid values: none, http, postgres", cfg.Remote.Kind))
	}
	if cfg.Backend.URL == "" && (cfg.TTS.Provider == ProviderBackend || cfg.Remote.Kind == RemoteHTTP) {
		errs = append(errs, errors.New("backend.url is required by the backend synthesizer and the http position store"))
	}

	positive := map[string]int{
		"cache.audio_clips":              cfg.Cache.AudioClips,
		"extract.attempts":               cfg.Extract.Attempts,
		"narration.turn_attempts":        cfg.Narration.TurnAttempts,
		"narration.max_advance_failures": cfg.Narration.MaxAdvanceFailures,
		"generate.max_retries":           cfg.Generate.MaxRetries,
		"view.page_chars":                cfg.View.PageChars,
	}
	for _, key := range slices.Sorted(maps.Keys(positive)) {
		if positive[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, positive[key]))
		}
	}
	if cfg.Generate.BackoffMax < cfg.Generate.BackoffBase {
		errs = append(errs, fmt.Errorf("generate.backoff_max %v is below generate.backoff_base %v", cfg.Generate.BackoffMax, cfg.Generate.BackoffBase))
	}

	return errors.Join(errs...)
}

// YAML renders the effective configuration with secrets masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.Backend.Token != "" {
		out.Backend.Token = "********"
	}
	if out.Remote.PostgresDSN != "" {
		out.Remote.PostgresDSN = "********"
	}
	return yaml.Marshal(&out)
}
