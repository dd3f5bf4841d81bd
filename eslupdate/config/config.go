// Package config loads eslupdate settings from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/harveysanders/esllabel/eslupdate/markup"
	"github.com/harveysanders/esllabel/eslupdate/mqtt"
	"gopkg.in/yaml.v3"
)

// EnvBroker overrides the configured broker address when set.
const EnvBroker = "ESL_BROKER"

const (
	DefaultBroker  = "mqtt://localhost:1883"
	DefaultTimeout = 10 * time.Second
	DefaultSettle  = 500 * time.Millisecond
)

// Config is the resolved configuration of one eslupdate invocation.
type Config struct {
	Broker   string
	ClientID string // Empty means a fresh esl-<uuid> per connection.
	Username string
	Password string
	Timeout  time.Duration
	Settle   time.Duration
	Journal  string // Journal file path. Empty disables the journal.
	LogLevel slog.Level
	Label    markup.Fields
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Broker:   DefaultBroker,
		Timeout:  DefaultTimeout,
		Settle:   DefaultSettle,
		LogLevel: slog.LevelInfo,
	}
}

// Error reports a problem with a configuration source.
type Error struct {
	Path  string // File path, or the variable name for environment values.
	Field string // Offending key. Empty when the whole source failed.
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("config: ")
	b.WriteString(e.Path)
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Load reads the file at path over the defaults, then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, &Error{Path: path, Err: err}
		}
		var dto yamlConfig
		if err := yaml.Unmarshal(b, &dto); err != nil {
			return Config{}, &Error{Path: path, Err: err}
		}
		if cfg, err = mapConfig(path, dto, cfg); err != nil {
			return Config{}, err
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mapConfig overlays the non-empty values of dto onto base.
func mapConfig(path string, dto yamlConfig, base Config) (Config, error) {
	cfg := base
	if s := strings.TrimSpace(dto.Broker); s != "" {
		if _, err := mqtt.ParseBroker(s); err != nil {
			return Config{}, &Error{Path: path, Field: "broker", Err: err}
		}
		cfg.Broker = s
	}
	if dto.ClientID != "" {
		cfg.ClientID = dto.ClientID
	}
	if dto.Username != "" {
		cfg.Username = dto.Username
	}
	if dto.Password != "" {
		cfg.Password = dto.Password
	}
	if dto.Journal != "" {
		cfg.Journal = dto.Journal
	}

	var err error
	if cfg.Timeout, err = duration(path, "timeout", dto.Timeout, cfg.Timeout); err != nil {
		return Config{}, err
	}
	if cfg.Settle, err = duration(path, "settle", dto.Settle, cfg.Settle); err != nil {
		return Config{}, err
	}
	if dto.LogLevel != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(dto.LogLevel)); err != nil {
			return Config{}, &Error{Path: path, Field: "log_level", Err: err}
		}
	}

	cfg.Label = markup.Fields{
		Line1: dto.Label.Line1,
		Line2: dto.Label.Line2,
		Line3: dto.Label.Line3,
		Price: dto.Label.Price,
		TagID: dto.Label.TagID,
	}
	return cfg, nil
}

func duration(path, field, raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &Error{Path: path, Field: field, Err: err}
	}
	if d <= 0 {
		return 0, &Error{Path: path, Field: field, Err: errors.New("must be positive")}
	}
	return d, nil
}

// ApplyEnv applies environment overrides using lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	v, ok := lookup(EnvBroker)
	if !ok || strings.TrimSpace(v) == "" {
		return nil
	}
	v = strings.TrimSpace(v)
	if _, err := mqtt.ParseBroker(v); err != nil {
		return &Error{Path: EnvBroker, Err: fmt.Errorf("broker: %w", err)}
	}
	cfg.Broker = v
	return nil
}
