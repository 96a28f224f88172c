// Package config loads client and server settings from a TOML or YAML file,
// then applies PAIRCHAT_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)
	validate      = validator.New()
)

// Config holds all configuration.
type Config struct {
	Server   ServerConfig  `toml:"server" yaml:"server"`
	Live     LiveConfig    `toml:"live" yaml:"live"`
	Logging  LoggingConfig `toml:"logging" yaml:"logging"`
	Username string        `toml:"username" yaml:"username"`
}

// ServerConfig describes the request/response endpoints and, for
// cmd/server, the listen address.
type ServerConfig struct {
	URL        string        `toml:"url" yaml:"url" validate:"required,url"`
	Method     string        `toml:"method" yaml:"method" validate:"oneof=GET POST"`
	Timeout    time.Duration `toml:"-" yaml:"-" validate:"gt=0"`
	TimeoutRaw string        `toml:"timeout" yaml:"timeout"`
	Listen     string        `toml:"listen" yaml:"listen" validate:"required"`
}

// LiveConfig describes the persistent channel.
type LiveConfig struct {
	URL              string        `toml:"url" yaml:"url" validate:"required,url"`
	RetryInterval    time.Duration `toml:"-" yaml:"-" validate:"gt=0"`
	RetryIntervalRaw string        `toml:"retry_interval" yaml:"retry_interval"`
	DialTimeout      time.Duration `toml:"-" yaml:"-" validate:"gt=0"`
	DialTimeoutRaw   string        `toml:"dial_timeout" yaml:"dial_timeout"`
	Buffer           int           `toml:"buffer" yaml:"buffer" validate:"gt=0"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level" validate:"oneof=DEBUG INFO WARN ERROR"`
}

// overrides mirrors the settings that can be set from the environment.
// Zero values mean unset.
type overrides struct {
	ServerURL     string        `env:"PAIRCHAT_SERVER_URL"`
	Method        string        `env:"PAIRCHAT_HTTP_METHOD"`
	Timeout       time.Duration `env:"PAIRCHAT_HTTP_TIMEOUT"`
	Listen        string        `env:"PAIRCHAT_LISTEN"`
	LiveURL       string        `env:"PAIRCHAT_LIVE_URL"`
	RetryInterval time.Duration `env:"PAIRCHAT_RETRY_INTERVAL"`
	DialTimeout   time.Duration `env:"PAIRCHAT_DIAL_TIMEOUT"`
	Buffer        int           `env:"PAIRCHAT_BUFFER"`
	LogLevel      string        `env:"PAIRCHAT_LOG_LEVEL"`
	Username      string        `env:"PAIRCHAT_USERNAME"`
}

// Default returns the settings of a local reference server.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			URL:     "http://localhost:12345",
			Method:  "POST",
			Timeout: 10 * time.Second,
			Listen:  ":12345",
		},
		Live: LiveConfig{
			URL:           "ws://localhost:12345/ws",
			RetryInterval: time.Second,
			DialTimeout:   5 * time.Second,
			Buffer:        64,
		},
		Logging: LoggingConfig{Level: "INFO"},
	}
}

// Path returns the path to the config file.
// Priority: PAIRCHAT_CONFIG env var > XDG_CONFIG_HOME/pairchat/config.toml > ~/.config/pairchat/config.toml
func Path() string {
	if envPath := os.Getenv("PAIRCHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "pairchat", "config.toml")
}

// Load reads config from path on top of the defaults. A missing file is
// not an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := decode(path, expandEnvVars(string(data)), cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		if err := cfg.parseDurations(); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func decode(path, data string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		_, err := toml.Decode(data, cfg)
		return err
	case ".yaml", ".yml":
		return yaml.Unmarshal([]byte(data), cfg)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func (c *Config) parseDurations() error {
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.timeout", c.Server.TimeoutRaw, &c.Server.Timeout},
		{"live.retry_interval", c.Live.RetryIntervalRaw, &c.Live.RetryInterval},
		{"live.dial_timeout", c.Live.DialTimeoutRaw, &c.Live.DialTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *Config) applyEnv() error {
	var o overrides
	if _, err := env.UnmarshalFromEnviron(&o); err != nil {
		return err
	}

	setString(&c.Server.URL, o.ServerURL)
	setString(&c.Server.Method, o.Method)
	setString(&c.Server.Listen, o.Listen)
	setString(&c.Live.URL, o.LiveURL)
	setString(&c.Logging.Level, o.LogLevel)
	setString(&c.Username, o.Username)
	if o.Timeout != 0 {
		c.Server.Timeout = o.Timeout
	}
	if o.RetryInterval != 0 {
		c.Live.RetryInterval = o.RetryInterval
	}
	if o.DialTimeout != 0 {
		c.Live.DialTimeout = o.DialTimeout
	}
	if o.Buffer != 0 {
		c.Live.Buffer = o.Buffer
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) normalize() {
	c.Server.Method = strings.ToUpper(c.Server.Method)
	c.Logging.Level = strings.ToUpper(c.Logging.Level)
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%s failed %q check", fe.Namespace(), fe.Tag())
		}
		return err
	}
	return nil
}
