// Package config loads bookchat settings from defaults, an optional YAML file and
// BOOKCHAT_ environment variables, in increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/bookchat/pkg/books"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "bookchat"

type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Store    StoreSettings    `mapstructure:"store"`
	Provider ProviderSettings `mapstructure:"provider"`
	Books    BooksSettings    `mapstructure:"books"`
	Session  SessionSettings  `mapstructure:"session"`
	Log      LogSettings      `mapstructure:"log"`
	Events   EventsSettings   `mapstructure:"events"`
}

type ServerSettings struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Metrics         bool          `mapstructure:"metrics"`
}

// StoreSettings selects the snapshot store. DSN is used by sqlite, Dir by yaml.
type StoreSettings struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Dir    string `mapstructure:"dir"`
}

type ProviderSettings struct {
	Driver      string   `mapstructure:"driver"`
	Model       string   `mapstructure:"model"`
	APIKey      string   `mapstructure:"api_key"`
	BaseURL     string   `mapstructure:"base_url"`
	Temperature *float32 `mapstructure:"temperature"`
	// Script is the reply script of the scripted driver.
	Script string `mapstructure:"script"`
}

type BooksSettings struct {
	SearchURL string        `mapstructure:"search_url"`
	GraphURL  string        `mapstructure:"graph_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	// AllowHTTP and AllowLocal relax the endpoint checks, for services on the same host.
	AllowHTTP  bool `mapstructure:"allow_http"`
	AllowLocal bool `mapstructure:"allow_local"`
}

func (b BooksSettings) policy() books.EndpointPolicy {
	return books.EndpointPolicy{AllowHTTP: b.AllowHTTP, AllowLocal: b.AllowLocal}
}

type SessionSettings struct {
	SystemPrompt      string `mapstructure:"system_prompt"`
	ToolFailurePolicy string `mapstructure:"tool_failure_policy"`
}

type EventsSettings struct {
	Verbose bool `mapstructure:"verbose"`
}

// SetDefaults registers every key on v, which also makes each key visible to
// AutomaticEnv.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics", true)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.dir", "")

	v.SetDefault("provider.driver", "openai")
	v.SetDefault("provider.model", "gpt-3.5-turbo")
	v.SetDefault("provider.api_key", "")
	v.SetDefault("provider.base_url", "")
	v.SetDefault("provider.script", "")

	v.SetDefault("books.search_url", "")
	v.SetDefault("books.graph_url", "")
	v.SetDefault("books.timeout", 30*time.Second)
	v.SetDefault("books.allow_http", true)
	v.SetDefault("books.allow_local", true)

	v.SetDefault("session.system_prompt", "")
	v.SetDefault("session.tool_failure_policy", "silent")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.file", "")
	v.SetDefault("log.with_caller", false)

	v.SetDefault("events.verbose", false)
}

// Setup prepares v to read configPath, or bookchat.yaml from the usual places when
// configPath is empty. A missing config file is not an error.
func Setup(v *viper.Viper, configPath string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("bookchat")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.bookchat")
		if xdg, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(xdg, "bookchat"))
		}
	}

	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	log.Debug().Str("config", v.ConfigFileUsed()).Msg("loaded configuration")
	return nil
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	if s.Provider.APIKey == "" {
		s.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Load is Setup followed by FromViper on a fresh viper instance.
func Load(configPath string) (*Settings, error) {
	v := viper.New()
	if err := Setup(v, configPath); err != nil {
		return nil, err
	}
	return FromViper(v)
}

func (s *Settings) Validate() error {
	switch s.Store.Driver {
	case "memory":
	case "sqlite":
		if s.Store.DSN == "" {
			return errors.New("store.dsn is required for the sqlite store")
		}
	case "yaml":
		if s.Store.Dir == "" {
			return errors.New("store.dir is required for the yaml store")
		}
	default:
		return errors.Errorf("unknown store driver %q", s.Store.Driver)
	}

	switch s.Provider.Driver {
	case "openai":
		if s.Provider.Model == "" {
			return errors.New("provider.model is required for the openai provider")
		}
	case "scripted":
		if s.Provider.Script == "" {
			return errors.New("provider.script is required for the scripted provider")
		}
	default:
		return errors.Errorf("unknown provider driver %q", s.Provider.Driver)
	}

	switch s.Session.ToolFailurePolicy {
	case "", "silent", "surface":
	default:
		return errors.Errorf("unknown tool failure policy %q", s.Session.ToolFailurePolicy)
	}

	for key, u := range map[string]string{
		"books.search_url": s.Books.SearchURL,
		"books.graph_url":  s.Books.GraphURL,
	} {
		if u == "" {
			continue
		}
		if err := books.ValidateEndpoint(u, s.Books.policy()); err != nil {
			return errors.Wrap(err, key)
		}
	}

	if s.Server.Port < 0 || s.Server.Port > 65535 {
		return errors.Errorf("invalid server port %d", s.Server.Port)
	}
	return nil
}
