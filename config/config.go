// Package config loads harness settings from an optional config file, a .env file and
// IDTEST_-prefixed environment variables.
//
// Precedence, from highest to lowest: command-line flags (applied by the caller), environment
// variables, variables from .env, the config file, defaults. For example the key
// "mailsink.addr" can be set with IDTEST_MAILSINK_ADDR.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "idtest"

// Isolation modes for the fake services.
const (
	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"
)

type LauncherConfig struct {
	Command        string
	TermsCommand   string
	StartupTimeout time.Duration
}

type ServerConfig struct {
	URL      string
	TermsURL string
}

type MailSinkConfig struct {
	Addr    string
	Timeout time.Duration
}

type FakeHSConfig struct {
	Addr string
	Seed int64
}

type LogConfig struct {
	Level string
}

type Config struct {
	Launcher  LauncherConfig
	Server    ServerConfig
	MailSink  MailSinkConfig
	FakeHS    FakeHSConfig
	Isolation string
	Log       LogConfig
}

// Isolated is true if the fake services run as child processes.
func (c *Config) Isolated() bool {
	return c.Isolation != IsolationInProcess
}

// Load reads configuration using .env in the current directory. configFile may be empty.
func Load(configFile string) (*Config, error) {
	return LoadFrom(configFile, ".env")
}

// LoadFrom is Load with an explicit .env path. A missing .env file is not an error.
func LoadFrom(configFile, envFile string) (*Config, error) {
	_ = godotenv.Load(envFile)

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("launcher.command", "")
	v.SetDefault("launcher.terms_command", "")
	v.SetDefault("launcher.startup_timeout", "30s")
	v.SetDefault("server.url", "")
	v.SetDefault("server.terms_url", "")
	v.SetDefault("mailsink.addr", "127.0.0.1:9925")
	v.SetDefault("mailsink.timeout", "5s")
	v.SetDefault("fakehs.addr", "localhost:4490")
	v.SetDefault("fakehs.seed", 1)
	v.SetDefault("isolation", IsolationProcess)
	v.SetDefault("log.level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", configFile, err)
		}
	}

	startupTimeout, err := time.ParseDuration(v.GetString("launcher.startup_timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid launcher.startup_timeout: %w", err)
	}
	mailTimeout, err := time.ParseDuration(v.GetString("mailsink.timeout"))
	if err != nil {
		return nil, fmt.Errorf("invalid mailsink.timeout: %w", err)
	}

	cfg := &Config{
		Launcher: LauncherConfig{
			Command:        v.GetString("launcher.command"),
			TermsCommand:   v.GetString("launcher.terms_command"),
			StartupTimeout: startupTimeout,
		},
		Server: ServerConfig{
			URL:      v.GetString("server.url"),
			TermsURL: v.GetString("server.terms_url"),
		},
		MailSink: MailSinkConfig{
			Addr:    v.GetString("mailsink.addr"),
			Timeout: mailTimeout,
		},
		FakeHS: FakeHSConfig{
			Addr: v.GetString("fakehs.addr"),
			Seed: v.GetInt64("fakehs.seed"),
		},
		Isolation: strings.ToLower(v.GetString("isolation")),
		Log: LogConfig{
			Level: v.GetString("log.level"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that can also be changed after loading.
func (c *Config) Validate() error {
	switch c.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		return fmt.Errorf("isolation must be %q or %q, not %q", IsolationProcess, IsolationInProcess, c.Isolation)
	}
	if c.MailSink.Addr == "" {
		return fmt.Errorf("mailsink.addr must not be empty")
	}
	if c.FakeHS.Addr == "" {
		return fmt.Errorf("fakehs.addr must not be empty")
	}
	return nil
}
