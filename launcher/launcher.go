// Package launcher starts the identity server under test, or locates one that is already
// running.
//
// An identity server is launched at most twice per run: once without terms of service and once
// configured with terms (see WithTermsEnvVar). A launch command must print the base URL of
// the server it started as the first line of its standard output; it may print anything else
// after that.
package launcher

import (
	"errors"
	"io"
	"io/ioutil"
	"time"

	"github.com/rs/zerolog"
)

// WithTermsEnvVar is set to "1" in the environment of a launch command that should start a
// server with terms of service configured.
const WithTermsEnvVar = "IDTEST_WITH_TERMS"

const DefaultStartupTimeout = time.Second * 30

// ErrNoLauncher means there is no way to get an identity server for the requested variant.
var ErrNoLauncher = errors.New("no identity server launcher configured")

// Launcher provides the base URL of a running identity server.
type Launcher interface {
	// Launch starts the server if necessary, waits until it answers HTTP requests, and returns
	// its base URL.
	Launch() (string, error)

	// TearDown stops anything Launch started.
	TearDown() error
}

// Options are common to all launchers.
type Options struct {
	StartupTimeout time.Duration
	Logger         *zerolog.Logger

	// Output receives progress messages while waiting for a server to come up.
	Output io.Writer
}

func (o Options) startupTimeout() time.Duration {
	if o.StartupTimeout <= 0 {
		return DefaultStartupTimeout
	}
	return o.StartupTimeout
}

func (o Options) logger() zerolog.Logger {
	if o.Logger == nil {
		return zerolog.Nop()
	}
	return *o.Logger
}

func (o Options) output() io.Writer {
	if o.Output == nil {
		return ioutil.Discard
	}
	return o.Output
}

// Config describes where identity servers come from. A URL takes precedence over a command.
// The terms variant uses TermsURL or TermsCommand if set, and otherwise runs Command with
// WithTermsEnvVar set; a URL is never reused for the terms variant, since there is no way to
// reconfigure a server that is already running.
type Config struct {
	Command      string
	TermsCommand string
	URL          string
	TermsURL     string
	Options
}

// ForVariant returns the launcher for servers with or without terms of service.
func (c Config) ForVariant(withTerms bool) (Launcher, error) {
	if withTerms {
		switch {
		case c.TermsURL != "":
			return NewStaticLauncher(c.TermsURL, c.Options), nil
		case c.TermsCommand != "":
			return NewCommandLauncher(c.TermsCommand, false, c.Options), nil
		case c.Command != "":
			return NewCommandLauncher(c.Command, true, c.Options), nil
		}
		return nil, ErrNoLauncher
	}
	switch {
	case c.URL != "":
		return NewStaticLauncher(c.URL, c.Options), nil
	case c.Command != "":
		return NewCommandLauncher(c.Command, false, c.Options), nil
	}
	return nil, ErrNoLauncher
}
