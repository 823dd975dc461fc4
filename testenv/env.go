// Package testenv owns the external resources of a test run: the mail sink, the fake
// homeserver and the identity servers under test. Each is started the first time a test asks
// for it and stopped when the Env is closed.
//
// Tests are expected to run serially. The mail sink has a single mailbox, so two tests
// triggering mail at the same time could read each other's messages.
package testenv

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/matrix-org/identity-contract-tests/fakehs"
	"github.com/matrix-org/identity-contract-tests/launcher"
	"github.com/matrix-org/identity-contract-tests/mailsink"
)

// ErrClosed is returned for any resource requested after Close.
var ErrClosed = errors.New("test environment is closed")

// Variant distinguishes the identity servers of a run.
type Variant int

const (
	NoTerms Variant = iota
	WithTerms
)

func (v Variant) String() string {
	if v == WithTerms {
		return "withTerms"
	}
	return "noTerms"
}

// LauncherFactory returns the launcher for a variant. launcher.Config.ForVariant is one.
type LauncherFactory func(withTerms bool) (launcher.Launcher, error)

type Options struct {
	MailSink  mailsink.Options
	FakeHS    fakehs.Options
	Launchers LauncherFactory
	Logger    *zerolog.Logger
}

type identityServer struct {
	launcher launcher.Launcher
	url      string
	err      error
	ready    chan struct{} // closed once url and err are final
}

// Env is the set of resources for one test run.
type Env struct {
	opts      Options
	logger    zerolog.Logger
	sink      *mailsink.Sink
	sinkErr   error
	hs        *fakehs.Homeserver
	hsErr     error
	servers   map[Variant]*identityServer
	closed    bool
	closeOnce sync.Once
	lock      sync.Mutex
}

func New(opts Options) *Env {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.MailSink.Logger == nil {
		opts.MailSink.Logger = &logger
	}
	if opts.FakeHS.Logger == nil {
		opts.FakeHS.Logger = &logger
	}
	return &Env{
		opts:    opts,
		logger:  logger,
		servers: make(map[Variant]*identityServer),
	}
}

// MailSink returns the run's mail sink, launching it on first use. A launch failure is
// remembered and returned to every later caller.
func (e *Env) MailSink() (*mailsink.Sink, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.sink == nil && e.sinkErr == nil {
		sink := mailsink.New(e.opts.MailSink)
		if err := sink.Launch(); err != nil {
			e.sinkErr = fmt.Errorf("could not launch mail sink: %w", err)
		} else {
			e.sink = sink
		}
	}
	return e.sink, e.sinkErr
}

// Homeserver returns the run's fake homeserver, launching it on first use.
func (e *Env) Homeserver() (*fakehs.Homeserver, error) {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.hs == nil && e.hsErr == nil {
		hs := fakehs.New(e.opts.FakeHS)
		if err := hs.Launch(); err != nil {
			e.hsErr = fmt.Errorf("could not launch fake homeserver: %w", err)
		} else {
			e.hs = hs
		}
	}
	return e.hs, e.hsErr
}

// IdentityServer returns the base URL of the identity server for a variant, launching it on
// first use. If no launcher is configured for the variant the error wraps
// launcher.ErrNoLauncher.
//
// The Env is not locked while the server starts, so Close can interrupt a slow launch.
func (e *Env) IdentityServer(v Variant) (string, error) {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return "", ErrClosed
	}
	if s := e.servers[v]; s != nil {
		e.lock.Unlock()
		<-s.ready
		return s.url, s.err
	}

	s := &identityServer{ready: make(chan struct{})}
	e.servers[v] = s
	defer close(s.ready)

	if e.opts.Launchers == nil {
		s.err = launcher.ErrNoLauncher
		e.lock.Unlock()
		return "", s.err
	}
	l, err := e.opts.Launchers(v == WithTerms)
	if err != nil {
		s.err = fmt.Errorf("identity server %s: %w", v, err)
		e.lock.Unlock()
		return "", s.err
	}
	s.launcher = l
	e.lock.Unlock()

	e.logger.Info().Str("variant", v.String()).Msg("launching identity server")
	url, err := l.Launch()

	e.lock.Lock()
	defer e.lock.Unlock()
	if err != nil {
		s.err = fmt.Errorf("could not launch identity server %s: %w", v, err)
		return "", s.err
	}
	s.url = url
	return url, nil
}

// Close stops everything that was started. Only the first call does anything.
func (e *Env) Close() {
	e.closeOnce.Do(func() {
		e.lock.Lock()
		defer e.lock.Unlock()
		e.closed = true
		for v, s := range e.servers {
			if s.launcher == nil {
				continue
			}
			if err := s.launcher.TearDown(); err != nil {
				e.logger.Warn().Err(err).Str("variant", v.String()).Msg("identity server teardown failed")
			}
		}
		if e.hs != nil {
			e.hs.Shutdown()
		}
		if e.sink != nil {
			e.sink.Shutdown()
		}
	})
}
