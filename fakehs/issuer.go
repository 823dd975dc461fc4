// Package fakehs is a fake Matrix homeserver that vouches for users to an identity server.
//
// An identity server registers an account by asking the caller's homeserver, over federation,
// which user an OpenID token belongs to. The fake homeserver answers that one question, for
// tokens minted by this package, over HTTPS with a self-signed certificate.
package fakehs

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/matrix-org/identity-contract-tests/procs"
)

// ServiceName is the name used to select the fake homeserver when the harness binary runs as
// a child.
const ServiceName = "fakehs"

const (
	DefaultAddr         = "localhost:4490"
	defaultReadyTimeout = 10 * time.Second
)

// ErrAlreadyLaunched is returned by Launch if the homeserver is already running or was shut
// down.
var ErrAlreadyLaunched = errors.New("fake homeserver was already launched")

// Options configures a Homeserver. Zero values select the defaults.
type Options struct {
	// Addr is the local address to listen on.
	Addr string

	// Seed seeds the random users minted by the Homeserver's Minter.
	Seed int64

	// Isolated runs the HTTPS server in a child process built by ChildCommand.
	Isolated bool

	ChildCommand func(addr string) (*exec.Cmd, error)

	Logger *zerolog.Logger
}

// Homeserver is a running (or not yet launched) fake homeserver.
type Homeserver struct {
	opts         Options
	logger       zerolog.Logger
	minter       *Minter
	server       *http.Server
	certPEM      []byte
	child        *procs.Child
	boundAddr    string
	launched     bool
	shutdownOnce sync.Once
	lock         sync.Mutex
}

func New(opts Options) *Homeserver {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Seed == 0 {
		opts.Seed = DefaultSeed
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Homeserver{
		opts:   opts,
		logger: logger.With().Str("service", ServiceName).Logger(),
		minter: NewMinter(opts.Seed, opts.Addr),
	}
}

// Launch starts serving. It fails immediately if the address is already in use.
func (h *Homeserver) Launch() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.launched {
		return ErrAlreadyLaunched
	}
	h.launched = true

	if h.opts.Isolated {
		if h.opts.ChildCommand == nil {
			return errors.New("isolated fake homeserver needs a ChildCommand")
		}
		cmd, err := h.opts.ChildCommand(h.opts.Addr)
		if err != nil {
			return err
		}
		child, err := procs.Start(ServiceName, cmd, defaultReadyTimeout, &h.logger)
		if err != nil {
			return fmt.Errorf("fake homeserver did not start: %w", err)
		}
		h.child = child
		h.boundAddr = child.Addr()
		h.minter.setServerName(h.boundAddr)
		return nil
	}

	listener, certPEM, err := listenTLS(h.opts.Addr)
	if err != nil {
		return err
	}
	h.certPEM = certPEM
	h.boundAddr = listener.Addr().String()
	h.minter.setServerName(h.boundAddr)
	h.server = &http.Server{Handler: NewHandler(h.logger), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("HTTPS server stopped")
		}
	}()
	h.logger.Info().Str("addr", h.boundAddr).Msg("fake homeserver listening")
	return nil
}

func listenTLS(addr string) (net.Listener, []byte, error) {
	cert, certPEM, err := selfSignedCert()
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create certificate for fake homeserver: %w", err)
	}
	listener, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("fake homeserver cannot listen on %s: %w", addr, err)
	}
	return listener, certPEM, nil
}

// Addr returns the address the homeserver listens on.
func (h *Homeserver) Addr() string {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.boundAddr != "" {
		return h.boundAddr
	}
	return h.opts.Addr
}

// ServerName is the homeserver name an identity server should contact to validate tokens.
// It is the address, since the fake has no well-known delegation.
func (h *Homeserver) ServerName() string {
	return h.Addr()
}

// Minter returns the token minter bound to this homeserver's name.
func (h *Homeserver) Minter() *Minter {
	return h.minter
}

// TokenForRandomUser is shorthand for Minter().TokenForRandomUser().
func (h *Homeserver) TokenForRandomUser() string {
	return h.minter.TokenForRandomUser()
}

// CertPool returns a pool trusting the homeserver's certificate. It is nil for an isolated
// homeserver, whose certificate never leaves the child process.
func (h *Homeserver) CertPool() *x509.CertPool {
	h.lock.Lock()
	defer h.lock.Unlock()
	if h.certPEM == nil {
		return nil
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(h.certPEM)
	return pool
}

// Shutdown stops the homeserver unconditionally. It is safe to call more than once, and on a
// homeserver that was never launched.
func (h *Homeserver) Shutdown() {
	h.shutdownOnce.Do(func() {
		h.lock.Lock()
		defer h.lock.Unlock()
		h.launched = true
		if h.child != nil {
			h.child.Kill()
		}
		if h.server != nil {
			_ = h.server.Close()
		}
		h.logger.Info().Msg("fake homeserver stopped")
	})
}

// ServeChild runs the HTTPS server of an isolated homeserver in the child process. It
// announces readiness on out and only returns if the server fails.
func ServeChild(addr string, out io.Writer, logger zerolog.Logger) error {
	listener, _, err := listenTLS(addr)
	if err != nil {
		return err
	}
	if err := procs.AnnounceReady(out, listener.Addr().String()); err != nil {
		return err
	}
	logger.Info().Str("addr", listener.Addr().String()).Msg("fake homeserver listening")
	server := &http.Server{Handler: NewHandler(logger), ReadHeaderTimeout: 10 * time.Second}
	return server.Serve(listener)
}
