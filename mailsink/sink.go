// Package mailsink provides an SMTP server that captures every message sent to it, and a
// mailbox from which tests can take those messages one at a time.
//
// Identity servers prove ownership of an email address by mailing a token to it. Pointing the
// server under test at the sink lets a test read that token back.
package mailsink

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/rs/zerolog"

	"github.com/matrix-org/identity-contract-tests/procs"
)

// ServiceName is the name used to select the sink when the harness binary runs as a child.
const ServiceName = "mailsink"

const (
	DefaultAddr         = "127.0.0.1:9925"
	DefaultPopTimeout   = 5 * time.Second
	defaultReadyTimeout = 10 * time.Second
)

// ErrAlreadyLaunched is returned by Launch if the sink is already running or was shut down.
var ErrAlreadyLaunched = errors.New("mail sink was already launched")

// Options configures a Sink. Zero values select the defaults.
type Options struct {
	// Addr is the local address to accept SMTP on.
	Addr string

	// PopTimeout bounds how long GetMail waits for a message.
	PopTimeout time.Duration

	// Isolated runs the SMTP server in a child process instead of a goroutine. ChildCommand
	// must then build the command that starts it.
	Isolated bool

	// ChildCommand builds the command for an isolated sink listening on addr.
	ChildCommand func(addr string) (*exec.Cmd, error)

	Logger *zerolog.Logger
}

// Sink is a running (or not yet launched) mail sink.
type Sink struct {
	opts         Options
	logger       zerolog.Logger
	mailbox      *Mailbox
	server       *gosmtp.Server
	listener     net.Listener
	child        *procs.Child
	boundAddr    string
	seq          uint64
	launched     bool
	shutdownOnce sync.Once
	lock         sync.Mutex
}

func New(opts Options) *Sink {
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = DefaultPopTimeout
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Sink{
		opts:    opts,
		logger:  logger.With().Str("service", ServiceName).Logger(),
		mailbox: NewMailbox(),
	}
}

// Launch starts accepting mail. It fails immediately if the address is already in use.
func (s *Sink) Launch() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.launched {
		return ErrAlreadyLaunched
	}
	s.launched = true

	if s.opts.Isolated {
		return s.launchChild()
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("mail sink cannot listen on %s: %w", s.opts.Addr, err)
	}
	s.boundAddr = listener.Addr().String()
	s.listener = listener
	s.server = newSMTPServer(&backend{deliver: s.deliver, logger: s.logger}, s.opts.Addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, gosmtp.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("SMTP server stopped")
		}
	}()
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("mail sink listening")
	return nil
}

func (s *Sink) launchChild() error {
	if s.opts.ChildCommand == nil {
		return errors.New("isolated mail sink needs a ChildCommand")
	}
	cmd, err := s.opts.ChildCommand(s.opts.Addr)
	if err != nil {
		return err
	}
	child, err := procs.Start(ServiceName, cmd, defaultReadyTimeout, &s.logger)
	if err != nil {
		return fmt.Errorf("mail sink did not start: %w", err)
	}
	s.child = child
	s.boundAddr = child.Addr()
	go s.readChildRecords(child.Lines())
	return nil
}

func (s *Sink) readChildRecords(lines <-chan string) {
	for line := range lines {
		var sr sequencedRecord
		if err := json.Unmarshal([]byte(line), &sr); err != nil {
			s.logger.Error().Err(err).Str("line", line).Msg("malformed record from mail sink process")
			continue
		}
		s.mailbox.Accept(sr.Seq, sr.Record)
	}
}

func (s *Sink) deliver(record MailRecord) {
	s.mailbox.Accept(atomic.AddUint64(&s.seq, 1), record)
}

// Addr returns the address the sink accepts SMTP on.
func (s *Sink) Addr() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.opts.Addr
}

// Mailbox returns the mailbox that captured messages are delivered to.
func (s *Sink) Mailbox() *Mailbox {
	return s.mailbox
}

// GetMail takes the oldest captured message, waiting up to the configured timeout.
func (s *Sink) GetMail() (MailRecord, error) {
	return s.mailbox.Pop(s.opts.PopTimeout)
}

// Pop takes the oldest captured message, waiting up to timeout.
func (s *Sink) Pop(timeout time.Duration) (MailRecord, error) {
	return s.mailbox.Pop(timeout)
}

// Shutdown stops the sink without any SMTP-level goodbye. It is safe to call more than once,
// and on a sink that was never launched.
func (s *Sink) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.lock.Lock()
		defer s.lock.Unlock()
		s.launched = true
		if s.child != nil {
			s.child.Kill()
		}
		if s.server != nil {
			_ = s.server.Close()
		}
		// Serve may not have registered the listener with the server yet.
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.mailbox.Close()
		s.logger.Info().Msg("mail sink stopped")
	})
}

// ServeChild runs the SMTP server of an isolated sink. It is called in the child process: it
// announces readiness on out, then writes one JSON line per captured message to out. It only
// returns if the server fails.
func ServeChild(addr string, out io.Writer, logger zerolog.Logger) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mail sink cannot listen on %s: %w", addr, err)
	}

	w := bufio.NewWriter(out)
	var writeLock sync.Mutex
	var seq uint64
	enc := json.NewEncoder(w)
	b := &backend{
		logger: logger,
		deliver: func(record MailRecord) {
			writeLock.Lock()
			defer writeLock.Unlock()
			if err := enc.Encode(sequencedRecord{Seq: seq + 1, Record: record}); err != nil {
				logger.Error().Err(err).Msg("cannot forward record")
				return
			}
			if err := w.Flush(); err != nil {
				logger.Error().Err(err).Msg("cannot forward record")
				return
			}
			seq++
		},
	}

	if err := procs.AnnounceReady(out, listener.Addr().String()); err != nil {
		return err
	}
	logger.Info().Str("addr", listener.Addr().String()).Msg("mail sink listening")
	return newSMTPServer(b, addr).Serve(listener)
}
