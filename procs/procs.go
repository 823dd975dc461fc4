// Package procs runs the harness's fake services as isolated child processes.
//
// A child is the harness binary itself, re-executed with arguments that select a service.
// The child prints a single readiness line ("ready <address>") on stdout once it is
// listening; everything it prints after that is handed to the parent line by line. Children
// are always stopped by killing them: none of the fake services needs a graceful shutdown.
package procs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"

	"github.com/matrix-org/identity-contract-tests/framework"
)

const readyPrefix = "ready "

const maxLineSize = 32 * 1024 * 1024

// ErrNotReady is returned by Start if the child neither became ready nor exited in time.
var ErrNotReady = errors.New("child process did not become ready")

// ExitError means the child process exited before it announced that it was ready, which
// usually means it could not bind its port.
type ExitError struct {
	Name string
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s exited before it was ready", e.Name)
	}
	return fmt.Sprintf("%s exited before it was ready: %s", e.Name, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Child is a running child process.
type Child struct {
	name     string
	addr     string
	cmd      *exec.Cmd
	lines    chan string
	done     chan struct{}
	waitErr  error
	killOnce sync.Once
	logger   framework.Logger
}

// SelfCommand builds a command that re-executes the current binary with the given arguments.
func SelfCommand(args ...string) (*exec.Cmd, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("cannot locate harness executable: %w", err)
	}
	return exec.Command(exe, args...), nil
}

// Describe renders a command line in a form that can be pasted into a shell.
func Describe(args []string) string {
	quoted := make([]string, 0, len(args))
	for _, a := range args {
		quoted = append(quoted, shellescape.Quote(a))
	}
	return strings.Join(quoted, " ")
}

// Handshake recognizes the line a child prints when it is ready, and extracts the address it
// announced from it.
type Handshake func(line string) (addr string, ok bool)

// ReadyLine is the handshake of the harness's own service children: a line "ready <address>".
func ReadyLine(line string) (string, bool) {
	if !strings.HasPrefix(line, readyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(line, readyPrefix), true
}

// FirstLine accepts the first non-blank line as the address.
func FirstLine(line string) (string, bool) {
	line = strings.TrimSpace(line)
	return line, line != ""
}

// Start runs cmd and waits for its readiness line.
func Start(name string, cmd *exec.Cmd, readyTimeout time.Duration, logger framework.Logger) (*Child, error) {
	return StartWith(name, cmd, ReadyLine, readyTimeout, logger)
}

// StartWith is Start with a custom readiness handshake.
func StartWith(
	name string,
	cmd *exec.Cmd,
	handshake Handshake,
	readyTimeout time.Duration,
	logger framework.Logger,
) (*Child, error) {
	return StartContext(context.Background(), name, cmd, handshake, readyTimeout, logger)
}

// StartContext is StartWith that also gives up, killing the child, when ctx is done before the
// child is ready.
func StartContext(
	ctx context.Context,
	name string,
	cmd *exec.Cmd,
	handshake Handshake,
	readyTimeout time.Duration,
	logger framework.Logger,
) (*Child, error) {
	if logger == nil {
		logger = framework.NullLogger()
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	setProcessGroup(cmd)

	c := &Child{
		name:   name,
		cmd:    cmd,
		lines:  make(chan string, 100),
		done:   make(chan struct{}),
		logger: logger,
	}

	logger.Printf("Starting %s: %s", name, Describe(cmd.Args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("could not start %s: %w", name, err)
	}

	readyCh := make(chan string, 1)
	readerDone := make(chan struct{})
	go func() {
		c.readOutput(stdout, handshake, readyCh)
		close(readerDone)
	}()
	go func() {
		// Wait closes the pipe, so it must not be called until all output has been read.
		<-readerDone
		c.waitErr = cmd.Wait()
		close(c.done)
	}()

	deadline := time.NewTimer(readyTimeout)
	defer deadline.Stop()
	select {
	case addr := <-readyCh:
		c.addr = addr
		logger.Printf("%s is ready at %s (pid %d)", name, addr, cmd.Process.Pid)
		return c, nil
	case <-c.done:
		return nil, &ExitError{Name: name, Err: c.waitErr}
	case <-deadline.C:
		c.Kill()
		return nil, fmt.Errorf("%w: %s after %s", ErrNotReady, name, readyTimeout)
	case <-ctx.Done():
		c.Kill()
		return nil, fmt.Errorf("%s was not started: %w", name, ctx.Err())
	}
}

func (c *Child) readOutput(stdout io.Reader, handshake Handshake, readyCh chan<- string) {
	defer close(c.lines)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	ready := false
	for scanner.Scan() {
		line := scanner.Text()
		if !ready {
			if addr, ok := handshake(line); ok {
				ready = true
				readyCh <- addr
			} else {
				c.logger.Printf("%s: ignoring output before readiness: %s", c.name, line)
			}
			continue
		}
		c.lines <- line
	}
	if err := scanner.Err(); err != nil {
		c.logger.Printf("%s: error reading output: %s", c.name, err)
	}
}

// Addr returns the address the child announced in its readiness line.
func (c *Child) Addr() string {
	return c.addr
}

// Lines returns the child's stdout lines after the readiness line. The channel is closed when
// the child's stdout is closed. A child that prints more than a few lines must have its
// Lines drained, or it will never be reaped.
func (c *Child) Lines() <-chan string {
	return c.lines
}

// Done is closed once the child has exited and been reaped.
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// Kill terminates the child, and any processes it started, unconditionally and waits for it to
// be reaped. It is safe to call more than once, and after the child has already exited.
func (c *Child) Kill() {
	c.killOnce.Do(func() {
		select {
		case <-c.done:
			return
		default:
		}
		if err := killProcessGroup(c.cmd.Process); err != nil {
			c.logger.Printf("%s: kill failed: %s", c.name, err)
		}
		<-c.done
		c.logger.Printf("%s stopped", c.name)
	})
}

// AnnounceReady is called by a child once it is listening on addr.
func AnnounceReady(out io.Writer, addr string) error {
	_, err := fmt.Fprintf(out, "%s%s\n", readyPrefix, addr)
	return err
}
