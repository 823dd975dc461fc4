package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/matrix-org/identity-contract-tests/procs"
)

// CommandLauncher runs a shell command that starts an identity server.
type CommandLauncher struct {
	command   string
	withTerms bool
	opts      Options
	child     *procs.Child
	baseURL   string
	ctx       context.Context
	cancel    context.CancelFunc
	lock      sync.Mutex
}

func NewCommandLauncher(command string, withTerms bool, opts Options) *CommandLauncher {
	ctx, cancel := context.WithCancel(context.Background())
	return &CommandLauncher{command: command, withTerms: withTerms, opts: opts, ctx: ctx, cancel: cancel}
}

func (l *CommandLauncher) name() string {
	if l.withTerms {
		return "identity server (with terms)"
	}
	return "identity server"
}

// Launch runs the command the first time it is called, and returns the same URL afterwards.
// It fails once TearDown has been called.
func (l *CommandLauncher) Launch() (string, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.child != nil {
		return l.baseURL, nil
	}
	if err := l.ctx.Err(); err != nil {
		return "", fmt.Errorf("%s was torn down: %w", l.name(), err)
	}

	logger := l.opts.logger().With().Str("launcher", l.name()).Logger()
	cmd := exec.Command("sh", "-c", l.command)
	cmd.Env = os.Environ()
	if l.withTerms {
		cmd.Env = append(cmd.Env, WithTermsEnvVar+"=1")
	}
	logger.Info().Str("command", l.command).Bool("with_terms", l.withTerms).Msg("launching")

	child, err := procs.StartContext(l.ctx, l.name(), cmd, procs.FirstLine, l.opts.startupTimeout(), &logger)
	if err != nil {
		return "", err
	}
	go func() {
		for line := range child.Lines() {
			logger.Debug().Msg(line)
		}
	}()

	baseURL := strings.TrimSuffix(child.Addr(), "/")
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		child.Kill()
		return "", fmt.Errorf("%s printed %q instead of its base URL", l.name(), baseURL)
	}
	if err := waitForServer(l.ctx, baseURL, l.opts.startupTimeout(), l.opts.output()); err != nil {
		child.Kill()
		return "", err
	}
	l.child = child
	l.baseURL = baseURL
	logger.Info().Str("url", baseURL).Msg("identity server is up")
	return baseURL, nil
}

// TearDown kills the server process, or abandons a Launch that is in progress. It may be called
// more than once.
func (l *CommandLauncher) TearDown() error {
	l.cancel()
	l.lock.Lock()
	child := l.child
	l.lock.Unlock()
	if child != nil {
		child.Kill()
	}
	return nil
}
