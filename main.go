package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/matrix-org/identity-contract-tests/config"
	"github.com/matrix-org/identity-contract-tests/fakehs"
	"github.com/matrix-org/identity-contract-tests/framework"
	"github.com/matrix-org/identity-contract-tests/istests"
	"github.com/matrix-org/identity-contract-tests/launcher"
	"github.com/matrix-org/identity-contract-tests/logging"
	"github.com/matrix-org/identity-contract-tests/mailsink"
	"github.com/matrix-org/identity-contract-tests/procs"
	"github.com/matrix-org/identity-contract-tests/testenv"
)

func main() {
	var params commandParams
	if !params.Read(os.Args) {
		os.Exit(1)
	}

	if params.serve != "" {
		os.Exit(serveChild(params))
	}

	cfg, err := config.Load(params.configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %s\n", err)
		os.Exit(1)
	}
	if err := params.applyTo(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid parameters: %s\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Log.Level, os.Stderr, true)

	launchers := launcher.Config{
		Command:      cfg.Launcher.Command,
		TermsCommand: cfg.Launcher.TermsCommand,
		URL:          cfg.Server.URL,
		TermsURL:     cfg.Server.TermsURL,
		Options: launcher.Options{
			StartupTimeout: cfg.Launcher.StartupTimeout,
			Logger:         &logger,
			Output:         os.Stdout,
		},
	}
	if _, err := launchers.ForVariant(false); errors.Is(err, launcher.ErrNoLauncher) {
		fmt.Fprintln(os.Stderr, "An identity server is required: set -url or -launch (or IDTEST_SERVER_URL / IDTEST_LAUNCHER_COMMAND)")
		os.Exit(1)
	}
	var unavailable []string
	if _, err := launchers.ForVariant(true); errors.Is(err, launcher.ErrNoLauncher) {
		unavailable = append(unavailable, "identity server with terms of service")
	}

	env := testenv.New(testenv.Options{
		MailSink: mailsink.Options{
			Addr:         cfg.MailSink.Addr,
			PopTimeout:   cfg.MailSink.Timeout,
			Isolated:     cfg.Isolated(),
			ChildCommand: childCommand(mailsink.ServiceName, cfg.Log.Level),
		},
		FakeHS: fakehs.Options{
			Addr:         cfg.FakeHS.Addr,
			Seed:         cfg.FakeHS.Seed,
			Isolated:     cfg.Isolated(),
			ChildCommand: childCommand(fakehs.ServiceName, cfg.Log.Level),
		},
		Launchers: launchers.ForVariant,
		Logger:    &logger,
	})
	stop := env.CloseOnSignal()

	fmt.Println()
	framework.PrintFilterDescription(os.Stdout, params.filters, unavailable)

	fmt.Println("Running test suite")

	testLogger := &ConsoleTestLogger{
		DebugOutputOnFailure: params.debug || params.debugAll,
		DebugOutputOnSuccess: params.debugAll,
	}

	results := istests.RunTestSuite(env, params.filters.AsFilter, testLogger)

	stop()
	env.Close()

	fmt.Println()
	framework.PrintResults(os.Stdout, results)
	if !results.OK() {
		os.Exit(1)
	}
}

// childCommand re-executes this binary to run one of the fake services.
func childCommand(service, logLevel string) func(addr string) (*exec.Cmd, error) {
	return func(addr string) (*exec.Cmd, error) {
		args := []string{"-serve", service, "-serve-addr", addr}
		if logLevel != "" {
			args = append(args, "-log-level", logLevel)
		}
		return procs.SelfCommand(args...)
	}
}

// serveChild is the body of a child process started by childCommand. Stdout is reserved for
// the readiness handshake and the service's own output, so logs go to stderr.
func serveChild(params commandParams) int {
	logger := logging.ForService(logging.New(params.logLevel, os.Stderr, false), params.serve)

	var err error
	switch params.serve {
	case mailsink.ServiceName:
		err = mailsink.ServeChild(params.serveAddr, os.Stdout, logger)
	case fakehs.ServiceName:
		err = fakehs.ServeChild(params.serveAddr, os.Stdout, logger)
	default:
		err = fmt.Errorf("unknown service %q", params.serve)
	}
	if err != nil {
		logger.WithLevel(zerolog.FatalLevel).Err(err).Msg("service stopped")
		return 1
	}
	return 0
}
