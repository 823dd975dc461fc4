package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/matrix-org/identity-contract-tests/config"
	"github.com/matrix-org/identity-contract-tests/framework"
)

type commandParams struct {
	configFile     string
	serverURL      string
	termsServerURL string
	launchCommand  string
	termsCommand   string
	startupTimeout time.Duration
	mailSinkAddr   string
	fakeHSAddr     string
	isolation      string
	logLevel       string
	filters        framework.RegexFilters
	debug          bool
	debugAll       bool

	// Set when the binary is re-executed to run one of the fake services.
	serve     string
	serveAddr string
}

func (c *commandParams) Read(args []string) bool {
	fs := flag.NewFlagSet("", flag.ExitOnError)
	fs.StringVar(&c.configFile, "config", "", "config file (YAML, TOML or JSON)")
	fs.StringVar(&c.serverURL, "url", "", "base URL of a running identity server")
	fs.StringVar(&c.termsServerURL, "terms-url", "", "base URL of a running identity server that has terms of service")
	fs.StringVar(&c.launchCommand, "launch", "", "shell command that starts an identity server and prints its base URL")
	fs.StringVar(&c.termsCommand, "launch-terms", "", "shell command that starts an identity server with terms of service")
	fs.DurationVar(&c.startupTimeout, "startup-timeout", 0, "how long to wait for an identity server to start")
	fs.StringVar(&c.mailSinkAddr, "mailsink-addr", "", "address for the mail sink to accept SMTP on")
	fs.StringVar(&c.fakeHSAddr, "fakehs-addr", "", "address for the fake homeserver to listen on")
	fs.StringVar(&c.isolation, "isolation", "", `run fake services as child processes ("process") or goroutines ("inprocess")`)
	fs.StringVar(&c.logLevel, "log-level", "", "level for service logs on stderr")
	fs.Var(&c.filters.MustMatch, "run", "regex pattern(s) to select tests to run")
	fs.Var(&c.filters.MustNotMatch, "skip", "regex pattern(s) to select tests not to run")
	fs.BoolVar(&c.debug, "debug", false, "enable debug logging for failed tests")
	fs.BoolVar(&c.debugAll, "debug-all", false, "enable debug logging for all tests")
	fs.StringVar(&c.serve, "serve", "", "")
	fs.StringVar(&c.serveAddr, "serve-addr", "", "")

	if err := fs.Parse(args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fs.Usage()
		return false
	}
	return true
}

// applyTo overrides configuration values with any that were given on the command line.
func (c *commandParams) applyTo(cfg *config.Config) error {
	override := func(target *string, value string) {
		if value != "" {
			*target = value
		}
	}
	override(&cfg.Server.URL, c.serverURL)
	override(&cfg.Server.TermsURL, c.termsServerURL)
	override(&cfg.Launcher.Command, c.launchCommand)
	override(&cfg.Launcher.TermsCommand, c.termsCommand)
	override(&cfg.MailSink.Addr, c.mailSinkAddr)
	override(&cfg.FakeHS.Addr, c.fakeHSAddr)
	override(&cfg.Isolation, c.isolation)
	override(&cfg.Log.Level, c.logLevel)
	if c.startupTimeout > 0 {
		cfg.Launcher.StartupTimeout = c.startupTimeout
	}
	return cfg.Validate()
}
