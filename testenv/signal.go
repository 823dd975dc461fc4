package testenv

import (
	"os"
	"os/signal"
	"syscall"
)

// CloseOnSignal closes the Env and exits if the process receives SIGINT or SIGTERM, so that
// an interrupted run does not leave child processes behind. The returned function stops
// watching for signals.
func (e *Env) CloseOnSignal() (stop func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	done := e.closeOnSignals(signals, os.Exit)
	return func() {
		signal.Stop(signals)
		close(done)
	}
}

func (e *Env) closeOnSignals(signals <-chan os.Signal, exit func(int)) chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-signals:
			e.logger.Warn().Str("signal", sig.String()).Msg("interrupted, shutting down")
			e.Close()
			exit(130)
		case <-done:
		}
	}()
	return done
}
