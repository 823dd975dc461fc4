package launcher

import (
	"context"
	"strings"
)

// StaticLauncher points at a server that someone else started.
type StaticLauncher struct {
	url    string
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
}

func NewStaticLauncher(url string, opts Options) *StaticLauncher {
	ctx, cancel := context.WithCancel(context.Background())
	return &StaticLauncher{url: strings.TrimSuffix(url, "/"), opts: opts, ctx: ctx, cancel: cancel}
}

func (l *StaticLauncher) Launch() (string, error) {
	if err := waitForServer(l.ctx, l.url, l.opts.startupTimeout(), l.opts.output()); err != nil {
		return "", err
	}
	return l.url, nil
}

// TearDown only stops a Launch that is still waiting for the server.
func (l *StaticLauncher) TearDown() error {
	l.cancel()
	return nil
}
