package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/assetpipe/internal/config"
	"github.com/spachava753/assetpipe/internal/devserver"
	"github.com/spachava753/assetpipe/internal/livereload"
	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/tasks"
	"github.com/spachava753/assetpipe/internal/watcher"
)

// State is the lifecycle state of a DevOrchestrator.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopped  State = "stopped"
)

// ErrAlreadyStarted is returned by a second call to DevOrchestrator.Run.
var ErrAlreadyStarted = errors.New("dev orchestrator already started")

// DevOrchestrator serves the source tree and reruns category tasks when
// their watched files change.
type DevOrchestrator struct {
	set    *tasks.Set
	hub    *livereload.Hub
	server *devserver.Server

	mu      sync.Mutex
	state   State
	started bool
	url     string
	running chan struct{}
}

// NewDevOrchestrator creates a dev orchestrator for cfg. Reloads and task
// errors are broadcast through its hub.
func NewDevOrchestrator(cfg models.Config, opts ...tasks.Option) (*DevOrchestrator, error) {
	hub := livereload.NewHub(time.Duration(cfg.Server.ReloadThrottleMs) * time.Millisecond)
	set, err := tasks.NewSet(cfg, append([]tasks.Option{tasks.WithNotifier(hub)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &DevOrchestrator{
		set:     set,
		hub:     hub,
		server:  devserver.New(cfg.Resolve(cfg.Server.BaseDir), cfg.Server, hub),
		state:   StateStarting,
		running: make(chan struct{}),
	}, nil
}

// Hub returns the live reload hub.
func (o *DevOrchestrator) Hub() *livereload.Hub {
	return o.hub
}

// State returns the current lifecycle state.
func (o *DevOrchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// URL returns the dev server address once running.
func (o *DevOrchestrator) URL() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.url
}

// Running is closed when the orchestrator enters the running state.
func (o *DevOrchestrator) Running() <-chan struct{} {
	return o.running
}

func (o *DevOrchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
	slog.Debug("dev orchestrator state", "state", s)
}

// Run builds the dev css and js output once, starts the server and the
// watcher, and blocks until ctx is cancelled. Task failures are reported to
// connected browsers and do not stop the loop. Run may be called once.
func (o *DevOrchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.mu.Unlock()
	defer o.setState(StateStopped)
	cfg := o.set.Config()

	if cfg.DevFastPath {
		slog.Warn("html fast path enabled: include resolution and error guarding are skipped in watch mode")
	}
	gaps, err := config.CheckCoverage(cfg)
	if err != nil {
		return err
	}
	for _, g := range gaps {
		slog.Warn("source file is not covered by its watch pattern", "category", g.Category, "file", g.Path)
	}

	for _, c := range []models.Category{models.CategoryCSS, models.CategoryJS} {
		if _, err := o.set.Pipeline(c, tasks.ModeDev).Run(ctx); err != nil {
			return fmt.Errorf("initial %s build: %w", c, err)
		}
	}

	var bindings []watcher.Binding
	for _, c := range models.Categories {
		p := o.set.Pipeline(c, tasks.ModeDev)
		bindings = append(bindings, watcher.Binding{
			Name:    string(c),
			Pattern: cfg.Resolve(cfg.Paths[c].Watch),
			Handler: func(ctx context.Context, events []watcher.Event) error {
				if _, err := p.Run(ctx); err != nil {
					o.hub.Notice(err.Error())
					return err
				}
				return nil
			},
		})
	}
	w, err := watcher.New(time.Duration(cfg.Watch.DebounceMs)*time.Millisecond, bindings...)
	if err != nil {
		return models.NewTaskError(models.ErrConfigInvalid, "watch", "", err)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	ready := make(chan string, 1)
	eg.Go(func() error { return o.server.ListenAndServe(egCtx, ready) })
	eg.Go(func() error { return w.Run(egCtx) })

	select {
	case url := <-ready:
		o.mu.Lock()
		o.url = url
		o.mu.Unlock()
	case <-egCtx.Done():
		return eg.Wait()
	}
	select {
	case <-w.Ready():
	case <-egCtx.Done():
		return eg.Wait()
	}

	o.setState(StateRunning)
	close(o.running)

	return eg.Wait()
}
