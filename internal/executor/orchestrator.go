// Package executor runs the watch and build task graphs.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spachava753/assetpipe/internal/config"
	"github.com/spachava753/assetpipe/internal/graph"
	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/pipeline"
	"github.com/spachava753/assetpipe/internal/tasks"
)

// Task names in the build graph.
const (
	TaskClean  = "clean"
	TaskCSSMin = "css-min"
	TaskJSMin  = "js-min"
	TaskMove   = "move"
)

// BuildOrchestrator produces the deployable output tree.
type BuildOrchestrator struct {
	set *tasks.Set

	mu      sync.Mutex
	results []models.TaskResult
}

// NewBuildOrchestrator creates a build orchestrator for cfg.
func NewBuildOrchestrator(cfg models.Config, opts ...tasks.Option) (*BuildOrchestrator, error) {
	set, err := tasks.NewSet(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &BuildOrchestrator{set: set}, nil
}

// Graph returns the build graph: clean, then css and js minification in
// parallel. The move step (html, fonts and images) waits for clean only,
// unless build.serialize_move is set, in which case it waits for the
// minification step as well.
func (o *BuildOrchestrator) Graph() (*graph.Graph, error) {
	optimize := []graph.Step{
		graph.Task(TaskCSSMin, o.runner(models.CategoryCSS)),
		graph.Task(TaskJSMin, o.runner(models.CategoryJS)),
	}
	move := graph.Task(TaskMove, o.move)
	clean := graph.Task(TaskClean, o.set.Clean)

	if o.set.Config().Build.SerializeMove {
		return graph.Compile(graph.Series(clean, graph.Parallel(optimize...), move))
	}
	return graph.Compile(graph.Series(clean, graph.Parallel(append(optimize, move)...)))
}

func (o *BuildOrchestrator) runner(c models.Category) graph.RunFunc {
	return func(ctx context.Context) error {
		return o.run(ctx, o.set.Pipeline(c, tasks.ModeBuild))
	}
}

func (o *BuildOrchestrator) run(ctx context.Context, p *pipeline.Pipeline) error {
	result, err := p.Run(ctx)
	if result != nil {
		o.mu.Lock()
		o.results = append(o.results, *result)
		o.mu.Unlock()
	}
	return err
}

// move copies html and fonts and compresses images into the build root.
func (o *BuildOrchestrator) move(ctx context.Context) error {
	for _, c := range []models.Category{models.CategoryHTML, models.CategoryFonts, models.CategoryImg} {
		if err := o.run(ctx, o.set.Pipeline(c, tasks.ModeBuild)); err != nil {
			return err
		}
	}
	return o.set.PruneCache()
}

// Run executes the build graph once.
func (o *BuildOrchestrator) Run(ctx context.Context) (*models.BuildResult, error) {
	result := &models.BuildResult{StartedAt: time.Now()}
	o.mu.Lock()
	o.results = nil
	o.mu.Unlock()

	g, err := o.Graph()
	if err != nil {
		return nil, err
	}

	order, err := g.Run(ctx)

	result.EndedAt = time.Now()
	result.DurationSec = result.EndedAt.Sub(result.StartedAt).Seconds()
	result.ExecutionOrder = order

	o.mu.Lock()
	result.Tasks = append([]models.TaskResult(nil), o.results...)
	o.mu.Unlock()
	sort.Slice(result.Tasks, func(i, j int) bool { return result.Tasks[i].Task < result.Tasks[j].Task })

	if err != nil {
		return result, fmt.Errorf("build failed: %w", err)
	}
	return result, nil
}

// LoadConfig loads a config file. An empty path uses a config file found
// in the working directory, or the defaults.
func LoadConfig(configPath string) (models.Config, error) {
	if configPath == "" {
		configPath = config.Find(".")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
