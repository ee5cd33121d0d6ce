// Package graph runs named tasks as a validated DAG. Graphs are usually
// assembled with the Series and Parallel combinators.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/spachava753/assetpipe/internal/models"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycle        = errors.New("cycle detected")
)

func invalidf(format string, args ...any) error {
	return &models.TaskError{Type: models.ErrGraphInvalid, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidGraph}, args...)...)}
}

// RunFunc is the body of a task.
type RunFunc func(ctx context.Context) error

// Node is one task and the names of the tasks that must finish before it
// starts.
type Node struct {
	Name string
	Deps []string
	Run  RunFunc
}

// Graph is an immutable, validated DAG.
type Graph struct {
	nodes  map[string]Node
	order  []string
	byName []string
}

// New validates nodes and builds a Graph. It rejects empty or duplicate
// names, nil bodies, unknown or repeated dependencies, self loops and
// cycles.
func New(nodes ...Node) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, invalidf("no tasks")
	}

	byName := make(map[string]Node, len(nodes))
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.Name == "" {
			return nil, invalidf("task name is required")
		}
		if _, dup := byName[n.Name]; dup {
			return nil, invalidf("duplicate task name: %q", n.Name)
		}
		if n.Run == nil {
			return nil, invalidf("task %q has no body", n.Name)
		}
		byName[n.Name] = n
		names = append(names, n.Name)
	}
	sort.Strings(names)

	for _, n := range nodes {
		seen := make(map[string]bool, len(n.Deps))
		for _, d := range n.Deps {
			if d == n.Name {
				return nil, invalidf("self-loop: %q", n.Name)
			}
			if _, ok := byName[d]; !ok {
				return nil, invalidf("task %q depends on unknown task %q", n.Name, d)
			}
			if seen[d] {
				return nil, invalidf("task %q lists %q twice", n.Name, d)
			}
			seen[d] = true
		}
	}

	g := &Graph{nodes: byName, byName: names}
	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// topoSort is Kahn's algorithm with ties broken by name.
func (g *Graph) topoSort() ([]string, error) {
	indeg := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string, len(g.nodes))
	for _, name := range g.byName {
		for _, d := range g.nodes[name].Deps {
			indeg[name]++
			dependents[d] = append(dependents[d], name)
		}
	}

	var ready []string
	for _, name := range g.byName {
		if indeg[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		sort.Strings(ready)
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)
		for _, dep := range dependents[name] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(g.nodes) {
		var stuck []string
		for _, name := range g.byName {
			if indeg[name] > 0 {
				stuck = append(stuck, name)
			}
		}
		return nil, &models.TaskError{
			Type: models.ErrGraphInvalid,
			Err:  fmt.Errorf("%w among %s", ErrCycle, strings.Join(stuck, ", ")),
		}
	}
	return order, nil
}

// Names returns the task names in a deterministic topological order.
func (g *Graph) Names() []string {
	return append([]string(nil), g.order...)
}

// Deps returns the direct dependencies of name.
func (g *Graph) Deps(name string) []string {
	return append([]string(nil), g.nodes[name].Deps...)
}

// Run starts every task in its own goroutine once its dependencies have
// finished. The first failure cancels the context shared by the remaining
// tasks and is returned. The returned slice lists tasks in completion
// order.
func (g *Graph) Run(ctx context.Context) ([]string, error) {
	done := make(map[string]chan struct{}, len(g.nodes))
	for name := range g.nodes {
		done[name] = make(chan struct{})
	}

	var mu sync.Mutex
	var finished []string

	eg, egCtx := errgroup.WithContext(ctx)
	for _, name := range g.order {
		n := g.nodes[name]
		eg.Go(func() error {
			for _, d := range n.Deps {
				select {
				case <-done[d]:
				case <-egCtx.Done():
					return egCtx.Err()
				}
			}
			if err := egCtx.Err(); err != nil {
				return err
			}

			slog.Debug("starting task", "task", n.Name)
			start := time.Now()
			if err := n.Run(egCtx); err != nil {
				return fmt.Errorf("%s: %w", n.Name, err)
			}
			slog.Debug("finished task", "task", n.Name, "duration", time.Since(start))

			mu.Lock()
			finished = append(finished, n.Name)
			mu.Unlock()
			close(done[n.Name])
			return nil
		})
	}

	err := eg.Wait()
	return finished, err
}
