package graph_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spachava753/assetpipe/internal/graph"
	"github.com/spachava753/assetpipe/internal/models"
)

func noop(ctx context.Context) error { return nil }

func TestNewRejectsInvalidGraphs(t *testing.T) {
	tests := []struct {
		name  string
		nodes []graph.Node
		cycle bool
	}{
		{name: "empty"},
		{name: "unnamed", nodes: []graph.Node{{Run: noop}}},
		{name: "duplicate", nodes: []graph.Node{{Name: "a", Run: noop}, {Name: "a", Run: noop}}},
		{name: "no body", nodes: []graph.Node{{Name: "a"}}},
		{name: "unknown dep", nodes: []graph.Node{{Name: "a", Deps: []string{"b"}, Run: noop}}},
		{name: "self loop", nodes: []graph.Node{{Name: "a", Deps: []string{"a"}, Run: noop}}},
		{name: "repeated dep", nodes: []graph.Node{{Name: "a", Run: noop}, {Name: "b", Deps: []string{"a", "a"}, Run: noop}}},
		{
			name: "cycle",
			nodes: []graph.Node{
				{Name: "a", Deps: []string{"c"}, Run: noop},
				{Name: "b", Deps: []string{"a"}, Run: noop},
				{Name: "c", Deps: []string{"b"}, Run: noop},
			},
			cycle: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := graph.New(tt.nodes...)
			var te *models.TaskError
			if !errors.As(err, &te) || te.Type != models.ErrGraphInvalid {
				t.Fatalf("expected graph_invalid error, got %v", err)
			}
			if tt.cycle != errors.Is(err, graph.ErrCycle) {
				t.Errorf("errors.Is(err, ErrCycle) = %v, want %v (%v)", !tt.cycle, tt.cycle, err)
			}
		})
	}
}

func TestCompileSeriesParallel(t *testing.T) {
	g, err := graph.Compile(graph.Series(
		graph.Task("clean", noop),
		graph.Parallel(graph.Task("css", noop), graph.Task("js", noop)),
		graph.Task("move", noop),
	))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	want := map[string][]string{
		"clean": nil,
		"css":   {"clean"},
		"js":    {"clean"},
		"move":  {"css", "js"},
	}
	for name, deps := range want {
		got := g.Deps(name)
		if len(got) != len(deps) {
			t.Errorf("%s deps = %v, want %v", name, got, deps)
			continue
		}
		for i := range deps {
			if got[i] != deps[i] {
				t.Errorf("%s deps = %v, want %v", name, got, deps)
			}
		}
	}

	names := g.Names()
	if names[0] != "clean" || names[len(names)-1] != "move" {
		t.Errorf("topological order = %v", names)
	}
}

func TestRunRespectsOrdering(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(name string) graph.RunFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			events = append(events, name)
			mu.Unlock()
			return nil
		}
	}

	// css and js block until both have started, so they must overlap.
	var started sync.WaitGroup
	started.Add(2)
	overlap := func(name string) graph.RunFunc {
		return func(ctx context.Context) error {
			started.Done()
			started.Wait()
			return record(name)(ctx)
		}
	}

	g, err := graph.Compile(graph.Series(
		graph.Task("clean", record("clean")),
		graph.Parallel(graph.Task("css", overlap("css")), graph.Task("js", overlap("js"))),
		graph.Task("done", record("done")),
	))
	if err != nil {
		t.Fatal(err)
	}

	finished, err := g.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(finished) != 4 || finished[0] != "clean" || finished[3] != "done" {
		t.Errorf("completion order = %v", finished)
	}
	if events[0] != "clean" || events[3] != "done" {
		t.Errorf("events = %v", events)
	}
}

func TestRunCancelsOnFirstError(t *testing.T) {
	boom := errors.New("boom")
	var afterRan atomic.Bool

	g, err := graph.Compile(graph.Series(
		graph.Parallel(
			graph.Task("fail", func(ctx context.Context) error { return boom }),
			graph.Task("slow", func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Second):
					return nil
				}
			}),
		),
		graph.Task("after", func(ctx context.Context) error {
			afterRan.Store(true)
			return nil
		}),
	))
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	_, err = g.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("sibling was not cancelled")
	}
	if afterRan.Load() {
		t.Error("dependent task ran after a failure")
	}
}
