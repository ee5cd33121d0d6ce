package graph

import "context"

// Step is a composable piece of a graph.
type Step interface {
	// expand appends the step's nodes, each depending on after, and
	// returns the names that a following step must wait for.
	expand(after []string, nodes []Node) ([]Node, []string)
}

type taskStep struct {
	name string
	run  RunFunc
}

func (s taskStep) expand(after []string, nodes []Node) ([]Node, []string) {
	deps := append([]string(nil), after...)
	return append(nodes, Node{Name: s.name, Deps: deps, Run: s.run}), []string{s.name}
}

// Task is a single named step.
func Task(name string, run func(ctx context.Context) error) Step {
	return taskStep{name: name, run: run}
}

type seriesStep []Step

func (s seriesStep) expand(after []string, nodes []Node) ([]Node, []string) {
	tails := after
	for _, step := range s {
		nodes, tails = step.expand(tails, nodes)
	}
	return nodes, tails
}

// Series runs steps one after another. Each step starts only when the
// previous one has completed.
func Series(steps ...Step) Step {
	return seriesStep(steps)
}

type parallelStep []Step

func (p parallelStep) expand(after []string, nodes []Node) ([]Node, []string) {
	if len(p) == 0 {
		return nodes, after
	}
	var tails []string
	for _, step := range p {
		var t []string
		nodes, t = step.expand(after, nodes)
		tails = append(tails, t...)
	}
	return nodes, tails
}

// Parallel starts steps together. It completes when all of them have.
func Parallel(steps ...Step) Step {
	return parallelStep(steps)
}

// Compile expands a composed step into a validated Graph.
func Compile(root Step) (*Graph, error) {
	nodes, _ := root.expand(nil, nil)
	return New(nodes...)
}
