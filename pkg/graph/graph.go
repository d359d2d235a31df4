// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package graph is a node-labelled workflow engine over a state map.
// Nodes return partial state updates; edges are unconditional or routed by
// a condition function; parallel frontiers merge with per-field reducers.
package graph

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Sentinel node identifiers. Neither is ever a real node.
const (
	START = "__start__"
	END   = "__end__"
)

// DefaultMaxIterations bounds graph execution.
const DefaultMaxIterations = 100

// State is the graph's shared state.
type State map[string]any

// Clone returns a shallow copy.
func (s State) Clone() State {
	clone := make(State, len(s))
	for key, value := range s {
		clone[key] = value
	}
	return clone
}

// NodeFunc processes the state and returns a partial update.
type NodeFunc func(ctx context.Context, state State) (State, error)

// ConditionFunc inspects the state and returns a routing key.
type ConditionFunc func(state State) string

// Reducer combines an existing field value with an update. Fields without
// a reducer are overwritten.
type Reducer func(current, update any) any

// AppendReducer treats both values as slices and concatenates them.
func AppendReducer(current, update any) any {
	var combined []any
	combined = append(combined, toSlice(current)...)
	combined = append(combined, toSlice(update)...)
	return combined
}

func toSlice(value any) []any {
	switch v := value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

type edgeKind int

const (
	edgeNormal edgeKind = iota
	edgeConditional
)

type edge struct {
	source    string
	target    string
	kind      edgeKind
	condition ConditionFunc
	pathMap   map[string]string
}

type node struct {
	name string
	fn   NodeFunc
}

// StateGraph is the definition-time builder.
type StateGraph struct {
	nodes    map[string]*node
	edges    []*edge
	reducers map[string]Reducer
	entry    string
}

// NewStateGraph creates an empty graph.
func NewStateGraph() *StateGraph {
	return &StateGraph{
		nodes:    make(map[string]*node),
		reducers: make(map[string]Reducer),
	}
}

// AddNode registers a node. Names must be unique and must not collide with
// the sentinels.
func (g *StateGraph) AddNode(name string, fn NodeFunc) error {
	if name == START || name == END {
		return fmt.Errorf("node name %q is reserved", name)
	}
	if fn == nil {
		return fmt.Errorf("node function is required")
	}
	if _, exists := g.nodes[name]; exists {
		return fmt.Errorf("node '%s' already exists", name)
	}
	g.nodes[name] = &node{name: name, fn: fn}
	return nil
}

// AddEdge adds an unconditional edge. An edge from START declares the
// entry point.
func (g *StateGraph) AddEdge(source, target string) {
	if source == START {
		g.entry = target
	}
	g.edges = append(g.edges, &edge{source: source, target: target, kind: edgeNormal})
}

// AddConditionalEdges routes from source through a condition function.
// When pathMap is non-nil the condition's key is mapped through it;
// otherwise the key itself is the target.
func (g *StateGraph) AddConditionalEdges(source string, condition ConditionFunc, pathMap map[string]string) {
	g.edges = append(g.edges, &edge{
		source:    source,
		kind:      edgeConditional,
		condition: condition,
		pathMap:   pathMap,
	})
}

// SetEntryPoint declares the entry node explicitly.
func (g *StateGraph) SetEntryPoint(name string) {
	g.entry = name
}

// SetReducer declares a merge reducer for one state field.
func (g *StateGraph) SetReducer(key string, reducer Reducer) {
	g.reducers[key] = reducer
}

// Compile validates the graph and returns its executable form.
func (g *StateGraph) Compile() (*CompiledGraph, error) {
	entry := g.entry
	if entry == "" {
		for _, e := range g.edges {
			if e.source == START {
				entry = e.target
				break
			}
		}
	}
	if entry == "" {
		return nil, fmt.Errorf("no entry point defined: use AddEdge(START, node) or SetEntryPoint")
	}
	if _, ok := g.nodes[entry]; !ok && entry != END {
		return nil, fmt.Errorf("entry point '%s' is not a valid node", entry)
	}
	for _, e := range g.edges {
		if e.kind != edgeNormal {
			continue
		}
		if e.source != START {
			if _, ok := g.nodes[e.source]; !ok {
				return nil, fmt.Errorf("edge source '%s' is not a valid node", e.source)
			}
		}
		if e.target != END {
			if _, ok := g.nodes[e.target]; !ok {
				return nil, fmt.Errorf("edge target '%s' is not a valid node", e.target)
			}
		}
	}

	adjacency := make(map[string][]*edge)
	for _, e := range g.edges {
		adjacency[e.source] = append(adjacency[e.source], e)
	}
	return &CompiledGraph{
		nodes:     g.nodes,
		adjacency: adjacency,
		reducers:  g.reducers,
		entry:     entry,
	}, nil
}

// InvokeConfig tunes one execution.
type InvokeConfig struct {
	// MaxIterations bounds the frontier loop. Zero selects the default.
	MaxIterations int
}

// CompiledGraph is the validated, executable graph.
type CompiledGraph struct {
	nodes     map[string]*node
	adjacency map[string][]*edge
	reducers  map[string]Reducer
	entry     string
}

// EntryPoint returns the resolved entry node.
func (cg *CompiledGraph) EntryPoint() string { return cg.entry }

// Invoke executes the graph and returns the final state.
func (cg *CompiledGraph) Invoke(ctx context.Context, initial State, cfg *InvokeConfig) (State, error) {
	maxIterations := DefaultMaxIterations
	if cfg != nil && cfg.MaxIterations > 0 {
		maxIterations = cfg.MaxIterations
	}

	state := initial.Clone()
	frontier := cg.startNodes()
	visited := make(map[string]bool)

	for iteration := 0; len(frontier) > 0 && iteration < maxIterations; iteration++ {
		executable := cg.executable(frontier, visited)
		if len(executable) == 0 {
			break
		}

		if len(executable) == 1 {
			name := executable[0]
			update, err := cg.runNode(ctx, name, state)
			if err != nil {
				return nil, err
			}
			state = cg.merge(state, update)
			visited[name] = true
			frontier = cg.nextNodes(name, state)
			continue
		}

		updates := make([]State, len(executable))
		g, groupCtx := errgroup.WithContext(ctx)
		for i, name := range executable {
			g.Go(func() error {
				update, err := cg.runNode(groupCtx, name, state)
				if err != nil {
					return err
				}
				updates[i] = update
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		// Merge in executable order, so non-reducer fields resolve
		// deterministically left to right.
		for _, update := range updates {
			state = cg.merge(state, update)
		}
		for _, name := range executable {
			visited[name] = true
		}
		frontier = cg.nextFrontier(executable, state)
	}

	return state, nil
}

// StreamEvent is one streamed execution event.
type StreamEvent struct {
	Type   string `json:"type"`
	Node   string `json:"node,omitempty"`
	Update State  `json:"update,omitempty"`
	State  State  `json:"state"`
}

// Stream event types.
const (
	StreamNodeStart = "node_start"
	StreamNodeEnd   = "node_end"
	StreamDone      = "done"
)

// Stream executes the graph yielding node_start/node_end events and a
// terminal done event. Streaming runs nodes sequentially.
func (cg *CompiledGraph) Stream(ctx context.Context, initial State, cfg *InvokeConfig) iter.Seq2[*StreamEvent, error] {
	maxIterations := DefaultMaxIterations
	if cfg != nil && cfg.MaxIterations > 0 {
		maxIterations = cfg.MaxIterations
	}

	return func(yield func(*StreamEvent, error) bool) {
		state := initial.Clone()
		frontier := cg.startNodes()
		visited := make(map[string]bool)

		for iteration := 0; len(frontier) > 0 && iteration < maxIterations; iteration++ {
			executable := cg.executable(frontier, visited)
			if len(executable) == 0 {
				break
			}

			for _, name := range executable {
				if !yield(&StreamEvent{Type: StreamNodeStart, Node: name, State: state.Clone()}, nil) {
					return
				}
				update, err := cg.runNode(ctx, name, state)
				if err != nil {
					yield(nil, err)
					return
				}
				state = cg.merge(state, update)
				visited[name] = true
				if !yield(&StreamEvent{Type: StreamNodeEnd, Node: name, Update: update, State: state.Clone()}, nil) {
					return
				}
			}
			frontier = cg.nextFrontier(executable, state)
		}

		yield(&StreamEvent{Type: StreamDone, State: state.Clone()}, nil)
	}
}

func (cg *CompiledGraph) startNodes() []string {
	var starts []string
	for _, e := range cg.adjacency[START] {
		if e.kind == edgeNormal {
			starts = append(starts, e.target)
		}
	}
	if len(starts) == 0 {
		starts = []string{cg.entry}
	}
	return starts
}

func (cg *CompiledGraph) executable(frontier []string, visited map[string]bool) []string {
	var executable []string
	for _, name := range frontier {
		if name != END && !visited[name] {
			executable = append(executable, name)
		}
	}
	return executable
}

func (cg *CompiledGraph) runNode(ctx context.Context, name string, state State) (State, error) {
	n, ok := cg.nodes[name]
	if !ok {
		return nil, fmt.Errorf("node '%s' not found", name)
	}
	slog.Debug("Executing graph node", "node", name)
	return n.fn(ctx, state.Clone())
}

func (cg *CompiledGraph) merge(state State, update State) State {
	merged := state.Clone()
	for key, value := range update {
		if reducer, ok := cg.reducers[key]; ok {
			if current, exists := merged[key]; exists {
				merged[key] = reducer(current, value)
				continue
			}
		}
		merged[key] = value
	}
	return merged
}

func (cg *CompiledGraph) nextNodes(name string, state State) []string {
	var next []string
	for _, e := range cg.adjacency[name] {
		switch e.kind {
		case edgeNormal:
			next = append(next, e.target)
		case edgeConditional:
			key := e.condition(state)
			target := key
			if e.pathMap != nil {
				if mapped, ok := e.pathMap[key]; ok {
					target = mapped
				}
			}
			next = append(next, target)
		}
	}
	return next
}

// nextFrontier unions the successors of every executed node, deduplicated
// and sorted for determinism.
func (cg *CompiledGraph) nextFrontier(executed []string, state State) []string {
	set := make(map[string]bool)
	for _, name := range executed {
		for _, target := range cg.nextNodes(name, state) {
			set[target] = true
		}
	}
	frontier := make([]string, 0, len(set))
	for name := range set {
		frontier = append(frontier, name)
	}
	sort.Strings(frontier)
	return frontier
}
