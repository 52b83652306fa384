// Package graph provides a dependency graph for subtask scheduling.
package graph

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/mender/pkg/models"
)

// ErrCycleDetected indicates an edge would close a circular dependency.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrNodeNotFound indicates an edge endpoint is not in the graph.
var ErrNodeNotFound = errors.New("node not found")

// ErrDuplicateNode indicates a node id is already present.
var ErrDuplicateNode = errors.New("duplicate node")

// node stores a payload and its edge sets. out holds dependents, in holds dependencies.
type node struct {
	data interface{}
	in   map[string]struct{}
	out  map[string]struct{}
}

// DAG is a directed acyclic graph keyed by subtask id. An edge from -> to means
// "to depends on from". Cycles are rejected at insertion time, so the graph is
// never observed in a cyclic state.
type DAG struct {
	mu sync.RWMutex
	// nodes maps id to node.
	nodes map[string]*node
	// order records insertion order so iteration is stable.
	order []string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty graph.
func New() *DAG {
	return &DAG{
		nodes:    make(map[string]*node),
		debugLog: func(format string, args ...interface{}) {}, // no-op by default
	}
}

// SetDebugLog sets the debug logging function.
func (g *DAG) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// AddNode registers id with an arbitrary payload.
func (g *DAG) AddNode(id string, data interface{}) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	g.nodes[id] = &node{
		data: data,
		in:   make(map[string]struct{}),
		out:  make(map[string]struct{}),
	}
	g.order = append(g.order, id)
	g.debugLog("[graph.AddNode] id=%s", id)
	return nil
}

// AddEdge records that to depends on from. It fails without mutating the
// graph if either endpoint is missing or the edge would close a cycle.
// Adding an existing edge is a no-op.
func (g *DAG) AddEdge(from, to string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, from)
	}
	dst, ok := g.nodes[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	if from == to {
		return fmt.Errorf("%w: self-loop on %s", ErrCycleDetected, from)
	}
	if _, exists := src.out[to]; exists {
		return nil
	}
	if g.reachableLocked(to, from) {
		g.debugLog("[graph.AddEdge] rejected %s -> %s: %s already reaches %s", from, to, to, from)
		return fmt.Errorf("%w: %s -> %s", ErrCycleDetected, from, to)
	}

	src.out[to] = struct{}{}
	dst.in[from] = struct{}{}
	g.debugLog("[graph.AddEdge] %s -> %s", from, to)
	return nil
}

// reachableLocked runs a BFS along outgoing edges from start looking for target.
func (g *DAG) reachableLocked(start, target string) bool {
	visited := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == target {
			return true
		}
		for next := range g.nodes[id].out {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// TopologicalSort returns ids so that every dependency precedes its
// dependents, using Kahn's algorithm. The order among independent nodes is
// unspecified.
func (g *DAG) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	sorted := g.kahnLocked()
	if len(sorted) != len(g.nodes) {
		return nil, ErrCycleDetected
	}
	return sorted, nil
}

// kahnLocked returns the nodes Kahn's algorithm can remove. On an acyclic
// graph that is every node.
func (g *DAG) kahnLocked() []string {
	inDegree := make(map[string]int, len(g.nodes))
	var queue []string
	for _, id := range g.order {
		inDegree[id] = len(g.nodes[id].in)
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, id)

		for _, next := range sortedKeys(g.nodes[id].out) {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return result
}

// HasCycle reports whether the graph contains a cycle. Insertion-time checks
// make this false for graphs built through AddEdge; it exists to validate
// graphs assembled from external dependency data.
func (g *DAG) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.kahnLocked()) != len(g.nodes)
}

// ExecutableNodes returns every node not in completed whose dependencies are
// all in completed. It is recomputed from scratch on each call.
func (g *DAG) ExecutableNodes(completed map[string]bool) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for _, id := range g.order {
		if completed[id] {
			continue
		}
		satisfied := true
		for dep := range g.nodes[id].in {
			if !completed[dep] {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	g.debugLog("[graph.ExecutableNodes] completed=%d ready=%v", len(completed), ready)
	return ready
}

// Node returns the payload stored for id.
func (g *DAG) Node(id string) (interface{}, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, false
	}
	return n.data, true
}

// Dependencies returns the ids id depends on, sorted.
func (g *DAG) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.in)
}

// Dependents returns the ids that depend on id, sorted.
func (g *DAG) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(n.out)
}

// Size returns the number of nodes.
func (g *DAG) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// IDs returns node ids in insertion order.
func (g *DAG) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.order...)
}

// FromSubtasks builds a graph with one node per subtask and one edge per
// declared dependency. The first construction error is returned and the
// partially built graph must be discarded.
func FromSubtasks(subtasks []*models.Subtask) (*DAG, error) {
	g := New()
	for _, st := range subtasks {
		if err := g.AddNode(st.ID, st); err != nil {
			return nil, fmt.Errorf("add subtask %s: %w", st.ID, err)
		}
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if err := g.AddEdge(dep, st.ID); err != nil {
				return nil, fmt.Errorf("subtask %s depends on %s: %w", st.ID, dep, err)
			}
		}
	}
	return g, nil
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
