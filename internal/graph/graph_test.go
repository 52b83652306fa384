package graph

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/ShayCichocki/mender/pkg/models"
)

func mustGraph(t *testing.T, ids []string, edges [][2]string) *DAG {
	t.Helper()
	g := New()
	for _, id := range ids {
		if err := g.AddNode(id, nil); err != nil {
			t.Fatalf("AddNode(%s) error = %v", id, err)
		}
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			t.Fatalf("AddEdge(%s, %s) error = %v", e[0], e[1], err)
		}
	}
	return g
}

func positions(order []string) map[string]int {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	return pos
}

func TestAddNode_Duplicate(t *testing.T) {
	g := New()
	if err := g.AddNode("a", 1); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	if err := g.AddNode("a", 2); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("expected ErrDuplicateNode, got %v", err)
	}
	if data, _ := g.Node("a"); data != 1 {
		t.Errorf("payload replaced: %v", data)
	}
}

func TestAddEdge_Errors(t *testing.T) {
	tests := []struct {
		name    string
		edges   [][2]string
		add     [2]string
		wantErr error
	}{
		{"missing from", nil, [2]string{"x", "a"}, ErrNodeNotFound},
		{"missing to", nil, [2]string{"a", "x"}, ErrNodeNotFound},
		{"self loop", nil, [2]string{"a", "a"}, ErrCycleDetected},
		{"two cycle", [][2]string{{"a", "b"}}, [2]string{"b", "a"}, ErrCycleDetected},
		{"three cycle", [][2]string{{"a", "b"}, {"b", "c"}}, [2]string{"c", "a"}, ErrCycleDetected},
		{"duplicate edge is fine", [][2]string{{"a", "b"}}, [2]string{"a", "b"}, nil},
		{"diamond is fine", [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}}, [2]string{"c", "d"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := mustGraph(t, []string{"a", "b", "c", "d"}, tt.edges)
			beforeDeps := fmt.Sprint(g.Dependencies(tt.add[1]), g.Dependents(tt.add[0]))

			err := g.AddEdge(tt.add[0], tt.add[1])
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("AddEdge() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddEdge() error = %v, want %v", err, tt.wantErr)
			}
			if after := fmt.Sprint(g.Dependencies(tt.add[1]), g.Dependents(tt.add[0])); after != beforeDeps {
				t.Errorf("rejected edge mutated the graph: %s -> %s", beforeDeps, after)
			}
			if g.HasCycle() {
				t.Error("graph observed in a cyclic state")
			}
		})
	}
}

func TestTopologicalSort_RespectsEdges(t *testing.T) {
	edges := [][2]string{{"login", "profile"}, {"login", "settings"}, {"profile", "logout"}, {"settings", "logout"}}
	g := mustGraph(t, []string{"logout", "settings", "profile", "login"}, edges)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("TopologicalSort() error = %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("order = %v, want 4 ids", order)
	}
	pos := positions(order)
	for _, e := range edges {
		if pos[e[0]] >= pos[e[1]] {
			t.Errorf("%s must precede %s in %v", e[0], e[1], order)
		}
	}
}

// TestTopologicalSort_RandomDAGs builds random acyclic edge sets (edges only
// go from lower to higher index) and checks the order property.
func TestTopologicalSort_RandomDAGs(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(15)
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("n%d", i)
		}
		var edges [][2]string
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if rng.Float64() < 0.3 {
					edges = append(edges, [2]string{ids[i], ids[j]})
				}
			}
		}
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		g := mustGraph(t, ids, edges)

		order, err := g.TopologicalSort()
		if err != nil {
			t.Fatalf("trial %d: TopologicalSort() error = %v", trial, err)
		}
		pos := positions(order)
		for _, e := range edges {
			if pos[e[0]] >= pos[e[1]] {
				t.Fatalf("trial %d: %s must precede %s", trial, e[0], e[1])
			}
		}
	}
}

func TestExecutableNodes(t *testing.T) {
	g := mustGraph(t, []string{"a", "b", "c", "d"}, [][2]string{{"a", "b"}, {"a", "c"}, {"b", "d"}, {"c", "d"}})

	tests := []struct {
		name      string
		completed map[string]bool
		want      []string
	}{
		{"nothing done", map[string]bool{}, []string{"a"}},
		{"root done", map[string]bool{"a": true}, []string{"b", "c"}},
		{"one branch done", map[string]bool{"a": true, "b": true}, []string{"c"}},
		{"both branches done", map[string]bool{"a": true, "b": true, "c": true}, []string{"d"}},
		{"all done", map[string]bool{"a": true, "b": true, "c": true, "d": true}, nil},
		{"nil map", nil, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.ExecutableNodes(tt.completed)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("ExecutableNodes() = %v, want %v", got, tt.want)
			}
			for _, id := range got {
				if tt.completed[id] {
					t.Errorf("returned completed node %s", id)
				}
				for _, dep := range g.Dependencies(id) {
					if !tt.completed[dep] {
						t.Errorf("returned %s with unmet dependency %s", id, dep)
					}
				}
			}
		})
	}
}

func TestFromSubtasks(t *testing.T) {
	cmd := models.NoopCommand()
	mk := func(id string, deps ...string) *models.Subtask {
		st, err := models.NewSubtask(id, "do "+id, []models.Command{cmd}, deps...)
		if err != nil {
			t.Fatalf("NewSubtask() error = %v", err)
		}
		return st
	}

	t.Run("valid", func(t *testing.T) {
		g, err := FromSubtasks([]*models.Subtask{mk("login"), mk("cart", "login"), mk("checkout", "cart", "login")})
		if err != nil {
			t.Fatalf("FromSubtasks() error = %v", err)
		}
		if g.Size() != 3 {
			t.Errorf("Size() = %d", g.Size())
		}
		if deps := g.Dependencies("checkout"); fmt.Sprint(deps) != "[cart login]" {
			t.Errorf("Dependencies(checkout) = %v", deps)
		}
		data, ok := g.Node("cart")
		if st, isSubtask := data.(*models.Subtask); !ok || !isSubtask || st.ID != "cart" {
			t.Errorf("Node(cart) = %v", data)
		}
	})

	t.Run("unknown dependency", func(t *testing.T) {
		_, err := FromSubtasks([]*models.Subtask{mk("a", "ghost")})
		if !errors.Is(err, ErrNodeNotFound) {
			t.Errorf("expected ErrNodeNotFound, got %v", err)
		}
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := FromSubtasks([]*models.Subtask{mk("a", "b"), mk("b", "a")})
		if !errors.Is(err, ErrCycleDetected) {
			t.Errorf("expected ErrCycleDetected, got %v", err)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		_, err := FromSubtasks([]*models.Subtask{mk("a"), mk("a")})
		if !errors.Is(err, ErrDuplicateNode) {
			t.Errorf("expected ErrDuplicateNode, got %v", err)
		}
	})
}

func TestConcurrentReads(t *testing.T) {
	g := mustGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}})
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.TopologicalSort(); err != nil {
				t.Errorf("TopologicalSort() error = %v", err)
			}
			_ = g.ExecutableNodes(map[string]bool{"a": true})
		}()
	}
	wg.Wait()
}

func TestDebugLog(t *testing.T) {
	var lines []string
	g := New()
	g.SetDebugLog(func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	})
	_ = g.AddNode("a", nil)
	if len(lines) == 0 {
		t.Error("expected debug output")
	}
}
