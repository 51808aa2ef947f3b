package crawler

import (
	"sort"

	"github.com/tomwilder/phabmirror/internal/entity"
)

// Edge is one parent-task → child-task link.
type Edge struct {
	Parent int
	Child  int
}

// Graph is the crawl result: every resolved task plus the parent→child
// edges among them. Construction is owned by the Crawler; consumers get
// read-only views.
type Graph struct {
	Tasks map[int]*entity.Task
	Order []int // discovery order
	Edges []Edge

	edgeSet map[Edge]bool
}

// NewGraph returns an empty Graph.
func NewGraph() *Graph {
	return &Graph{
		Tasks:   make(map[int]*entity.Task),
		edgeSet: make(map[Edge]bool),
	}
}

// Task returns the task for id, if resolved.
func (g *Graph) Task(id int) (*entity.Task, bool) {
	t, ok := g.Tasks[id]
	return t, ok
}

// TaskCount returns the number of resolved tasks.
func (g *Graph) TaskCount() int { return len(g.Tasks) }

// IDs returns all task ids in ascending order.
func (g *Graph) IDs() []int {
	ids := make([]int, 0, len(g.Tasks))
	for id := range g.Tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (g *Graph) insert(t *entity.Task) {
	g.Tasks[t.ID] = t
	g.Order = append(g.Order, t.ID)
}

// addEdge records a parent→child link once, no matter how often the
// child is re-encountered through shared subtask traversal.
func (g *Graph) addEdge(parent, child int) {
	e := Edge{Parent: parent, Child: child}
	if g.edgeSet[e] {
		return
	}
	g.edgeSet[e] = true
	g.Edges = append(g.Edges, e)
}
