// internal/bom/graph.go
package bom

import (
	"github.com/shopspring/decimal"

	"pressline/internal/apperror"
	"pressline/internal/catalog"
)

// DefaultMaxDepth bounds how many BOM levels a single root may expand to.
const DefaultMaxDepth = 50

// Child is one outgoing BOM line of a node.
type Child struct {
	ItemID           int64           `json:"item_id"`
	QuantityRequired decimal.Decimal `json:"quantity_required"`
}

type node struct {
	id       int64
	children []Child
	level    int
	height   int
}

// Graph is the BOM subgraph reachable from one root, held as an arena of
// nodes keyed by item id. A Graph is immutable once built and safe to share.
type Graph struct {
	root      int64
	nodes     map[int64]*node
	postorder []int64
}

type color uint8

const (
	white color = iota
	onPath
	done
)

// Build constructs the subgraph reachable from rootID using DefaultMaxDepth.
func Build(rootID int64, edges []catalog.BOMEdge) (*Graph, error) {
	return BuildWithLimit(rootID, edges, DefaultMaxDepth)
}

// BuildWithLimit constructs the subgraph of active edges reachable from rootID.
// It fails with CircularDependency when a path revisits an item already on it,
// and with DepthExceeded when any path is longer than maxDepth edges. An item
// reached through two different parents is not a cycle.
func BuildWithLimit(rootID int64, edges []catalog.BOMEdge, maxDepth int) (*Graph, error) {
	byParent := make(map[int64][]Child)
	for _, e := range edges {
		if !e.Active {
			continue
		}
		byParent[e.ParentID] = append(byParent[e.ParentID], Child{ItemID: e.ChildID, QuantityRequired: e.QuantityRequired})
	}

	g := &Graph{root: rootID, nodes: make(map[int64]*node)}
	state := make(map[int64]color)
	var path []int64

	var visit func(id int64, depth int) error
	visit = func(id int64, depth int) error {
		if depth > maxDepth {
			return apperror.DepthExceeded(rootID, maxDepth)
		}
		switch state[id] {
		case onPath:
			return apperror.CircularDependency(cyclePath(path, id))
		case done:
			if depth+g.nodes[id].height > maxDepth {
				return apperror.DepthExceeded(rootID, maxDepth)
			}
			return nil
		}

		state[id] = onPath
		path = append(path, id)

		n := &node{id: id, children: byParent[id]}
		for _, c := range n.children {
			if err := visit(c.ItemID, depth+1); err != nil {
				return err
			}
			if h := g.nodes[c.ItemID].height + 1; h > n.height {
				n.height = h
			}
		}

		path = path[:len(path)-1]
		state[id] = done
		g.nodes[id] = n
		g.postorder = append(g.postorder, id)
		return nil
	}

	if err := visit(rootID, 0); err != nil {
		return nil, err
	}

	g.assignLevels()
	return g, nil
}

func cyclePath(path []int64, repeated int64) []int64 {
	for i, id := range path {
		if id == repeated {
			cycle := append([]int64{}, path[i:]...)
			return append(cycle, repeated)
		}
	}
	return []int64{repeated, repeated}
}

// assignLevels gives every node its longest distance from the root, so that a
// node always sits below every parent that uses it.
func (g *Graph) assignLevels() {
	for i := len(g.postorder) - 1; i >= 0; i-- {
		n := g.nodes[g.postorder[i]]
		for _, c := range n.children {
			child := g.nodes[c.ItemID]
			if child.level < n.level+1 {
				child.level = n.level + 1
			}
		}
	}
}

func (g *Graph) Root() int64 {
	return g.root
}

// Children returns the BOM lines of itemID in stored order.
func (g *Graph) Children(itemID int64) []Child {
	n, ok := g.nodes[itemID]
	if !ok {
		return nil
	}
	return n.children
}

// IsLeaf reports whether itemID has no active BOM lines, i.e. it is bought rather than made.
func (g *Graph) IsLeaf(itemID int64) bool {
	return len(g.Children(itemID)) == 0
}

// HasBOM reports whether the root is manufactured from anything.
func (g *Graph) HasBOM() bool {
	return !g.IsLeaf(g.root)
}

func (g *Graph) Contains(itemID int64) bool {
	_, ok := g.nodes[itemID]
	return ok
}

// Level returns the depth of itemID below the root (root = 0).
func (g *Graph) Level(itemID int64) (int, bool) {
	n, ok := g.nodes[itemID]
	if !ok {
		return 0, false
	}
	return n.level, true
}

// Depth is the number of levels below the root.
func (g *Graph) Depth() int {
	return g.nodes[g.root].height
}

// Items returns every item in the graph, children before parents.
func (g *Graph) Items() []int64 {
	return append([]int64(nil), g.postorder...)
}

// Walk visits each item once, children before parents, stopping at the first error.
func (g *Graph) Walk(fn func(itemID int64, children []Child) error) error {
	for _, id := range g.postorder {
		if err := fn(id, g.nodes[id].children); err != nil {
			return err
		}
	}
	return nil
}

// Edges returns the reachable edges with LevelNo set to the child's level.
// Every edge into an item comes before the edges out of it.
func (g *Graph) Edges() []catalog.BOMEdge {
	var edges []catalog.BOMEdge
	for i := len(g.postorder) - 1; i >= 0; i-- {
		n := g.nodes[g.postorder[i]]
		for _, c := range n.children {
			edges = append(edges, catalog.BOMEdge{
				ParentID:         n.id,
				ChildID:          c.ItemID,
				QuantityRequired: c.QuantityRequired,
				LevelNo:          g.nodes[c.ItemID].level,
				Active:           true,
			})
		}
	}
	return edges
}
