package workflow

import (
	"github.com/BaSui01/knowflow/workflow/expr"
)

// Graph 是校验通过的定义的 arena 形式：节点按 0..n-1 编号，边用下标互相引用。
// Graph 构建后只读，可被多个运行共享。
type Graph struct {
	def      *Definition
	index    map[string]int
	entries  []int
	outgoing [][]int
	incoming [][]int
	topo     []int
	topoPos  []int
	// ancestors[i] 为节点 i 的全部祖先（按拓扑序）
	ancestors [][]int
	// sources[e]/targets[e] 为边 e 的端点下标
	sources []int
	targets []int
	guards  []*expr.Program
}

// Compile validates def and builds its arena form.
func Compile(def *Definition) (*Graph, error) {
	a, err := analyze(def)
	if err != nil {
		return nil, err
	}

	n := len(def.Nodes)
	g := &Graph{
		def:      def,
		index:    a.index,
		entries:  a.entries,
		outgoing: a.outgoing,
		incoming: a.incoming,
		topo:     a.topo,
		topoPos:  make([]int, n),
		sources:  make([]int, len(def.Edges)),
		targets:  make([]int, len(def.Edges)),
		guards:   make([]*expr.Program, len(def.Edges)),
	}
	for pos, idx := range a.topo {
		g.topoPos[idx] = pos
	}
	for i := range def.Edges {
		e := &def.Edges[i]
		g.sources[i] = a.index[e.Source]
		g.targets[i] = a.index[e.Target]
		if !e.IsDefault() {
			// 已在 analyze 中校验过
			g.guards[i], _ = expr.Compile(e.Guard)
		}
	}

	// 按拓扑序传播祖先集合
	sets := make([]map[int]struct{}, n)
	for _, idx := range a.topo {
		set := make(map[int]struct{})
		for _, ei := range a.incoming[idx] {
			src := g.sources[ei]
			set[src] = struct{}{}
			for anc := range sets[src] {
				set[anc] = struct{}{}
			}
		}
		sets[idx] = set
	}
	g.ancestors = make([][]int, n)
	for i := 0; i < n; i++ {
		list := make([]int, 0, len(sets[i]))
		for _, idx := range a.topo {
			if _, ok := sets[i][idx]; ok {
				list = append(list, idx)
			}
		}
		g.ancestors[i] = list
	}
	return g, nil
}

// Definition returns the definition the graph was compiled from.
func (g *Graph) Definition() *Definition { return g.def }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.def.Nodes) }

// Node returns the node at index i.
func (g *Graph) Node(i int) *Node { return &g.def.Nodes[i] }

// Edge returns the edge at index i.
func (g *Graph) Edge(i int) *Edge { return &g.def.Edges[i] }

// IndexOf returns the arena index for a node id.
func (g *Graph) IndexOf(id string) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Entries returns the entry node indices.
func (g *Graph) Entries() []int { return g.entries }

// TopologicalOrder returns node indices in topological order.
func (g *Graph) TopologicalOrder() []int { return g.topo }

// Outgoing returns the outgoing edge indices of node i, in definition order.
func (g *Graph) Outgoing(i int) []int { return g.outgoing[i] }

// Incoming returns the incoming edge indices of node i.
func (g *Graph) Incoming(i int) []int { return g.incoming[i] }

// Predecessors returns the ids of the direct upstream nodes of i, deduplicated.
func (g *Graph) Predecessors(i int) []string {
	seen := make(map[int]struct{}, len(g.incoming[i]))
	out := make([]string, 0, len(g.incoming[i]))
	for _, ei := range g.incoming[i] {
		src := g.sources[ei]
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, g.def.Nodes[src].ID)
	}
	return out
}

// Ancestors returns every ancestor of node i in topological order.
func (g *Graph) Ancestors(i int) []int { return g.ancestors[i] }

// Branches returns the outgoing branches of node i, with compiled guards.
func (g *Graph) Branches(i int) []Branch {
	out := make([]Branch, 0, len(g.outgoing[i]))
	for _, ei := range g.outgoing[i] {
		e := &g.def.Edges[ei]
		out = append(out, Branch{
			EdgeID:  e.EdgeID(),
			Target:  e.Target,
			Guard:   g.guards[ei],
			Default: e.IsDefault(),
		})
	}
	return out
}
