package workflow

import (
	"fmt"

	"github.com/BaSui01/knowflow/types"
	"github.com/BaSui01/knowflow/workflow/expr"
)

// ValidationKind 结构校验失败类别
type ValidationKind string

const (
	InvalidEmptyGraph       ValidationKind = "empty_graph"
	InvalidDuplicateNode    ValidationKind = "duplicate_node"
	InvalidEmptyNodeID      ValidationKind = "empty_node_id"
	InvalidUnknownKind      ValidationKind = "unknown_kind"
	InvalidUnknownNode      ValidationKind = "unknown_node"
	InvalidDuplicateEdge    ValidationKind = "duplicate_edge"
	InvalidUnknownEntry     ValidationKind = "unknown_entry"
	InvalidCycle            ValidationKind = "cycle"
	InvalidOrphanNode       ValidationKind = "orphan_node"
	InvalidEntryHasIncoming ValidationKind = "entry_has_incoming"
	InvalidConditionFanout  ValidationKind = "condition_fanout"
	InvalidMultipleDefaults ValidationKind = "multiple_defaults"
	InvalidGuardNotAllowed  ValidationKind = "guard_not_allowed"
	InvalidGuard            ValidationKind = "invalid_guard"
)

// ValidationError 描述第一个被发现的结构违规。
type ValidationError struct {
	Kind    ValidationKind `json:"kind"`
	NodeID  string         `json:"node_id,omitempty"`
	EdgeID  string         `json:"edge_id,omitempty"`
	Message string         `json:"message,omitempty"`
}

func (e *ValidationError) Error() string {
	switch {
	case e.NodeID != "" && e.EdgeID != "":
		return fmt.Sprintf("workflow validation failed: %s (node %q, edge %q): %s", e.Kind, e.NodeID, e.EdgeID, e.Message)
	case e.EdgeID != "":
		return fmt.Sprintf("workflow validation failed: %s (edge %q): %s", e.Kind, e.EdgeID, e.Message)
	case e.NodeID != "":
		return fmt.Sprintf("workflow validation failed: %s (node %q): %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("workflow validation failed: %s: %s", e.Kind, e.Message)
}

// AsTypesError converts the validation failure into a VALIDATION-classed types.Error.
func (e *ValidationError) AsTypesError() *types.Error {
	return types.NewValidationError(e.Error()).
		WithNodeID(e.NodeID).
		WithCause(e)
}

func invalid(kind ValidationKind, nodeID, edgeID, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, NodeID: nodeID, EdgeID: edgeID, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the definition and returns the first violation found, or nil.
// Checks run in a fixed order: node identity, edge references, acyclicity,
// connectivity, then CONDITION fan-out and guards.
func Validate(def *Definition) error {
	if _, err := analyze(def); err != nil {
		return err
	}
	return nil
}

// analysis 是校验过程中得到的中间结构，Compile 直接复用。
type analysis struct {
	index    map[string]int
	entries  []int
	outgoing [][]int
	incoming [][]int
	topo     []int
}

func analyze(def *Definition) (*analysis, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, invalid(InvalidEmptyGraph, "", "", "definition has no nodes")
	}

	// (a) 节点
	a := &analysis{index: make(map[string]int, len(def.Nodes))}
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			return nil, invalid(InvalidEmptyNodeID, "", "", "node at position %d has an empty id", i)
		}
		if _, dup := a.index[n.ID]; dup {
			return nil, invalid(InvalidDuplicateNode, n.ID, "", "node id declared more than once")
		}
		if !n.Kind.Known() {
			return nil, invalid(InvalidUnknownKind, n.ID, "", "unknown node kind %q", n.Kind)
		}
		a.index[n.ID] = i
	}

	// (b) 边与入口
	a.outgoing = make([][]int, len(def.Nodes))
	a.incoming = make([][]int, len(def.Nodes))
	edgeIDs := make(map[string]struct{}, len(def.Edges))
	for i := range def.Edges {
		e := &def.Edges[i]
		id := e.EdgeID()
		src, ok := a.index[e.Source]
		if !ok {
			return nil, invalid(InvalidUnknownNode, e.Source, id, "edge source does not exist")
		}
		dst, ok := a.index[e.Target]
		if !ok {
			return nil, invalid(InvalidUnknownNode, e.Target, id, "edge target does not exist")
		}
		if _, dup := edgeIDs[id]; dup {
			return nil, invalid(InvalidDuplicateEdge, "", id, "edge id declared more than once")
		}
		edgeIDs[id] = struct{}{}
		a.outgoing[src] = append(a.outgoing[src], i)
		a.incoming[dst] = append(a.incoming[dst], i)
	}

	if len(def.Entries) > 0 {
		seen := make(map[int]struct{}, len(def.Entries))
		for _, id := range def.Entries {
			idx, ok := a.index[id]
			if !ok {
				return nil, invalid(InvalidUnknownEntry, id, "", "declared entry does not exist")
			}
			if _, dup := seen[idx]; dup {
				continue
			}
			seen[idx] = struct{}{}
			a.entries = append(a.entries, idx)
		}
	} else {
		for i := range def.Nodes {
			if len(a.incoming[i]) == 0 {
				a.entries = append(a.entries, i)
			}
		}
	}

	// (c) Kahn 拓扑排序检测环
	indeg := make([]int, len(def.Nodes))
	for i := range def.Nodes {
		indeg[i] = len(a.incoming[i])
	}
	queue := make([]int, 0, len(def.Nodes))
	for i := range def.Nodes {
		if indeg[i] == 0 {
			queue = append(queue, i)
		}
	}
	a.topo = make([]int, 0, len(def.Nodes))
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		a.topo = append(a.topo, n)
		for _, ei := range a.outgoing[n] {
			t := a.index[def.Edges[ei].Target]
			indeg[t]--
			if indeg[t] == 0 {
				queue = append(queue, t)
			}
		}
	}
	if len(a.topo) != len(def.Nodes) {
		for i := range def.Nodes {
			if indeg[i] > 0 {
				return nil, invalid(InvalidCycle, def.Nodes[i].ID, "", "node is part of or downstream of a cycle")
			}
		}
	}

	// (d) 连通性：入口无入边，非入口至少一条入边。结合 (c) 的无环，全部节点均可从入口到达
	isEntry := make([]bool, len(def.Nodes))
	for _, idx := range a.entries {
		isEntry[idx] = true
	}
	for i := range def.Nodes {
		if isEntry[i] && len(a.incoming[i]) > 0 {
			return nil, invalid(InvalidEntryHasIncoming, def.Nodes[i].ID, def.Edges[a.incoming[i][0]].EdgeID(), "entry node has an incoming edge")
		}
		if !isEntry[i] && len(a.incoming[i]) == 0 {
			return nil, invalid(InvalidOrphanNode, def.Nodes[i].ID, "", "node has no incoming edge and is not an entry")
		}
	}

	// (e) CONDITION 扇出与 guard
	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.Kind != KindCondition {
			for _, ei := range a.outgoing[i] {
				if !def.Edges[ei].IsDefault() {
					return nil, invalid(InvalidGuardNotAllowed, n.ID, def.Edges[ei].EdgeID(), "guards are only allowed on edges leaving a condition node")
				}
			}
			continue
		}
		if len(a.outgoing[i]) < 2 {
			return nil, invalid(InvalidConditionFanout, n.ID, "", "condition node needs at least 2 outgoing edges, has %d", len(a.outgoing[i]))
		}
		defaults := 0
		for _, ei := range a.outgoing[i] {
			e := &def.Edges[ei]
			if e.IsDefault() {
				defaults++
				if defaults > 1 {
					return nil, invalid(InvalidMultipleDefaults, n.ID, e.EdgeID(), "condition node has more than one default edge")
				}
				continue
			}
			if _, err := expr.Compile(e.Guard); err != nil {
				return nil, invalid(InvalidGuard, n.ID, e.EdgeID(), "%v", err)
			}
		}
	}

	return a, nil
}
