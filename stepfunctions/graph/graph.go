// Package graph turns a parsed state machine definition into a flat graph of
// nodes and typed edges. Nested scopes (Parallel branches and Map iterators)
// are flattened into the same id space as the top-level states.
package graph

import "stepfunction-inspector/stepfunctions/asl"

// EdgeKind describes why one state leads to another.
type EdgeKind string

const (
	EdgeNext     EdgeKind = "next"
	EdgeChoice   EdgeKind = "choice"
	EdgeDefault  EdgeKind = "default"
	EdgeBranch   EdgeKind = "branch"
	EdgeJoin     EdgeKind = "join"
	EdgeIterator EdgeKind = "iterator"
)

// Node is one state. Resource fields are only set for Task states whose
// resource was resolved to a concrete function or container task.
type Node struct {
	ID           string        `json:"id"`
	Label        string        `json:"label"`
	Type         asl.StateType `json:"type,omitempty"`
	Resource     string        `json:"resource,omitempty"`
	ResourceKind string        `json:"resourceType,omitempty"`
	ResourceLink string        `json:"resourceUrl,omitempty"`
	LaunchType   string        `json:"launchType,omitempty"`
}

// IsTask reports whether the node is bound to an external compute resource.
func (n Node) IsTask() bool {
	return n.Resource != "" && n.ResourceKind != ""
}

// Edge identity is the (From, To, Kind) triple.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"type"`
}

type Graph struct {
	StartAt string `json:"startAt,omitempty"`
	Nodes   []Node `json:"nodes"`
	Edges   []Edge `json:"edges"`
	Error   string `json:"error,omitempty"`
}

// Empty returns a graph with non-nil, empty collections.
func Empty() Graph {
	return Graph{Nodes: []Node{}, Edges: []Edge{}}
}

// Node returns the node with the given id.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// TaskNodes returns the nodes bound to an external resource, in node order.
func (g Graph) TaskNodes() []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.IsTask() {
			out = append(out, n)
		}
	}
	return out
}

// EdgesFrom returns the edges leaving id, in emission order.
func (g Graph) EdgesFrom(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// fragment is the node and edge set of one scope. Fragments merge by set
// union keyed on node id and edge identity.
type fragment struct {
	nodes    []Node
	index    map[string]int
	edges    []Edge
	edgeKeys map[Edge]struct{}
}

func newFragment() *fragment {
	return &fragment{
		index:    map[string]int{},
		edgeKeys: map[Edge]struct{}{},
	}
}

func (f *fragment) addNode(n Node) {
	if n.ID == "" {
		return
	}
	if _, ok := f.index[n.ID]; ok {
		return
	}
	f.index[n.ID] = len(f.nodes)
	f.nodes = append(f.nodes, n)
}

func (f *fragment) addEdge(from, to string, kind EdgeKind) {
	if from == "" || to == "" {
		return
	}
	e := Edge{From: from, To: to, Kind: kind}
	if _, ok := f.edgeKeys[e]; ok {
		return
	}
	f.edgeKeys[e] = struct{}{}
	f.edges = append(f.edges, e)
}

func (f *fragment) merge(other *fragment) {
	for _, n := range other.nodes {
		f.addNode(n)
	}
	for _, e := range other.edges {
		f.addEdge(e.From, e.To, e.Kind)
	}
}
