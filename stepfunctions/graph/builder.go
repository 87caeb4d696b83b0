package graph

import "stepfunction-inspector/stepfunctions/asl"

// Build compiles a definition into a graph. Building the same definition
// twice yields the same nodes and edges in the same order.
//
// resolver may be nil, in which case no Task node carries resource fields.
func Build(def asl.Definition, resolver Resolver) Graph {
	b := builder{resolver: resolver}
	f, _ := b.scope(def)

	g := Graph{
		StartAt: def.StartAt,
		Nodes:   f.nodes,
		Edges:   make([]Edge, 0, len(f.edges)),
	}
	if g.Nodes == nil {
		g.Nodes = []Node{}
	}
	// Next/Default may name states that do not exist.
	for _, e := range f.edges {
		if _, ok := f.index[e.From]; !ok {
			continue
		}
		if _, ok := f.index[e.To]; !ok {
			continue
		}
		g.Edges = append(g.Edges, e)
	}
	return g
}

// Terminals returns the terminal states of a scope without building edges.
func Terminals(def asl.Definition) []string {
	b := builder{}
	_, terminals := b.scope(def)
	return terminals
}

type builder struct {
	resolver Resolver
}

// scope builds the fragment of one scope and returns it with the scope's
// terminal states.
func (b builder) scope(def asl.Definition) (*fragment, []string) {
	f := newFragment()
	for _, st := range def.States {
		f.addNode(b.node(st))
	}

	var terminals terminalSet
	for _, st := range def.States {
		switch spec := st.Spec.(type) {
		case asl.Choice:
			for _, rule := range spec.Rules {
				f.addEdge(st.Name, rule.Next, EdgeChoice)
			}
			f.addEdge(st.Name, spec.Default, EdgeDefault)
		case asl.Parallel:
			var nested terminalSet
			for _, branch := range spec.Branches {
				if !branch.Valid() {
					continue
				}
				sub, subTerminals := b.scope(branch.Definition)
				f.addEdge(st.Name, branch.Definition.StartAt, EdgeBranch)
				f.merge(sub)
				nested.add(subTerminals...)
			}
			b.join(f, st, nested, EdgeJoin)
			terminals.addDelegated(st, nested)
		case asl.Map:
			var nested terminalSet
			if spec.Iterator.Valid() {
				sub, subTerminals := b.scope(spec.Iterator.Definition)
				f.addEdge(st.Name, spec.Iterator.Definition.StartAt, EdgeIterator)
				f.merge(sub)
				nested.add(subTerminals...)
			}
			b.join(f, st, nested, EdgeNext)
			terminals.addDelegated(st, nested)
		case asl.Task, asl.Pass, asl.Wait, asl.Succeed, asl.Fail, asl.Unknown, nil:
			f.addEdge(st.Name, st.Next, EdgeNext)
			if isTerminal(st) {
				terminals.add(st.Name)
			}
		}
	}
	return f, terminals.names
}

// join wires the terminals of a Parallel or Map state's nested scopes to the
// state's successor. With no nested terminals the state itself is the
// source, so the successor stays reachable.
func (b builder) join(f *fragment, st asl.State, nested terminalSet, kind EdgeKind) {
	if !st.HasSuccessor() {
		return
	}
	if len(nested.names) == 0 {
		f.addEdge(st.Name, st.Next, EdgeNext)
		return
	}
	for _, terminal := range nested.names {
		f.addEdge(terminal, st.Next, kind)
	}
}

func (b builder) node(st asl.State) Node {
	n := Node{ID: st.Name, Label: st.Name, Type: st.Type()}
	task, ok := st.Spec.(asl.Task)
	if !ok {
		return n
	}
	res, err := ResolveTask(b.resolver, task)
	if err != nil {
		return n
	}
	n.Resource = res.ID
	n.ResourceKind = res.Kind
	n.ResourceLink = res.Link
	n.LaunchType = res.LaunchType
	return n
}

func isTerminal(st asl.State) bool {
	return st.End || !st.HasSuccessor()
}

// terminalSet keeps terminal names unique and in discovery order.
type terminalSet struct {
	names []string
	seen  map[string]struct{}
}

func (t *terminalSet) add(names ...string) {
	if t.seen == nil {
		t.seen = map[string]struct{}{}
	}
	for _, name := range names {
		if _, ok := t.seen[name]; ok {
			continue
		}
		t.seen[name] = struct{}{}
		t.names = append(t.names, name)
	}
}

// addDelegated records a Parallel or Map state that ends its scope. Its
// nested terminals stand in for it when there are any.
func (t *terminalSet) addDelegated(st asl.State, nested terminalSet) {
	if !isTerminal(st) {
		return
	}
	if len(nested.names) > 0 {
		t.add(nested.names...)
		return
	}
	t.add(st.Name)
}
