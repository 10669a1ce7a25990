package graph

import "fmt"

// State is the global node interner and edge arena: the sole owner of
// every Node and Edge for one build, keyed by canonical path so node
// equality is pointer equality.
type State struct {
	paths    map[string]*Node
	pools    map[string]*Pool
	edges    []*Edge
	bindings *BindingEnv
	defaults []*Node
}

func NewState() *State {
	s := &State{
		paths:    map[string]*Node{},
		pools:    map[string]*Pool{},
		bindings: NewBindingEnv(nil),
	}
	s.bindings.AddRule(PhonyRule)
	s.AddPool(DefaultPool)
	s.AddPool(ConsolePool)
	return s
}

func (s *State) Bindings() *BindingEnv { return s.bindings }
func (s *State) Edges() []*Edge        { return s.edges }

func (s *State) AddPool(p *Pool) {
	if _, exists := s.pools[p.Name()]; exists {
		panic("pool already registered: " + p.Name())
	}
	s.pools[p.Name()] = p
}

func (s *State) LookupPool(name string) *Pool { return s.pools[name] }

// AddEdge creates a new edge bound to rule, the default pool and the
// state's root scope, and appends it to the arena with a stable id used
// to order the plan's ready set deterministically.
func (s *State) AddEdge(rule *Rule) *Edge {
	e := NewEdge(rule, DefaultPool, s.bindings)
	e.ID = len(s.edges)
	s.edges = append(s.edges, e)
	return e
}

// GetNode interns path, creating a new Node the first time it is seen.
func (s *State) GetNode(path string, slashBits uint64) *Node {
	if n, ok := s.paths[path]; ok {
		return n
	}
	n := NewNode(path, slashBits)
	s.paths[path] = n
	return n
}

func (s *State) LookupNode(path string) *Node { return s.paths[path] }

// AddIn appends path as an explicit input of e, interning it and
// recording e as one of its out-edges.
func (s *State) AddIn(e *Edge, path string, slashBits uint64) {
	n := s.GetNode(path, slashBits)
	e.Inputs = append(e.Inputs, n)
	n.AddOutEdge(e)
}

// AddOut appends path as an explicit output of e. It is an error for
// two edges (or the same edge twice) to declare the same output.
func (s *State) AddOut(e *Edge, path string, slashBits uint64) error {
	n := s.GetNode(path, slashBits)
	if other := n.InEdge(); other != nil {
		if other == e {
			return fmt.Errorf("%s is defined as an output multiple times", path)
		}
		return fmt.Errorf("multiple rules generate %s", path)
	}
	e.Outputs = append(e.Outputs, n)
	n.SetInEdge(e)
	return nil
}

func (s *State) AddDefault(path string) error {
	n := s.LookupNode(path)
	if n == nil {
		return fmt.Errorf("unknown target '%s'", path)
	}
	s.defaults = append(s.defaults, n)
	return nil
}

// RootNodes returns every node with no out-edges, used when the caller
// requests a build with no explicit targets.
func (s *State) RootNodes() ([]*Node, error) {
	var roots []*Node
	for _, e := range s.edges {
		for _, o := range e.Outputs {
			if len(o.OutEdges()) == 0 {
				roots = append(roots, o)
			}
		}
	}
	if len(s.edges) != 0 && len(roots) == 0 {
		return nil, fmt.Errorf("could not determine root nodes of build graph")
	}
	return roots, nil
}

func (s *State) DefaultNodes() ([]*Node, error) {
	if len(s.defaults) == 0 {
		return s.RootNodes()
	}
	return s.defaults, nil
}

// Reset clears every node and edge's scan-time state so the same State
// can be reused across Build() calls without reconstructing the graph.
func (s *State) Reset() {
	for _, n := range s.paths {
		n.ResetState()
	}
	for _, e := range s.edges {
		e.OutputsReady = false
		e.DepsLoaded = false
		e.Mark = Unvisited
	}
}
