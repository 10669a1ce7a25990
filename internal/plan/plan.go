// Package plan tracks which edges still need to run to satisfy a set
// of requested targets and hands the builder loop edges in the order
// they become ready to run.
package plan

import (
	"fmt"

	"github.com/ahrtr/gocontainer/queue/priorityqueue"

	"buildcore/internal/clock"
	"buildcore/internal/graph"
	"buildcore/internal/scan"
)

// Want records an edge's status relative to the plan: Nothing means
// the plan doesn't need it at all, ToStart means it hasn't been
// scheduled yet, ToFinish means it is either in the ready queue or one
// of its pool's delay queues.
type Want int8

const (
	WantNothing Want = iota
	WantToStart
	WantToFinish
)

// edgeCmp orders the ready queue by edge identity (the order edges were
// added to the owning State), giving FindWork a deterministic,
// manifest-order-stable result independent of map iteration order.
type edgeCmp struct{}

func (edgeCmp) Compare(a, b interface{}) (int, error) {
	ea, eb := a.(*graph.Edge), b.(*graph.Edge)
	switch {
	case ea.ID < eb.ID:
		return -1, nil
	case ea.ID > eb.ID:
		return 1, nil
	default:
		return 0, nil
	}
}

// readyQueue is the slice of gocontainer's queue.Queue interface the
// plan actually calls; kept local so this file doesn't need to name
// the exact concrete type priorityqueue.New returns.
type readyQueue interface {
	Add(vals ...interface{})
	Poll() interface{}
	IsEmpty() bool
	Size() int
	Clear()
}

// Plan is the Plan collaborator: AddTarget walks back from a requested
// node through producing edges, marking every edge on the path wanted;
// scheduleInitial/FindWork/EdgeFinished drive edges from WantToStart
// through the ready queue to WantToFinish and back out to Nothing once
// their command has completed.
type Plan struct {
	want  map[*graph.Edge]Want
	ready readyQueue

	wantedEdgeCount int
}

func New() *Plan {
	return &Plan{
		want:  map[*graph.Edge]Want{},
		ready: priorityqueue.New().WithComparator(edgeCmp{}),
	}
}

// Add satisfies graph.ReadyQueue so a Pool can push a freed delayed
// edge directly into this plan's ready set.
func (p *Plan) Add(e *graph.Edge) { p.ready.Add(e) }

func (p *Plan) More() bool { return p.wantedEdgeCount > 0 }

// AddTarget marks target, and every edge needed to produce it, wanted.
// A target whose producing edge already has its outputs ready, or a
// clean target with no producing edge, contributes nothing to the plan.
func (p *Plan) AddTarget(target *graph.Node) error {
	return p.addSubTarget(target, nil)
}

func (p *Plan) addSubTarget(node *graph.Node, dependent *graph.Node) error {
	e := node.InEdge()
	if e == nil {
		if node.Dirty() {
			msg := fmt.Sprintf("'%s' missing and no known rule to make it", node.Path())
			if dependent != nil {
				msg += fmt.Sprintf(" (needed by '%s')", dependent.Path())
			}
			return fmt.Errorf("%s", msg)
		}
		return nil
	}
	if e.OutputsReady {
		return nil
	}

	if want, ok := p.want[e]; ok {
		if want == WantNothing && (node.Dirty() || !e.OutputsReady) {
			p.want[e] = WantToStart
			p.wantedEdgeCount++
			p.scheduleInitial(e)
		}
		return nil
	}

	want := WantNothing
	if node.Dirty() {
		want = WantToStart
	}
	p.want[e] = want
	if want == WantToStart {
		p.wantedEdgeCount++
	}

	for _, in := range e.Inputs {
		if err := p.addSubTarget(in, node); err != nil {
			return err
		}
	}
	if want == WantToStart {
		p.scheduleInitial(e)
	}
	return nil
}

// scheduleInitial pushes an edge that has no unfinished dependency into
// the ready queue (or its pool's delay queue) the moment it is first
// marked wanted; edges that still depend on other wanted edges are
// pushed later by EdgeFinished.
func (p *Plan) scheduleInitial(e *graph.Edge) {
	if !e.AllInputsReady() {
		return
	}
	p.want[e] = WantToFinish
	if e.Pool.ShouldDelayEdge() {
		e.Pool.DelayEdge(e)
	} else {
		e.Pool.EdgeScheduled(e)
		p.ready.Add(e)
	}
}

// FindWork pops the next ready edge, or nil if nothing is ready right
// now (the caller should wait for a running command to finish).
func (p *Plan) FindWork() *graph.Edge {
	if p.ready.IsEmpty() {
		return nil
	}
	return p.ready.Poll().(*graph.Edge)
}

// EdgeFinished records the outcome of a command and, on success,
// walks every edge that consumes one of e's outputs to see whether it
// has newly become ready.
func (p *Plan) EdgeFinished(e *graph.Edge, success bool) {
	want := p.want[e]
	delete(p.want, e)
	e.Pool.EdgeFinished(e)
	if want == WantToFinish {
		p.wantedEdgeCount--
	}

	if !success {
		return
	}
	e.OutputsReady = true
	e.Pool.RetrieveReadyEdges(p)
	for _, out := range e.Outputs {
		p.nodeFinished(out)
	}
}

// nodeFinished notifies every out-edge of a just-produced node that one
// more of its inputs is ready, scheduling it if that was the last one.
func (p *Plan) nodeFinished(n *graph.Node) {
	for _, oe := range n.OutEdges() {
		if p.want[oe] != WantToStart {
			continue
		}
		if oe.AllInputsReady() {
			p.scheduleInitial(oe)
		}
	}
}

// CleanNode marks n clean and walks n's wanted out-edges: an edge whose
// non-order-only inputs are now all clean, and whose outputs the
// scanner still finds up to date, is no longer wanted and its outputs
// are cleaned in turn (the restat fixpoint case: an edge ran but its
// output's mtime didn't change, so nothing downstream needs rebuilding).
// It re-asks the scanner's own output-dirty decision (command hash,
// build-log mtime, and so on) rather than inferring cleanliness purely
// from input dirty bits, since those are the only other ways an edge
// can still be dirty even once every one of its non-order-only inputs
// looks clean.
func (p *Plan) CleanNode(s *scan.Scanner, n *graph.Node) error {
	n.SetDirty(false)
	for _, oe := range n.OutEdges() {
		if p.want[oe] == WantNothing {
			continue
		}
		// Deps that failed to load force a rebuild regardless; don't
		// second-guess that with a dirty recomputation.
		if oe.DepsMissing {
			continue
		}
		// Phony edges are left wanted: they run no command and finish
		// as soon as they are scheduled.
		if oe.IsPhony() {
			continue
		}

		nonOrderOnly := oe.Inputs[:len(oe.Inputs)-oe.OrderOnlyDeps]
		allClean := true
		mostRecentInput := clock.TimeStamp(clock.Missing)
		for _, in := range nonOrderOnly {
			if in.Dirty() {
				allClean = false
				break
			}
			if in.Mtime() > mostRecentInput {
				mostRecentInput = in.Mtime()
			}
		}
		if !allClean {
			continue
		}

		outputsDirty, err := s.RecomputeOutputsDirty(oe, mostRecentInput, false)
		if err != nil {
			return err
		}
		if outputsDirty {
			continue
		}

		for _, out := range oe.Outputs {
			if err := p.CleanNode(s, out); err != nil {
				return err
			}
		}
		p.want[oe] = WantNothing
		p.wantedEdgeCount--
		oe.OutputsReady = true
	}
	return nil
}

// CommandEdgeCount returns the number of non-phony edges this plan
// still intends to run, the invariant the builder's progress reporting
// is checked against.
func (p *Plan) CommandEdgeCount() int {
	n := 0
	for e, w := range p.want {
		if w != WantNothing && !e.IsPhony() {
			n++
		}
	}
	return n
}
