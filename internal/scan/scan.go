// Package scan computes, for a requested set of root nodes, which
// build edges are dirty (must run) and which are already up to date.
// It owns the graph's two collaborators that sit outside the pure
// in-memory model: the filesystem (via disk.Interface) and the
// persisted build log (via the BuildLog interface below, kept narrow
// so this package never imports buildlog directly and stays free to
// be driven from tests with a fake).
package scan

import (
	"strings"

	"buildcore/internal/clock"
	"buildcore/internal/cmdhash"
	"buildcore/internal/disk"
	"buildcore/internal/explain"
	"buildcore/internal/graph"
)

// BuildLogEntry is the slice of a recorded build-log row the dirty
// check needs: the hash of the command that last produced the output,
// and the mtime the output had right after that command ran.
type BuildLogEntry struct {
	CommandHash uint64
	Mtime       clock.TimeStamp
}

// BuildLog is the narrow read surface RecomputeOutputsDirty needs.
type BuildLog interface {
	LookupByOutput(path string) *BuildLogEntry
}

// Scanner is the DependencyScan collaborator: it walks the graph from a
// set of requested roots, fills in every visited node's dirty bit and
// every visited edge's OutputsReady bit, and reports the first
// dependency cycle it finds.
type Scanner struct {
	State    *graph.State
	Disk     disk.Interface
	BuildLog BuildLog
	Loader   *ImplicitDepLoader
	Explain  *explain.Explanations

	stack []*graph.Node
}

func New(state *graph.State, d disk.Interface, buildLog BuildLog, loader *ImplicitDepLoader) *Scanner {
	return &Scanner{State: state, Disk: d, BuildLog: buildLog, Loader: loader}
}

// RecomputeDirty computes dirty state for every node reachable from
// roots via in-edges, first collecting the full transitive closure
// once and running two parallel fan-outs over it -- stat every node,
// and compute every edge's DepScanInfo -- and then a serial DFS that
// fills in dirty bits and detects cycles. Calling it twice for
// overlapping root sets is safe: edges already marked Done are never
// revisited.
func (s *Scanner) RecomputeDirty(roots []*graph.Node) error {
	nodes, edges, err := s.collectReachable(roots)
	if err != nil {
		return err
	}
	if err := s.preStatFanOut(nodes); err != nil {
		return err
	}
	s.PrecomputeScanInfo(edges)
	for _, n := range roots {
		if err := s.recomputeNodeDirty(n); err != nil {
			return err
		}
	}
	for _, n := range nodes {
		n.ClearPrecomputed()
	}
	return nil
}

// preStatFanOut stats every node in all, concurrently when the disk
// implementation advertises it is safe to call from multiple
// goroutines. This phase never touches the graph's dirty bits; it
// only primes Node.precomputedMtime so the serial DFS phase that
// follows never blocks on I/O.
func (s *Scanner) preStatFanOut(all []*graph.Node) error {
	if !s.Disk.StatThreadSafe() {
		for _, n := range all {
			if err := statOne(s.Disk, n); err != nil {
				return err
			}
		}
		return nil
	}

	type result struct {
		err error
	}
	results := make(chan result, len(all))
	for _, n := range all {
		n := n
		go func() {
			results <- result{err: statOne(s.Disk, n)}
		}()
	}
	var firstErr error
	for range all {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	return firstErr
}

func statOne(d disk.Interface, n *graph.Node) error {
	var mtime clock.TimeStamp
	var err error
	if n.InEdge() != nil {
		mtime, _, err = d.LStat(n.Path())
	} else {
		mtime, err = d.Stat(n.Path())
	}
	if err != nil {
		return err
	}
	n.SetPrecomputedMtime(mtime)
	return nil
}

// collectReachable walks in-edges from roots and returns every node
// and edge touched, each exactly once, in discovery order. It also
// widens the node closure with every node the deps log records as an
// (already recorded, not yet officially loaded) implicit input of any
// visited node, so the two precompute fan-outs prime those nodes'
// mtimes too instead of only whatever the manifest's in-edges reach.
func (s *Scanner) collectReachable(roots []*graph.Node) ([]*graph.Node, []*graph.Edge, error) {
	seenNodes := map[*graph.Node]bool{}
	seenEdges := map[*graph.Edge]bool{}
	var nodes []*graph.Node
	var edges []*graph.Edge
	var firstErr error
	var visit func(n *graph.Node)
	visit = func(n *graph.Node) {
		if seenNodes[n] {
			return
		}
		seenNodes[n] = true
		nodes = append(nodes, n)
		if e := n.InEdge(); e != nil {
			if !seenEdges[e] {
				seenEdges[e] = true
				edges = append(edges, e)
			}
			for _, in := range e.Inputs {
				visit(in)
			}
		}
		if s.Loader != nil && s.Loader.DepsLog != nil {
			deps, err := s.Loader.DepsLog.GetDeps(n.Path())
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if deps != nil {
				for _, path := range deps.Nodes {
					visit(s.State.GetNode(path, 0))
				}
			}
		}
	}
	for _, r := range roots {
		visit(r)
	}
	return nodes, edges, firstErr
}

// CycleError reports a dependency cycle as the chain of node paths that
// closes it, "a -> b -> ... -> a", matching the diagnostic format the
// rest of the toolchain's error output expects.
type CycleError struct {
	Cycle []string
	Hint  string
}

func (c *CycleError) Error() string {
	msg := "dependency cycle: " + strings.Join(c.Cycle, " -> ")
	if c.Hint != "" {
		msg += " [" + c.Hint + "]"
	}
	return msg
}

// recomputeNodeDirty is the per-node step of the scanner's serial DFS.
// A node with no in-edge is a source file: it is stat'ed once and
// marked dirty exactly when it's missing, matching spec's leaf rule.
func (s *Scanner) recomputeNodeDirty(n *graph.Node) error {
	e := n.InEdge()
	if e == nil {
		if err := n.StatIfNecessary(s.Disk); err != nil {
			return err
		}
		n.SetDirty(!n.Exists())
		return nil
	}
	if e.Mark == graph.Done {
		return nil
	}
	if err := s.verifyDAG(n, e); err != nil {
		return err
	}

	e.Mark = graph.InStack
	s.stack = append(s.stack, n)

	e.OutputsReady = true
	e.DepsMissing = false

	// Spec's literal main-pass ordering: stat the outputs first (the
	// deps-log staleness check LoadDeps performs needs their mtime),
	// then call the dep-loader, then recurse into inputs.
	for _, out := range e.Outputs {
		if err := out.StatIfNecessary(s.Disk); err != nil {
			return err
		}
	}

	if s.Loader != nil {
		found, err := s.Loader.LoadDeps(e)
		if err != nil {
			return err
		}
		e.DepsLoaded = found
		if !found && e.ScanInfo(s.fillScanInfo).Deps != "" {
			e.DepsMissing = true
		}
	}

	mostRecentInput := clock.TimeStamp(clock.Missing)
	dirty := false
	for _, in := range e.Inputs {
		if err := s.recomputeNodeDirty(in); err != nil {
			return err
		}
		if in.InEdge() != nil && !in.InEdge().OutputsReady {
			dirty = true
		}
		if in.Dirty() {
			dirty = true
		}
		if in.Mtime() > mostRecentInput {
			mostRecentInput = in.Mtime()
		}
	}
	if e.DepsMissing {
		dirty = true
	}

	s.stack = s.stack[:len(s.stack)-1]
	e.Mark = graph.Done

	outDirty, err := s.RecomputeOutputsDirty(e, mostRecentInput, dirty)
	if err != nil {
		return err
	}
	if outDirty {
		e.OutputsReady = false
		for _, out := range e.Outputs {
			out.SetDirty(true)
		}
	}
	return nil
}

// verifyDAG pushes n's in-edge onto the DFS stack, returning a
// CycleError the instant an edge already InStack is revisited -- the
// classic three-color DFS cycle test, with an extra hint for the
// single-output self-referencing phony shape some manifest generators
// emit by mistake.
func (s *Scanner) verifyDAG(n *graph.Node, e *graph.Edge) error {
	if e.Mark != graph.InStack {
		return nil
	}
	start := 0
	for start < len(s.stack)-1 && s.stack[start].InEdge() != e {
		start++
	}
	// The cycle starts at n itself rather than at whichever output of
	// the same edge was pushed first, so the reported chain closes.
	cyclePath := make([]string, 0, len(s.stack)-start+1)
	cyclePath = append(cyclePath, n.Path())
	for _, stacked := range s.stack[start+1:] {
		cyclePath = append(cyclePath, stacked.Path())
	}
	cyclePath = append(cyclePath, n.Path())
	hint := ""
	if start == len(s.stack)-1 && e.MaybePhonycycleDiagnostic() {
		hint = "possible phonycycle: use \"build output: phony\" instead of self-referencing rule"
	}
	return &CycleError{Cycle: cyclePath, Hint: hint}
}

// RecomputeOutputsDirty decides whether e's outputs are stale, checked
// output by output and short-circuited on the first dirty one -- a
// multi-output restat edge can have one output's build-log entry hit
// while another's misses, so the decision can't be made from an
// aggregate across all outputs. It never consults file content -- only
// mtimes and the command hash -- per this engine's explicit choice not
// to content-hash build outputs.
func (s *Scanner) RecomputeOutputsDirty(e *graph.Edge, mostRecentInput clock.TimeStamp, inputsDirty bool) (bool, error) {
	if inputsDirty {
		return true, nil
	}
	for _, out := range e.Outputs {
		if s.recomputeOutputDirty(e, mostRecentInput, out) {
			return true, nil
		}
	}
	return false, nil
}

// recomputeOutputDirty is RecomputeOutputsDirty's per-output decision.
func (s *Scanner) recomputeOutputDirty(e *graph.Edge, mostRecentInput clock.TimeStamp, out *graph.Node) bool {
	if e.IsPhony() {
		// Phony edges write no output; an output is only dirty if
		// there are no inputs and the output file itself is missing.
		if len(e.Inputs) == 0 && !out.Exists() && !out.GeneratedByDepLoader() {
			s.Explain.Record(e, "output %s of phony edge with no inputs doesn't exist", out.Path())
			return true
		}
		return false
	}

	if !out.Exists() {
		s.Explain.Record(e, "output %s doesn't exist", out.Path())
		return true
	}

	info := e.ScanInfo(s.fillScanInfo)
	var entry *BuildLogEntry

	if mostRecentInput != clock.Missing {
		outputMtime := out.Mtime()
		usedRestat := false
		// A previous restat run may have left this output's on-disk
		// mtime behind while recording the input mtime it was clean
		// against in the build log; substitute that recorded mtime
		// for this one comparison so a restat edge isn't rebuilt just
		// because its own output's mtime never moves.
		if info.Restat && s.BuildLog != nil {
			if e2 := s.BuildLog.LookupByOutput(out.Path()); e2 != nil {
				entry = e2
				outputMtime = e2.Mtime
				usedRestat = true
			}
		}
		if outputMtime < mostRecentInput {
			if usedRestat {
				s.Explain.Record(e, "restat of output %s older than most recent input", out.Path())
			} else {
				s.Explain.Record(e, "output %s older than most recent input", out.Path())
			}
			return true
		}
	}

	if s.BuildLog != nil {
		if entry == nil {
			entry = s.BuildLog.LookupByOutput(out.Path())
		}
		if entry != nil {
			if !info.Generator && entry.CommandHash != info.CommandHash {
				s.Explain.Record(e, "command line changed for %s", out.Path())
				return true
			}
			if mostRecentInput != clock.Missing && entry.Mtime < mostRecentInput {
				s.Explain.Record(e, "recorded mtime of %s older than most recent input", out.Path())
				return true
			}
		} else if !info.Generator {
			s.Explain.Record(e, "command line not found in log for %s", out.Path())
			return true
		}
	}

	return false
}

// fillScanInfo computes the manifest-derived facts an edge's
// DepScanInfo caches: whether it restats or generates, which deps
// style it declares, its depfile path, and the hash of its fully
// evaluated command line. Shared by the lazy ScanInfo path and the
// parallel precompute fan-out a caller may run ahead of RecomputeDirty.
func (s *Scanner) fillScanInfo(e *graph.Edge) graph.DepScanInfo {
	return graph.DepScanInfo{
		Restat:      e.GetBindingBool("restat"),
		Generator:   e.GetBindingBool("generator"),
		Deps:        e.GetBinding("deps"),
		Depfile:     e.GetUnescapedDepfile(),
		CommandHash: cmdhash.HashCommand(e.EvaluateCommand(true)),
	}
}

// PrecomputeScanInfo fills every edge's DepScanInfo concurrently ahead
// of RecomputeDirty, so the serial DFS phase that follows never blocks
// evaluating bindings. Safe to skip; RecomputeDirty computes any info
// it still finds missing lazily.
func (s *Scanner) PrecomputeScanInfo(edges []*graph.Edge) {
	type job struct {
		e    *graph.Edge
		info graph.DepScanInfo
	}
	results := make(chan job, len(edges))
	for _, e := range edges {
		e := e
		go func() {
			results <- job{e: e, info: s.fillScanInfo(e)}
		}()
	}
	for range edges {
		j := <-results
		j.e.SetScanInfo(j.info)
	}
}
