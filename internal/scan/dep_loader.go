package scan

import (
	"fmt"

	"buildcore/internal/clock"
	"buildcore/internal/clparser"
	"buildcore/internal/depfile"
	"buildcore/internal/disk"
	"buildcore/internal/graph"
)

// DepsLogEntry is the slice of a recorded deps-log row the loader
// needs to reconstruct an edge's implicit inputs from a prior build
// without re-running the compiler.
type DepsLogEntry struct {
	Mtime clock.TimeStamp
	Nodes []string
}

// DepsLog is the narrow read/write surface ImplicitDepLoader needs.
type DepsLog interface {
	GetDeps(output string) (*DepsLogEntry, error)
	RecordDeps(output string, mtime clock.TimeStamp, nodes []string) error
}

// ImplicitDepLoader fills in an edge's implicit inputs from whichever
// source the manifest named: a deps-log record left by a previous
// command run, or a GCC-style depfile already sitting on disk. It also
// commits freshly discovered deps after a command runs, which is what
// lets the *next* scan find them via the deps log.
type ImplicitDepLoader struct {
	State   *graph.State
	Disk    disk.Interface
	DepsLog DepsLog
}

func NewImplicitDepLoader(state *graph.State, d disk.Interface, depsLog DepsLog) *ImplicitDepLoader {
	return &ImplicitDepLoader{State: state, Disk: d, DepsLog: depsLog}
}

// LoadDeps is called during RecomputeDirty, after e's outputs have
// already been stat'ed this scan (the deps-log staleness check below
// needs their mtime) but before e's command has run this session: it
// looks for dependency information left over from a previous build
// (the deps log for deps=gcc/msvc edges, or a depfile already present
// on disk for legacy depfile-only edges) and, if found, inserts any
// newly-seen leaf as an implicit input. It returns false (not an
// error) when no prior dependency information exists yet, which is
// the ordinary state for a from-scratch build.
func (l *ImplicitDepLoader) LoadDeps(e *graph.Edge) (bool, error) {
	if e.DepsLoaded {
		return true, nil
	}
	deps := e.GetBinding("deps")
	switch deps {
	case "gcc", "msvc":
		return l.loadDepsFromLog(e)
	case "":
		if depfilePath := e.GetUnescapedDepfile(); depfilePath != "" {
			return l.loadDepfileFromDisk(e, depfilePath)
		}
		return true, nil
	default:
		return false, fmt.Errorf("unknown deps type %q for edge producing %s", deps, e.Outputs[0].Path())
	}
}

// loadDepsFromLog reports a miss -- without mutating e -- when there is
// no recorded entry, or when the output has been touched more recently
// than the deps were recorded (the output.mtime > recorded_deps.mtime
// case spec's §4.B contract calls out explicitly): either way the deps
// log can no longer be trusted to describe the file that's on disk now.
func (l *ImplicitDepLoader) loadDepsFromLog(e *graph.Edge) (bool, error) {
	if l.DepsLog == nil || len(e.Outputs) == 0 {
		return false, nil
	}
	output := e.Outputs[0]
	entry, err := l.DepsLog.GetDeps(output.Path())
	if err != nil {
		return false, err
	}
	if entry == nil {
		return false, nil
	}
	if output.Mtime() > entry.Mtime {
		return false, nil
	}
	for _, path := range entry.Nodes {
		l.insertImplicitInput(e, path)
	}
	return true, nil
}

func (l *ImplicitDepLoader) loadDepfileFromDisk(e *graph.Edge, path string) (bool, error) {
	content, status, err := l.Disk.ReadFile(path)
	if err != nil {
		return false, err
	}
	if status == disk.NotFound {
		return false, nil
	}
	if status == disk.OtherError {
		return false, fmt.Errorf("loading depfile %s: read error", path)
	}
	parsed, err := depfile.Parse(content)
	if err != nil {
		return false, fmt.Errorf("depfile %s: %w", path, err)
	}
	for _, in := range parsed.Ins {
		l.insertImplicitInput(e, in)
	}
	return true, nil
}

// insertImplicitInput interns path (creating the node if this is the
// first time anything has referenced it), marks a freshly-created node
// as dep-loader-generated so a missing file there is not a hard error,
// and wires it into e as an implicit input, synthesizing a phony
// in-edge so the node participates in the DAG like any other leaf.
func (l *ImplicitDepLoader) insertImplicitInput(e *graph.Edge, path string) {
	n := l.State.LookupNode(path)
	isNew := n == nil
	if isNew {
		n = l.State.GetNode(path, 0)
	}
	if isNew && n.InEdge() == nil {
		n.SetGeneratedByDepLoader(true)
	}
	for _, existing := range e.Inputs {
		if existing == n {
			return
		}
	}
	e.InsertImplicitInput(n)
	n.AddScanOutEdge(e)
	if n.InEdge() == nil {
		phony := l.State.AddEdge(graph.PhonyRule)
		phony.GeneratedByDepLoader = true
		phony.OutputsReady = true
		phony.Outputs = append(phony.Outputs, n)
		n.SetInEdge(phony)
	}
}

// RecordCommandDeps is called by the builder after a command finishes:
// it extracts implicit dependencies from the command's own output
// (MSVC /showIncludes) or a depfile it just wrote (GCC -MMD), wires
// them into the edge exactly like LoadDeps would have, and persists
// them to the deps log so the *next* scan's LoadDeps finds them
// without needing to re-parse anything.
func (l *ImplicitDepLoader) RecordCommandDeps(e *graph.Edge, commandOutput string, outputMtime clock.TimeStamp) (filteredOutput string, err error) {
	deps := e.GetBinding("deps")
	var paths []string
	switch deps {
	case "msvc":
		prefix := e.GetBinding("msvc_deps_prefix")
		paths, filteredOutput = clparser.Parse(commandOutput, prefix)
	case "gcc":
		depfilePath := e.GetUnescapedDepfile()
		if depfilePath == "" {
			return commandOutput, fmt.Errorf("deps=gcc with no depfile for %s", e.Outputs[0].Path())
		}
		content, status, rerr := l.Disk.ReadFile(depfilePath)
		if rerr != nil {
			return commandOutput, rerr
		}
		if status != disk.Okay {
			return commandOutput, fmt.Errorf("expected depfile %s to exist after command ran", depfilePath)
		}
		parsed, perr := depfile.Parse(content)
		if perr != nil {
			return commandOutput, fmt.Errorf("depfile %s: %w", depfilePath, perr)
		}
		paths = parsed.Ins
		l.Disk.RemoveFile(depfilePath)
		filteredOutput = commandOutput
	default:
		return commandOutput, nil
	}

	for _, p := range paths {
		l.insertImplicitInput(e, p)
	}
	e.DepsLoaded = true
	if l.DepsLog != nil && len(e.Outputs) > 0 {
		if err := l.DepsLog.RecordDeps(e.Outputs[0].Path(), outputMtime, paths); err != nil {
			return filteredOutput, err
		}
	}
	return filteredOutput, nil
}
