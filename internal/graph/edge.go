package graph

import (
	"fmt"
)

// VisitMark is the three-state DFS color used by the scanner's cycle
// detector: an edge is Unvisited, currently InStack (on the DFS path),
// or Done (fully processed this scan).
type VisitMark int8

const (
	Unvisited VisitMark = iota
	InStack
	Done
)

// DepScanInfo caches the facts the scanner needs about an edge that are
// pure functions of the manifest (not of the filesystem): whether the
// edge restats, is a generator, loads deps, has a depfile, and the hash
// of its fully-evaluated command. It is computed once per edge, either
// serially or during the scanner's parallel precompute fan-out.
type DepScanInfo struct {
	Valid       bool
	Restat      bool
	Generator   bool
	Deps        string // "", "gcc", or "msvc"
	Depfile     string
	CommandHash uint64
}

// Edge is one rule application: a set of inputs partitioned into
// explicit/implicit/order-only ranges producing a set of outputs
// partitioned into explicit/implicit ranges.
type Edge struct {
	Rule *Rule
	Pool *Pool
	Env  *BindingEnv

	Inputs  []*Node
	Outputs []*Node

	ImplicitDeps   int
	OrderOnlyDeps  int
	ImplicitOuts   int

	ID int

	Mark VisitMark

	OutputsReady bool
	DepsLoaded   bool
	DepsMissing  bool

	// GeneratedByDepLoader marks a synthetic phony edge the implicit-dep
	// loader created to stand in for a newly-discovered leaf input; see
	// scan.ImplicitDepLoader.
	GeneratedByDepLoader bool

	CommandStartMillis int64

	scan DepScanInfo
}

func NewEdge(rule *Rule, pool *Pool, env *BindingEnv) *Edge {
	return &Edge{Rule: rule, Pool: pool, Env: env}
}

// AllInputsReady reports whether every input's producing edge (if any)
// has OutputsReady set, i.e. whether this edge may be scheduled.
func (e *Edge) AllInputsReady() bool {
	for _, i := range e.Inputs {
		if ie := i.InEdge(); ie != nil && !ie.OutputsReady {
			return false
		}
	}
	return true
}

func (e *Edge) explicitDepsCount() int {
	return len(e.Inputs) - e.ImplicitDeps - e.OrderOnlyDeps
}

func (e *Edge) explicitOutsCount() int {
	return len(e.Outputs) - e.ImplicitOuts
}

// IsImplicit reports whether the input at index is an implicit
// (non-order-only, non-explicit) dependency.
func (e *Edge) IsImplicit(index int) bool {
	return index >= len(e.Inputs)-e.OrderOnlyDeps-e.ImplicitDeps && !e.IsOrderOnly(index)
}

func (e *Edge) IsOrderOnly(index int) bool {
	return index >= len(e.Inputs)-e.OrderOnlyDeps
}

func (e *Edge) IsImplicitOut(index int) bool {
	return index >= len(e.Outputs)-e.ImplicitOuts
}

// IsPhony reports whether this edge has no command to run.
func (e *Edge) IsPhony() bool {
	return e.Rule == PhonyRule
}

func (e *Edge) UseConsole() bool {
	return e.Pool == ConsolePool
}

// MaybePhonycycleDiagnostic restricts the "phonycycle" hint to the
// specific self-referencing single-output phony shape some generators
// (historically CMake) produce.
func (e *Edge) MaybePhonycycleDiagnostic() bool {
	return e.IsPhony() && len(e.Outputs) == 1 && e.ImplicitOuts == 0 && e.ImplicitDeps == 0
}

// InsertImplicitInput inserts a newly-discovered implicit input just
// before the order-only range, per §4.B of the dep-loader contract.
func (e *Edge) InsertImplicitInput(n *Node) {
	pos := len(e.Inputs) - e.OrderOnlyDeps
	e.Inputs = append(e.Inputs, nil)
	copy(e.Inputs[pos+1:], e.Inputs[pos:])
	e.Inputs[pos] = n
	e.ImplicitDeps++
}

// ScanInfo returns the cached DepScanInfo, computing it via fill on
// first use (the lazy path taken when the scanner's parallel precompute
// phase is disabled).
func (e *Edge) ScanInfo(fill func(*Edge) DepScanInfo) DepScanInfo {
	if !e.scan.Valid {
		e.scan = fill(e)
		e.scan.Valid = true
	}
	return e.scan
}

// SetScanInfo is used by the scanner's parallel precompute workers to
// store a result computed off the main thread.
func (e *Edge) SetScanInfo(info DepScanInfo) {
	info.Valid = true
	e.scan = info
}

// ScanInfoCached returns whatever DepScanInfo has already been
// computed for this edge (zero value if none has). Callers that run
// after a scan -- the builder recording a command hash, for instance --
// know the scan already populated it and can skip re-evaluating
// bindings.
func (e *Edge) ScanInfoCached() DepScanInfo { return e.scan }

// EvaluateCommand expands $in/$out/rule bindings into the final command
// line. When inclRspFile is set and the edge declares a response file,
// the response-file content is appended so the command hash (and the
// dirty check that depends on it) is sensitive to changes made only to
// rspfile_content.
func (e *Edge) EvaluateCommand(inclRspFile bool) string {
	command := e.GetBinding("command")
	if inclRspFile {
		if rsp := e.GetBinding("rspfile_content"); rsp != "" {
			command += ";rspfile=" + rsp
		}
	}
	return command
}

func (e *Edge) GetBinding(key string) string {
	env := NewEdgeEnv(e, ShellEscape)
	return env.LookupVariable(key)
}

func (e *Edge) GetBindingBool(key string) bool {
	return e.GetBinding(key) != ""
}

func (e *Edge) GetUnescapedDepfile() string {
	return NewEdgeEnv(e, DoNotEscape).LookupVariable("depfile")
}

func (e *Edge) GetUnescapedDyndep() string {
	return NewEdgeEnv(e, DoNotEscape).LookupVariable("dyndep")
}

func (e *Edge) GetUnescapedRspfile() string {
	return NewEdgeEnv(e, DoNotEscape).LookupVariable("rspfile")
}

func (e *Edge) Dump(prefix string) {
	fmt.Printf("%s[ ", prefix)
	for _, i := range e.Inputs {
		fmt.Printf("%s ", i.Path())
	}
	fmt.Printf("--%s. ", e.Rule.Name())
	for _, o := range e.Outputs {
		fmt.Printf("%s ", o.Path())
	}
	fmt.Printf("]\n")
}
