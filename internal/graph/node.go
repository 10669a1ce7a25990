// Package graph holds the build graph model: nodes, edges, rules, pools
// and the variable-binding environment used to evaluate a command. The
// graph is read-only once scanning begins except for the specific
// mutations the implicit-dep loader performs (see scan.ImplicitDepLoader).
package graph

import (
	"sort"
	"strings"

	"buildcore/internal/clock"
	"buildcore/internal/disk"
)

// ExistenceStatus records whether a node has been examined yet and, if
// so, whether the underlying path exists.
type ExistenceStatus int8

const (
	ExistenceUnknown ExistenceStatus = iota
	ExistenceMissing
	ExistenceExists
)

// Node is a named file or logical target. Nodes are interned by path in
// a State so that pointer identity doubles as path identity.
type Node struct {
	path string

	// slashBits records, bit-per-separator, which forward slashes in
	// path were originally backslashes on Windows. It is opaque outside
	// of PathDecanonicalized.
	slashBits uint64

	mtime  clock.TimeStamp
	exists ExistenceStatus
	dirty  bool

	// generatedByDepLoader is true for nodes discovered via a depfile or
	// the deps log rather than declared directly in the manifest; such a
	// node missing with no producing edge is not a hard error.
	generatedByDepLoader bool

	inEdge    *Edge
	outEdges  []*Edge
	// scanOutEdges holds out-edges discovered by the implicit-dep loader,
	// in discovery order, as a separate append-only list from outEdges so
	// that OutEdges can report manifest edges (sorted) followed by
	// scan-discovered edges (insertion order) -- see graph.Node.OutEdges.
	scanOutEdges []*Edge

	id int

	// precomputedMtime is filled by the scanner's parallel pre-stat fan
	// out and cleared at the end of every scan; see scan.Scanner.RecomputeDirty.
	precomputedMtime      clock.TimeStamp
	precomputedMtimeValid bool
}

func NewNode(path string, slashBits uint64) *Node {
	return &Node{path: path, slashBits: slashBits, mtime: clock.Unknown}
}

func (n *Node) Path() string      { return n.path }
func (n *Node) SlashBits() uint64 { return n.slashBits }
func (n *Node) Mtime() clock.TimeStamp { return n.mtime }
func (n *Node) Exists() bool      { return n.exists == ExistenceExists }
func (n *Node) StatusKnown() bool { return n.exists != ExistenceUnknown }
func (n *Node) Dirty() bool       { return n.dirty }
func (n *Node) SetDirty(d bool)   { n.dirty = d }
func (n *Node) MarkDirty()        { n.dirty = true }

func (n *Node) GeneratedByDepLoader() bool     { return n.generatedByDepLoader }
func (n *Node) SetGeneratedByDepLoader(v bool) { n.generatedByDepLoader = v }

func (n *Node) InEdge() *Edge      { return n.inEdge }
func (n *Node) SetInEdge(e *Edge)  { n.inEdge = e }

func (n *Node) ID() int      { return n.id }
func (n *Node) SetID(id int) { n.id = id }

// AddOutEdge registers e as consuming n as an input. Manifest-time
// callers append here; the implicit-dep loader uses AddScanOutEdge
// instead so the two orderings stay separately observable.
func (n *Node) AddOutEdge(e *Edge) {
	i := sort.Search(len(n.outEdges), func(i int) bool { return n.outEdges[i].ID > e.ID })
	n.outEdges = append(n.outEdges, nil)
	copy(n.outEdges[i+1:], n.outEdges[i:])
	n.outEdges[i] = e
}

func (n *Node) AddScanOutEdge(e *Edge) { n.scanOutEdges = append(n.scanOutEdges, e) }

// OutEdges returns manifest out-edges (sorted by edge ID)
// concatenated with dep-scan-discovered out-edges (in discovery order).
// This ordering is observable by the plan and must be stable.
func (n *Node) OutEdges() []*Edge {
	if len(n.scanOutEdges) == 0 {
		return n.outEdges
	}
	all := make([]*Edge, 0, len(n.outEdges)+len(n.scanOutEdges))
	all = append(all, n.outEdges...)
	all = append(all, n.scanOutEdges...)
	return all
}

// Stat fills mtime/exists from the disk interface. A node with an
// in-edge is lstat'ed (its identity as a build product matters more
// than any symlink target); a leaf is stat'ed so that symlinked source
// files resolve normally.
func (n *Node) Stat(d disk.Interface) error {
	if n.inEdge != nil {
		mtime, _, err := d.LStat(n.path)
		if err != nil {
			return err
		}
		n.mtime = mtime
	} else {
		mtime, err := d.Stat(n.path)
		if err != nil {
			return err
		}
		n.mtime = mtime
	}
	if n.mtime == clock.Missing {
		n.exists = ExistenceMissing
	} else {
		n.exists = ExistenceExists
	}
	return nil
}

// StatIfNecessary stats the node only if it hasn't been examined this
// scan, preferring a value the parallel pre-stat phase already filled.
func (n *Node) StatIfNecessary(d disk.Interface) error {
	if n.StatusKnown() {
		return nil
	}
	if n.precomputedMtimeValid {
		n.applyPrecomputed()
		return nil
	}
	return n.Stat(d)
}

func (n *Node) applyPrecomputed() {
	n.mtime = n.precomputedMtime
	if n.mtime == clock.Missing {
		n.exists = ExistenceMissing
	} else {
		n.exists = ExistenceExists
	}
}

// SetPrecomputedMtime is called from the scanner's parallel pre-stat
// worker; applyPrecomputed promotes it into the node's real state.
func (n *Node) SetPrecomputedMtime(mtime clock.TimeStamp) {
	n.precomputedMtime = mtime
	n.precomputedMtimeValid = true
}

// ClearPrecomputed drops the cached pre-stat value at scan end so a
// later stat (after a build mutates the file) goes back to disk.
func (n *Node) ClearPrecomputed() {
	n.precomputedMtimeValid = false
}

// ResetState marks the node as not-yet-stat'ed and clean, used between
// successive Build() calls against the same in-process State.
func (n *Node) ResetState() {
	n.mtime = clock.Unknown
	n.exists = ExistenceUnknown
	n.dirty = false
}

// MarkMissing records that the node was examined and does not exist.
func (n *Node) MarkMissing() {
	if n.mtime == clock.Unknown {
		n.mtime = clock.Missing
	}
	n.exists = ExistenceMissing
}

// PathDecanonicalized restores the original separator style using
// slashBits, a no-op outside of Windows path handling.
func (n *Node) PathDecanonicalized() string {
	return PathDecanonicalized(n.path, n.slashBits)
}

func PathDecanonicalized(path string, slashBits uint64) string {
	if !strings.Contains(path, "/") {
		return path
	}
	var b strings.Builder
	mask := uint64(1)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '/' {
			if slashBits&mask != 0 {
				c = '\\'
			}
			mask <<= 1
		}
		b.WriteByte(c)
	}
	return b.String()
}
