package builder

import (
	"buildcore/internal/buildlog"
	"buildcore/internal/clock"
	"buildcore/internal/depslog"
	"buildcore/internal/scan"
)

// buildLogAdapter narrows *buildlog.Log down to the scan.BuildLog
// interface so the scanner never imports the buildlog package, keeping
// the dirty-check logic decoupled from how (or whether) results are
// persisted.
type buildLogAdapter struct{ log *buildlog.Log }

func (a buildLogAdapter) LookupByOutput(path string) *scan.BuildLogEntry {
	e := a.log.LookupByOutput(path)
	if e == nil {
		return nil
	}
	return &scan.BuildLogEntry{CommandHash: e.CommandHash, Mtime: clock.TimeStamp(e.Mtime)}
}

// depsLogAdapter does the equivalent for *depslog.Log against the
// scan.DepsLog interface the implicit-dep loader consumes.
type depsLogAdapter struct{ log *depslog.Log }

func (a depsLogAdapter) GetDeps(output string) (*scan.DepsLogEntry, error) {
	d, err := a.log.GetDeps(output)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, nil
	}
	return &scan.DepsLogEntry{Mtime: d.Mtime, Nodes: d.Nodes}, nil
}

func (a depsLogAdapter) RecordDeps(output string, mtime clock.TimeStamp, nodes []string) error {
	return a.log.RecordDeps(output, mtime, nodes)
}
