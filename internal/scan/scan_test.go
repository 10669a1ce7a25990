package scan

import (
	"testing"

	"buildcore/internal/clock"
	"buildcore/internal/disk"
	"buildcore/internal/graph"
)

// fakeDisk is an in-memory disk.Interface keyed by path, letting tests
// set up mtimes without touching the real filesystem.
type fakeDisk struct {
	mtimes map[string]clock.TimeStamp
	files  map[string]string
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{mtimes: map[string]clock.TimeStamp{}, files: map[string]string{}}
}

func (f *fakeDisk) Stat(path string) (clock.TimeStamp, error) {
	if m, ok := f.mtimes[path]; ok {
		return m, nil
	}
	return clock.Missing, nil
}

func (f *fakeDisk) LStat(path string) (clock.TimeStamp, bool, error) {
	m, err := f.Stat(path)
	return m, false, err
}

func (f *fakeDisk) ReadFile(path string) (string, disk.ReadStatus, error) {
	if c, ok := f.files[path]; ok {
		return c, disk.Okay, nil
	}
	return "", disk.NotFound, nil
}

func (f *fakeDisk) WriteFile(path, contents string) bool {
	f.files[path] = contents
	return true
}

func (f *fakeDisk) MakeDirs(path string) bool { return true }

func (f *fakeDisk) RemoveFile(path string) int {
	if _, ok := f.files[path]; !ok {
		return 1
	}
	delete(f.files, path)
	return 0
}

func (f *fakeDisk) StatThreadSafe() bool { return false }

func buildRule(name, command string) *graph.Rule {
	r := graph.NewRule(name)
	eval := &graph.EvalString{}
	eval.AddText(command)
	r.AddBinding("command", eval)
	return r
}

func TestRecomputeDirtyMissingOutputIsDirty(t *testing.T) {
	s := graph.NewState()
	cc := buildRule("cc", "cc -c $in -o $out")
	s.Bindings().AddRule(cc)

	e := s.AddEdge(cc)
	s.AddIn(e, "main.c", 0)
	if err := s.AddOut(e, "main.o", 0); err != nil {
		t.Fatal(err)
	}

	d := newFakeDisk()
	d.mtimes["main.c"] = 100

	scanner := New(s, d, nil, nil)
	if err := scanner.RecomputeDirty([]*graph.Node{s.LookupNode("main.o")}); err != nil {
		t.Fatal(err)
	}
	if !s.LookupNode("main.o").Dirty() {
		t.Error("expected main.o dirty when it doesn't exist")
	}
}

func TestRecomputeDirtyUpToDateWhenOutputNewer(t *testing.T) {
	s := graph.NewState()
	cc := buildRule("cc", "cc -c $in -o $out")
	s.Bindings().AddRule(cc)

	e := s.AddEdge(cc)
	s.AddIn(e, "main.c", 0)
	if err := s.AddOut(e, "main.o", 0); err != nil {
		t.Fatal(err)
	}

	d := newFakeDisk()
	d.mtimes["main.c"] = 100
	d.mtimes["main.o"] = 200

	scanner := New(s, d, nil, nil)
	if err := scanner.RecomputeDirty([]*graph.Node{s.LookupNode("main.o")}); err != nil {
		t.Fatal(err)
	}
	if s.LookupNode("main.o").Dirty() {
		t.Error("expected main.o clean when newer than its input")
	}
}

func TestRecomputeDirtyStaleWhenInputNewer(t *testing.T) {
	s := graph.NewState()
	cc := buildRule("cc", "cc -c $in -o $out")
	s.Bindings().AddRule(cc)

	e := s.AddEdge(cc)
	s.AddIn(e, "main.c", 0)
	if err := s.AddOut(e, "main.o", 0); err != nil {
		t.Fatal(err)
	}

	d := newFakeDisk()
	d.mtimes["main.c"] = 300
	d.mtimes["main.o"] = 200

	scanner := New(s, d, nil, nil)
	if err := scanner.RecomputeDirty([]*graph.Node{s.LookupNode("main.o")}); err != nil {
		t.Fatal(err)
	}
	if !s.LookupNode("main.o").Dirty() {
		t.Error("expected main.o dirty when older than its input")
	}
}

// fakeBuildLog lets tests assert the command-hash comparison path.
type fakeBuildLog struct {
	entries map[string]*BuildLogEntry
}

func (f *fakeBuildLog) LookupByOutput(path string) *BuildLogEntry { return f.entries[path] }

func TestRecomputeDirtyCommandLineChanged(t *testing.T) {
	s := graph.NewState()
	cc := buildRule("cc", "cc -DNEW -c $in -o $out")
	s.Bindings().AddRule(cc)

	e := s.AddEdge(cc)
	s.AddIn(e, "main.c", 0)
	if err := s.AddOut(e, "main.o", 0); err != nil {
		t.Fatal(err)
	}

	d := newFakeDisk()
	d.mtimes["main.c"] = 100
	d.mtimes["main.o"] = 200

	buildLog := &fakeBuildLog{entries: map[string]*BuildLogEntry{
		"main.o": {CommandHash: 0xdeadbeef, Mtime: 200},
	}}

	scanner := New(s, d, buildLog, nil)
	if err := scanner.RecomputeDirty([]*graph.Node{s.LookupNode("main.o")}); err != nil {
		t.Fatal(err)
	}
	if !s.LookupNode("main.o").Dirty() {
		t.Error("expected main.o dirty when recorded command hash doesn't match")
	}
}

func TestRecomputeDirtyCyclePropagatesAsError(t *testing.T) {
	s := graph.NewState()
	cc := buildRule("cc", "cc")
	s.Bindings().AddRule(cc)

	e1 := s.AddEdge(cc)
	s.AddIn(e1, "b", 0)
	if err := s.AddOut(e1, "a", 0); err != nil {
		t.Fatal(err)
	}

	e2 := s.AddEdge(cc)
	s.AddIn(e2, "a", 0)
	if err := s.AddOut(e2, "b", 0); err != nil {
		t.Fatal(err)
	}

	d := newFakeDisk()
	scanner := New(s, d, nil, nil)
	err := scanner.RecomputeDirty([]*graph.Node{s.LookupNode("a")})
	if err == nil {
		t.Fatal("expected a cycle error")
	}
	if _, ok := err.(*CycleError); !ok {
		t.Fatalf("expected *CycleError, got %T: %v", err, err)
	}
}

func TestRecomputeDirtyMissingSourceFileIsDirty(t *testing.T) {
	s := graph.NewState()
	d := newFakeDisk()
	n := s.GetNode("README.md", 0)

	scanner := New(s, d, nil, nil)
	if err := scanner.RecomputeDirty([]*graph.Node{n}); err != nil {
		t.Fatal(err)
	}
	if !n.Dirty() {
		t.Error("a leaf with no in-edge must be marked dirty when it's missing, so AddTarget can report 'missing and no known rule'")
	}
}

func TestRecomputeDirtyExistingSourceFileIsClean(t *testing.T) {
	s := graph.NewState()
	d := newFakeDisk()
	d.mtimes["README.md"] = 100
	n := s.GetNode("README.md", 0)

	scanner := New(s, d, nil, nil)
	if err := scanner.RecomputeDirty([]*graph.Node{n}); err != nil {
		t.Fatal(err)
	}
	if n.Dirty() {
		t.Error("a leaf with no in-edge that exists on disk must not be marked dirty")
	}
}
