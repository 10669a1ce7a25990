package depslog

import "testing"

func TestRecordAndGetDepsRoundTrip(t *testing.T) {
	l, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	d, err := l.GetDeps("main.o")
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Fatal("expected no deps recorded yet")
	}

	if err := l.RecordDeps("main.o", 123, []string{"main.h", "util.h"}); err != nil {
		t.Fatal(err)
	}

	d, err = l.GetDeps("main.o")
	if err != nil {
		t.Fatal(err)
	}
	if d == nil {
		t.Fatal("expected deps after RecordDeps")
	}
	if d.Mtime != 123 {
		t.Errorf("Mtime = %d", d.Mtime)
	}
	if len(d.Nodes) != 2 || d.Nodes[0] != "main.h" || d.Nodes[1] != "util.h" {
		t.Errorf("Nodes = %v", d.Nodes)
	}
}

func TestRecordDepsReplacesPreviousSet(t *testing.T) {
	l, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.RecordDeps("a.o", 1, []string{"one.h", "two.h"})
	l.RecordDeps("a.o", 2, []string{"three.h"})

	d, err := l.GetDeps("a.o")
	if err != nil {
		t.Fatal(err)
	}
	if d.Mtime != 2 || len(d.Nodes) != 1 || d.Nodes[0] != "three.h" {
		t.Errorf("expected replaced deps, got %+v", d)
	}
}
