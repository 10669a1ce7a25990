package graph

import "testing"

func ruleWithCommand(name, command string) *Rule {
	r := NewRule(name)
	eval := &EvalString{}
	// "$name" becomes a variable reference; everything else is literal text.
	for i := 0; i < len(command); {
		j := i + 1
		if command[i] == '$' {
			for j < len(command) && isVarChar(command[j]) {
				j++
			}
			eval.AddSpecial(command[i+1 : j])
		} else {
			for j < len(command) && command[j] != '$' {
				j++
			}
			eval.AddText(command[i:j])
		}
		i = j
	}
	r.AddBinding("command", eval)
	return r
}

func isVarChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func TestAddOutRejectsDuplicateOutput(t *testing.T) {
	s := NewState()
	cc := ruleWithCommand("cc", "cc -c $in -o $out")
	s.Bindings().AddRule(cc)

	e1 := s.AddEdge(cc)
	if err := s.AddOut(e1, "out.o", 0); err != nil {
		t.Fatal(err)
	}

	e2 := s.AddEdge(cc)
	if err := s.AddOut(e2, "out.o", 0); err == nil {
		t.Fatal("expected error for duplicate output")
	}
}

func TestRootNodesRequireSomeEdge(t *testing.T) {
	s := NewState()
	roots, err := s.RootNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 0 {
		t.Errorf("expected no roots with no edges, got %v", roots)
	}
}

func TestRootNodesFindsUnconsumedOutput(t *testing.T) {
	s := NewState()
	cc := ruleWithCommand("cc", "cc -c $in -o $out")
	s.Bindings().AddRule(cc)

	e := s.AddEdge(cc)
	s.AddIn(e, "main.c", 0)
	if err := s.AddOut(e, "main.o", 0); err != nil {
		t.Fatal(err)
	}

	roots, err := s.RootNodes()
	if err != nil {
		t.Fatal(err)
	}
	if len(roots) != 1 || roots[0].Path() != "main.o" {
		t.Errorf("roots = %v", roots)
	}
}

func TestOutEdgesOrdersManifestBeforeScanDiscovered(t *testing.T) {
	s := NewState()
	cc := ruleWithCommand("cc", "cc")
	s.Bindings().AddRule(cc)

	manifestEdge := s.AddEdge(cc)
	s.AddIn(manifestEdge, "header.h", 0)

	scanEdge := s.AddEdge(cc)

	header := s.LookupNode("header.h")
	header.AddScanOutEdge(scanEdge)

	edges := header.OutEdges()
	if len(edges) != 2 || edges[0] != manifestEdge || edges[1] != scanEdge {
		t.Errorf("OutEdges ordering wrong: %v", edges)
	}
}

func TestEvalStringVariableExpansion(t *testing.T) {
	s := NewState()
	cc := ruleWithCommand("cc", "cc -c $in -o $out")
	s.Bindings().AddRule(cc)

	e := s.AddEdge(cc)
	s.AddIn(e, "main.c", 0)
	if err := s.AddOut(e, "main.o", 0); err != nil {
		t.Fatal(err)
	}

	got := e.EvaluateCommand(false)
	want := "cc -c main.c -o main.o"
	if got != want {
		t.Errorf("EvaluateCommand() = %q, want %q", got, want)
	}
}

func TestEvalStringShellEscapesSpecialChars(t *testing.T) {
	s := NewState()
	cc := ruleWithCommand("cc", "cc $in")
	s.Bindings().AddRule(cc)

	e := s.AddEdge(cc)
	s.AddIn(e, "a file.c", 0)
	if err := s.AddOut(e, "out.o", 0); err != nil {
		t.Fatal(err)
	}

	got := e.EvaluateCommand(false)
	want := "cc 'a file.c'"
	if got != want {
		t.Errorf("EvaluateCommand() = %q, want %q", got, want)
	}
}

func TestResetClearsDirtyAndMarks(t *testing.T) {
	s := NewState()
	cc := ruleWithCommand("cc", "cc")
	s.Bindings().AddRule(cc)

	e := s.AddEdge(cc)
	s.AddIn(e, "main.c", 0)
	if err := s.AddOut(e, "main.o", 0); err != nil {
		t.Fatal(err)
	}
	out := s.LookupNode("main.o")
	out.MarkDirty()
	e.OutputsReady = true
	e.Mark = Done

	s.Reset()

	if out.Dirty() {
		t.Error("expected dirty cleared after Reset")
	}
	if e.OutputsReady {
		t.Error("expected OutputsReady cleared after Reset")
	}
	if e.Mark != Unvisited {
		t.Error("expected Mark reset to Unvisited")
	}
}
