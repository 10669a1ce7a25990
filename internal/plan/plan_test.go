package plan

import (
	"testing"

	"buildcore/internal/graph"
)

func rule(name, command string) *graph.Rule {
	r := graph.NewRule(name)
	eval := &graph.EvalString{}
	eval.AddText(command)
	r.AddBinding("command", eval)
	return r
}

// buildChain wires main.c -(cc)-> main.o -(link)-> app, marking main.o
// and app dirty the way a scanner would after finding main.c changed.
func buildChain(t *testing.T) (*graph.State, *graph.Node) {
	t.Helper()
	s := graph.NewState()
	cc := rule("cc", "cc -c $in -o $out")
	link := rule("link", "cc $in -o $out")
	s.Bindings().AddRule(cc)
	s.Bindings().AddRule(link)

	compile := s.AddEdge(cc)
	s.AddIn(compile, "main.c", 0)
	if err := s.AddOut(compile, "main.o", 0); err != nil {
		t.Fatal(err)
	}

	linkEdge := s.AddEdge(link)
	s.AddIn(linkEdge, "main.o", 0)
	if err := s.AddOut(linkEdge, "app", 0); err != nil {
		t.Fatal(err)
	}

	s.LookupNode("main.o").MarkDirty()
	s.LookupNode("app").MarkDirty()
	return s, s.LookupNode("app")
}

func TestAddTargetSchedulesOnlyRootOfChain(t *testing.T) {
	s, app := buildChain(t)
	p := New()
	if err := p.AddTarget(app); err != nil {
		t.Fatal(err)
	}
	if !p.More() {
		t.Fatal("expected plan to have work")
	}

	first := p.FindWork()
	if first == nil || first != s.LookupNode("main.o").InEdge() {
		t.Fatalf("expected the compile edge ready first, got %v", first)
	}
	if second := p.FindWork(); second != nil {
		t.Fatalf("link edge should not be ready until compile finishes, got %v", second)
	}
}

func TestEdgeFinishedUnlocksDownstreamEdge(t *testing.T) {
	s, app := buildChain(t)
	p := New()
	if err := p.AddTarget(app); err != nil {
		t.Fatal(err)
	}

	compile := p.FindWork()
	if compile == nil {
		t.Fatal("expected compile edge ready")
	}
	p.EdgeFinished(compile, true)

	linkEdge := s.LookupNode("app").InEdge()
	next := p.FindWork()
	if next != linkEdge {
		t.Fatalf("expected link edge ready after compile finished, got %v", next)
	}
	p.EdgeFinished(next, true)
	if p.More() {
		t.Error("expected plan to be done after both edges finish")
	}
}

func TestAddTargetSkipsCleanEdges(t *testing.T) {
	s := graph.NewState()
	cc := rule("cc", "cc -c $in -o $out")
	s.Bindings().AddRule(cc)
	e := s.AddEdge(cc)
	s.AddIn(e, "main.c", 0)
	if err := s.AddOut(e, "main.o", 0); err != nil {
		t.Fatal(err)
	}
	// main.o is clean (not marked dirty), so nothing should be scheduled.
	e.OutputsReady = true

	p := New()
	if err := p.AddTarget(s.LookupNode("main.o")); err != nil {
		t.Fatal(err)
	}
	if p.More() {
		t.Error("expected no work for an already up-to-date target")
	}
}

func TestCommandEdgeCountExcludesPhony(t *testing.T) {
	s := graph.NewState()
	cc := rule("cc", "cc -c $in -o $out")
	s.Bindings().AddRule(cc)

	compile := s.AddEdge(cc)
	s.AddIn(compile, "main.c", 0)
	if err := s.AddOut(compile, "main.o", 0); err != nil {
		t.Fatal(err)
	}

	alias := s.AddEdge(graph.PhonyRule)
	s.AddIn(alias, "main.o", 0)
	if err := s.AddOut(alias, "all", 0); err != nil {
		t.Fatal(err)
	}

	s.LookupNode("main.o").MarkDirty()
	s.LookupNode("all").MarkDirty()

	p := New()
	if err := p.AddTarget(s.LookupNode("all")); err != nil {
		t.Fatal(err)
	}
	if got := p.CommandEdgeCount(); got != 1 {
		t.Errorf("CommandEdgeCount() = %d, want 1 (phony excluded)", got)
	}
}
