package graph

import "testing"

type fakeReadyQueue struct {
	added []*Edge
}

func (f *fakeReadyQueue) Add(e *Edge) { f.added = append(f.added, e) }

func TestPoolDelaysBeyondDepth(t *testing.T) {
	p := NewPool("links", 1)
	rule := NewRule("link")
	e1 := NewEdge(rule, p, nil)
	e2 := NewEdge(rule, p, nil)

	if p.ShouldDelayEdge() {
		t.Fatal("empty pool should not delay")
	}
	p.EdgeScheduled(e1)
	if !p.ShouldDelayEdge() {
		t.Fatal("pool at depth should delay further edges")
	}
	p.DelayEdge(e2)

	ready := &fakeReadyQueue{}
	p.RetrieveReadyEdges(ready)
	if len(ready.added) != 0 {
		t.Fatalf("no slot free yet, should not retrieve: %v", ready.added)
	}

	p.EdgeFinished(e1)
	p.RetrieveReadyEdges(ready)
	if len(ready.added) != 1 || ready.added[0] != e2 {
		t.Fatalf("expected e2 retrieved, got %v", ready.added)
	}
}

func TestPoolUnboundedNeverDelays(t *testing.T) {
	p := NewPool("", 0)
	rule := NewRule("cc")
	for i := 0; i < 100; i++ {
		e := NewEdge(rule, p, nil)
		if p.ShouldDelayEdge() {
			t.Fatal("unbounded pool should never delay")
		}
		p.EdgeScheduled(e)
	}
}

func TestPoolDelayQueueOrdersPhonyFirst(t *testing.T) {
	p := NewPool("p", 0) // depth irrelevant to ordering test, set manually
	p = NewPool("p", 1)
	ccRule := NewRule("cc")
	phonyEdge := NewEdge(PhonyRule, p, nil)
	ccEdge := NewEdge(ccRule, p, nil)

	used := NewEdge(ccRule, p, nil)
	p.EdgeScheduled(used) // occupy the single slot

	p.DelayEdge(ccEdge)
	p.DelayEdge(phonyEdge)

	ready := &fakeReadyQueue{}
	p.EdgeFinished(used)
	p.RetrieveReadyEdges(ready)
	if len(ready.added) == 0 || ready.added[0] != phonyEdge {
		t.Fatalf("expected phony (zero weight) edge first, got %v", ready.added)
	}
}
