// Package status prints build progress to the terminal: one line per
// started edge with a running "[x/y]" counter, plus the output of
// failed commands (of every command when verbose), colorized the way a
// developer staring at a long build expects.
package status

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"buildcore/internal/explain"
	"buildcore/internal/graph"
)

// Printer is the Status collaborator the builder reports progress to.
type Printer struct {
	out        io.Writer
	started    int
	finished   int
	total      int
	explain    *explain.Explanations
	verbose    bool
}

func NewPrinter(out io.Writer, verbose bool) *Printer {
	return &Printer{out: out, verbose: verbose}
}

func (p *Printer) SetExplanations(e *explain.Explanations) { p.explain = e }

// PlanHasTotalEdges is called once the plan knows how many command
// edges it intends to run, before the first one starts.
func (p *Printer) PlanHasTotalEdges(n int) { p.total = n }

func (p *Printer) EdgeStarted(e *graph.Edge) {
	p.started++
	if e.IsPhony() {
		return
	}
	desc := e.GetBinding("description")
	if desc == "" {
		desc = e.EvaluateCommand(false)
	}
	prefix := color.New(color.FgCyan).Sprintf("[%d/%d]", p.started, p.total)
	fmt.Fprintf(p.out, "%s %s\n", prefix, desc)
}

func (p *Printer) EdgeFinished(e *graph.Edge, success bool, output string) {
	if e.IsPhony() {
		return
	}
	p.finished++
	if !success {
		fmt.Fprintln(p.out, color.New(color.FgRed, color.Bold).Sprint("FAILED: ")+e.EvaluateCommand(false))
	}
	if output != "" && (!success || p.verbose) {
		fmt.Fprint(p.out, output)
	}
	p.printExplanations(e)
}

func (p *Printer) printExplanations(e *graph.Edge) {
	if p.explain == nil || !p.verbose {
		return
	}
	reasons := p.explain.LookupAndAppend(e, nil)
	for _, r := range reasons {
		fmt.Fprintln(p.out, color.New(color.FgYellow).Sprint("explain: ")+r)
	}
}

func (p *Printer) Warning(format string, args ...any) {
	fmt.Fprintln(p.out, color.New(color.FgYellow, color.Bold).Sprint("warning: ")+fmt.Sprintf(format, args...))
}

func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.out, color.New(color.FgRed, color.Bold).Sprint("error: ")+fmt.Sprintf(format, args...))
}
