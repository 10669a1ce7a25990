// Package builder drives the main build loop: it asks the plan for
// ready edges, hands them to a command runner, and on completion
// extracts implicit dependencies, restats outputs, and records the
// result to the build and deps logs.
package builder

import (
	"fmt"
	"os"

	"buildcore/internal/buildlog"
	"buildcore/internal/clock"
	"buildcore/internal/depslog"
	"buildcore/internal/disk"
	"buildcore/internal/explain"
	"buildcore/internal/graph"
	"buildcore/internal/plan"
	"buildcore/internal/runner"
	"buildcore/internal/scan"
	"buildcore/internal/status"
)

// Builder wires the graph's State to its external collaborators (disk,
// build log, deps log, status, command runner) and runs the admit/
// start/reap loop until the plan has nothing left to do.
type Builder struct {
	state    *graph.State
	config   *Config
	plan     *plan.Plan
	runner   runner.CommandRunner
	status   *status.Printer
	disk     disk.Interface
	scanner  *scan.Scanner
	loader   *scan.ImplicitDepLoader
	buildLog *buildlog.Log
	depsLog  *depslog.Log

	explain       *explain.Explanations
	runningEdges  map[*graph.Edge]int64
	startMillis   int64
	lockFilePath  string
}

func New(state *graph.State, config *Config, buildLog *buildlog.Log, depsLog *depslog.Log,
	d disk.Interface, st *status.Printer, startMillis int64) *Builder {

	explanations := explain.New()
	loader := scan.NewImplicitDepLoader(state, d, depsLogAdapter{depsLog})
	scanner := scan.New(state, d, buildLogAdapter{buildLog}, loader)
	scanner.Explain = explanations

	lockPath := ".build_lock"
	if dir := state.Bindings().LookupVariable("builddir"); dir != "" {
		lockPath = dir + "/" + lockPath
	}

	b := &Builder{
		state:        state,
		config:       config,
		plan:         plan.New(),
		disk:         d,
		scanner:      scanner,
		loader:       loader,
		buildLog:     buildLog,
		depsLog:      depsLog,
		status:       st,
		explain:      explanations,
		runningEdges: map[*graph.Edge]int64{},
		startMillis:  startMillis,
		lockFilePath: lockPath,
	}
	st.SetExplanations(explanations)
	return b
}

// AddTarget scans target's dependencies and, if it (or anything it
// depends on) turns out dirty, adds it to the plan.
func (b *Builder) AddTarget(target *graph.Node) error {
	if err := b.scanner.RecomputeDirty([]*graph.Node{target}); err != nil {
		return err
	}
	if in := target.InEdge(); in == nil || !in.OutputsReady {
		return b.plan.AddTarget(target)
	}
	return nil
}

func (b *Builder) AlreadyUpToDate() bool { return !b.plan.More() }

// Build runs the admit/start/reap loop until the plan has nothing left
// to do, a failure budget is exhausted, or the build can make no
// further progress.
func (b *Builder) Build() error {
	if b.AlreadyUpToDate() {
		return fmt.Errorf("build called with nothing to do")
	}

	if b.runner == nil {
		if b.config.DryRun {
			b.runner = runner.NewDryRun()
		} else {
			b.runner = runner.NewReal(b.config.Parallelism, b.config.MaxLoadAverage)
		}
	}
	b.status.PlanHasTotalEdges(b.plan.CommandEdgeCount())

	pending := 0
	failuresAllowed := b.config.FailuresAllowed

	for b.plan.More() {
		if failuresAllowed != 0 {
			capacity := b.runner.CanRunMore()
			for capacity > 0 {
				edge := b.plan.FindWork()
				if edge == nil {
					break
				}
				if err := b.startEdge(edge); err != nil {
					b.Cleanup()
					return err
				}
				if edge.IsPhony() {
					b.plan.EdgeFinished(edge, true)
				} else {
					pending++
					capacity--
					if c := b.runner.CanRunMore(); c < capacity {
						capacity = c
					}
				}
			}
			if pending == 0 && !b.plan.More() {
				break
			}
		}

		if pending != 0 {
			result, ok := b.runner.WaitForCommand()
			if !ok || result.Status == runner.ExitInterrupted {
				b.Cleanup()
				return fmt.Errorf("interrupted by user")
			}
			pending--
			if err := b.finishCommand(result); err != nil {
				b.Cleanup()
				return err
			}
			if !result.Success() && failuresAllowed > 0 {
				failuresAllowed--
			}
			continue
		}

		if failuresAllowed == 0 {
			if b.config.FailuresAllowed > 1 {
				return fmt.Errorf("subcommands failed")
			}
			return fmt.Errorf("subcommand failed")
		}
		return fmt.Errorf("cannot make progress due to previous errors")
	}
	return nil
}

func (b *Builder) startEdge(e *graph.Edge) error {
	if e.IsPhony() {
		return nil
	}
	b.runningEdges[e] = clock.NowMillis() - b.startMillis
	b.status.EdgeStarted(e)

	for _, o := range e.Outputs {
		if !b.disk.MakeDirs(o.Path()) {
			return fmt.Errorf("creating output directory for %s", o.Path())
		}
	}
	if depfile := e.GetUnescapedDepfile(); depfile != "" {
		if !b.disk.MakeDirs(depfile) {
			return fmt.Errorf("creating depfile directory for %s", depfile)
		}
	}
	if rspfile := e.GetUnescapedRspfile(); rspfile != "" {
		content := e.GetBinding("rspfile_content")
		if !b.disk.WriteFile(rspfile, content) {
			return fmt.Errorf("writing response file %s", rspfile)
		}
	}

	if !b.runner.StartCommand(e) {
		return fmt.Errorf("command %q failed to start", e.EvaluateCommand(false))
	}
	return nil
}

// finishCommand extracts implicit dependencies from the just-finished
// command's output, restats outputs, records the result to the build
// and deps logs, and notifies the plan so downstream edges can become
// ready.
func (b *Builder) finishCommand(result *runner.Result) error {
	e := result.Edge
	output := result.Output

	depsType := e.GetBinding("deps")
	if depsType != "" {
		filtered, err := b.loader.RecordCommandDeps(e, output, clock.TimeStamp(clock.NowMillis()))
		if err != nil && result.Success() {
			result.Status = runner.ExitFailure
			output = appendDiagnostic(output, err.Error())
		} else {
			output = filtered
		}
	}

	startMillis := b.runningEdges[e]
	endMillis := clock.NowMillis() - b.startMillis
	delete(b.runningEdges, e)
	b.status.EdgeFinished(e, result.Success(), output)

	if !result.Success() {
		b.plan.EdgeFinished(e, false)
		return nil
	}

	restat := e.GetBindingBool("restat")
	var outputPaths []string
	var newestInput clock.TimeStamp = clock.Missing
	for _, in := range e.Inputs {
		if in.Mtime() > newestInput {
			newestInput = in.Mtime()
		}
	}
	anyCleaned := false
	for _, o := range e.Outputs {
		prev := o.Mtime()
		if err := o.Stat(b.disk); err != nil {
			return err
		}
		outputPaths = append(outputPaths, o.Path())
		if restat && o.Mtime() == prev {
			anyCleaned = true
			if err := b.plan.CleanNode(b.scanner, o); err != nil {
				return err
			}
		}
	}

	hash := e.ScanInfoCached().CommandHash
	if b.buildLog != nil {
		// Normally the output mtime recorded is whatever disk reports
		// after the command ran. But once a restat cleaned an output
		// (its mtime genuinely didn't change), that raw disk mtime no
		// longer reflects "what this command produced" -- it reflects
		// whatever an earlier run left behind. Recording the newest
		// input's mtime (or the depfile's, if later) in that case is
		// what lets the next scan's restat-mtime substitution see a
		// value consistent with "nothing happened here".
		outMtime := clock.Missing
		if len(e.Outputs) > 0 {
			outMtime = e.Outputs[0].Mtime()
		}
		if anyCleaned {
			outMtime = newestInput
			if depfile := e.GetUnescapedDepfile(); depfile != "" {
				if dm, err := b.disk.Stat(depfile); err == nil && dm > outMtime {
					outMtime = dm
				}
			}
		}
		b.buildLog.RecordCommand(outputPaths, hash, startMillis, endMillis, outMtime)
	}

	b.plan.EdgeFinished(e, true)
	return nil
}

func prevMtime(b *Builder, o *graph.Node) clock.TimeStamp {
	entry := b.buildLog.LookupByOutput(o.Path())
	if entry == nil {
		return clock.Unknown
	}
	return clock.TimeStamp(entry.Mtime)
}

func appendDiagnostic(output, msg string) string {
	if output != "" {
		output += "\n"
	}
	return output + msg
}

// Cleanup deletes the outputs of whatever commands were still running
// at the point a build was aborted, so a subsequent build doesn't see
// a half-written output as up to date.
func (b *Builder) Cleanup() {
	if b.runner == nil {
		return
	}
	active := b.runner.GetActiveEdges()
	b.runner.Abort()

	for _, e := range active {
		depfile := e.GetUnescapedDepfile()
		for _, o := range e.Outputs {
			newMtime, err := b.disk.Stat(o.Path())
			if err != nil {
				b.status.Error("%s", err.Error())
				continue
			}
			if depfile != "" || o.Mtime() != newMtime {
				b.disk.RemoveFile(o.Path())
			}
		}
		if depfile != "" {
			b.disk.RemoveFile(depfile)
		}
	}

	if _, err := os.Stat(b.lockFilePath); err == nil {
		b.disk.RemoveFile(b.lockFilePath)
	}
}
