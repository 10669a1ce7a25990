// Package runner executes edges' shell commands and reports their
// outcome back to the builder loop: a DryRun implementation that never
// touches a shell, and a Real implementation backed by os/exec with
// parallelism and load-average admission control.
package runner

import (
	"os/exec"
	"sync"

	"github.com/edwingeng/deque"
	"github.com/mikoim/go-loadavg"
	"github.com/tevino/abool/v2"

	"buildcore/internal/graph"
)

// ExitStatus is the tri-state outcome of one command.
type ExitStatus int8

const (
	ExitSuccess ExitStatus = iota
	ExitFailure
	ExitInterrupted
)

// Result pairs a finished edge with its command's outcome and captured
// combined stdout/stderr, which the builder feeds to the depfile/MSVC
// extraction path before deciding whether to keep it for display.
type Result struct {
	Edge   *graph.Edge
	Status ExitStatus
	Output string
}

func (r *Result) Success() bool { return r.Status == ExitSuccess }

// CommandRunner is the collaborator the builder drives: start as many
// edges as CanRunMore permits, then block in WaitForCommand until one
// finishes.
type CommandRunner interface {
	CanRunMore() int
	StartCommand(e *graph.Edge) bool
	WaitForCommand() (*Result, bool)
	GetActiveEdges() []*graph.Edge
	Abort()
}

// DryRun never spawns anything: every StartCommand immediately queues
// a synthetic success, so a -n invocation exercises the exact same
// plan/builder control flow a real build does.
type DryRun struct {
	finished deque.Deque
}

func NewDryRun() *DryRun {
	return &DryRun{finished: deque.NewDeque()}
}

func (d *DryRun) CanRunMore() int { return 1 << 30 }

func (d *DryRun) StartCommand(e *graph.Edge) bool {
	d.finished.PushBack(e)
	return true
}

func (d *DryRun) WaitForCommand() (*Result, bool) {
	if d.finished.Empty() {
		return nil, false
	}
	e := d.finished.Front().(*graph.Edge)
	d.finished.PopFront()
	return &Result{Edge: e, Status: ExitSuccess}, true
}

func (d *DryRun) GetActiveEdges() []*graph.Edge { return nil }
func (d *DryRun) Abort()                        {}

// Real spawns one *exec.Cmd per started edge and reports completions
// through a shared channel, rather than the poll loop the teacher's
// DoWork used -- os/exec plus a result channel expresses "wait for
// whichever finishes first" directly, without needing a Subprocess
// object to track pipe readiness by hand.
type Real struct {
	Parallelism    int
	MaxLoadAverage float64

	mu       sync.Mutex
	running  map[*graph.Edge]*exec.Cmd
	results  chan *Result
	aborting *abool.AtomicBool
}

func NewReal(parallelism int, maxLoadAverage float64) *Real {
	return &Real{
		Parallelism:    parallelism,
		MaxLoadAverage: maxLoadAverage,
		running:        map[*graph.Edge]*exec.Cmd{},
		results:        make(chan *Result, 64),
		aborting:       abool.New(),
	}
}

// CanRunMore caps admission by both parallelism and, when configured,
// system load average -- mirroring upstream's -l flag -- always
// allowing at least one command through so a stalled machine still
// makes forward progress.
func (r *Real) CanRunMore() int {
	r.mu.Lock()
	running := len(r.running)
	r.mu.Unlock()

	capacity := r.Parallelism - running
	if r.MaxLoadAverage > 0 {
		if avg, err := loadavg.Parse(); err == nil {
			loadCapacity := int(r.MaxLoadAverage - avg.LoadAverage1)
			if loadCapacity < capacity {
				capacity = loadCapacity
			}
		}
	}
	if capacity < 0 {
		capacity = 0
	}
	if capacity == 0 && running == 0 {
		capacity = 1
	}
	return capacity
}

func (r *Real) StartCommand(e *graph.Edge) bool {
	if r.aborting.IsSet() {
		return false
	}
	command := e.EvaluateCommand(false)
	cmd := exec.Command("/bin/sh", "-c", command)

	var output *captureBuffer
	if e.UseConsole() {
		cmd.Stdout, cmd.Stderr = nil, nil
	} else {
		output = newCaptureBuffer()
		cmd.Stdout = output
		cmd.Stderr = output
	}

	if err := cmd.Start(); err != nil {
		r.results <- &Result{Edge: e, Status: ExitFailure, Output: err.Error()}
		return true
	}

	r.mu.Lock()
	r.running[e] = cmd
	r.mu.Unlock()

	go r.wait(e, cmd, output)
	return true
}

func (r *Real) wait(e *graph.Edge, cmd *exec.Cmd, output *captureBuffer) {
	err := cmd.Wait()
	r.mu.Lock()
	delete(r.running, e)
	r.mu.Unlock()

	status := ExitSuccess
	if r.aborting.IsSet() {
		status = ExitInterrupted
	} else if err != nil {
		status = ExitFailure
	}
	out := ""
	if output != nil {
		out = output.String()
	}
	r.results <- &Result{Edge: e, Status: status, Output: out}
}

func (r *Real) WaitForCommand() (*Result, bool) {
	res, ok := <-r.results
	return res, ok
}

func (r *Real) GetActiveEdges() []*graph.Edge {
	r.mu.Lock()
	defer r.mu.Unlock()
	edges := make([]*graph.Edge, 0, len(r.running))
	for e := range r.running {
		edges = append(edges, e)
	}
	return edges
}

// Abort kills every running subprocess; in-flight wait() goroutines
// still deliver an ExitInterrupted Result so the builder's drain loop
// terminates instead of blocking forever.
func (r *Real) Abort() {
	r.aborting.Set()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range r.running {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
	}
}
