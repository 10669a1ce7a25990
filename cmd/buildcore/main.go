// Command buildcore is a thin demo driver for the build engine core:
// it wires up the disk, build-log, deps-log and status collaborators
// from flags, builds a tiny in-memory graph standing in for whatever a
// real manifest front end would have parsed, and runs it. Parsing an
// actual .ninja-style manifest is explicitly out of scope for this
// core; a real frontend would call graph.State/BindingEnv directly the
// way this file does, just fed from a parser instead of hardcoded
// rules.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"git.sr.ht/~sircmpwn/getopt"

	"buildcore/internal/buildlog"
	"buildcore/internal/builder"
	"buildcore/internal/clock"
	"buildcore/internal/depslog"
	"buildcore/internal/disk"
	"buildcore/internal/graph"
	"buildcore/internal/status"
)

func terminateHandler(b *builder.Builder) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	b.Cleanup()
	os.Exit(130)
}

func parseFlags(args []string, cfg *builder.Config) (buildDir string, targets []string) {
	opts, optind, err := getopt.Getopts(args, "j:k:l:nvC:")
	if err != nil {
		log.Fatalln(err)
	}
	for _, o := range opts {
		switch o.Option {
		case 'j':
			n, err := strconv.Atoi(o.Value)
			if err != nil {
				log.Fatalf("invalid -j value %q", o.Value)
			}
			cfg.Parallelism = n
		case 'k':
			n, err := strconv.Atoi(o.Value)
			if err != nil {
				log.Fatalf("invalid -k value %q", o.Value)
			}
			cfg.FailuresAllowed = n
		case 'l':
			f, err := strconv.ParseFloat(o.Value, 64)
			if err != nil {
				log.Fatalf("invalid -l value %q", o.Value)
			}
			cfg.MaxLoadAverage = f
		case 'n':
			cfg.DryRun = true
		case 'v':
			cfg.Verbosity = builder.Verbose
		case 'C':
			buildDir = o.Value
		}
	}
	return buildDir, args[optind:]
}

// demoGraph builds a tiny two-edge graph (compile then link) so the
// binary has something to build when invoked with no real manifest
// frontend in front of it.
func demoGraph() (*graph.State, *graph.Node) {
	s := graph.NewState()
	cc := graph.NewRule("cc")
	cc.AddBinding("command", evalOf("cc -c $in -o $out"))
	cc.AddBinding("depfile", evalOf("$out.d"))
	cc.AddBinding("deps", evalOf("gcc"))
	s.Bindings().AddRule(cc)

	link := graph.NewRule("link")
	link.AddBinding("command", evalOf("cc $in -o $out"))
	s.Bindings().AddRule(link)

	compile := s.AddEdge(cc)
	s.AddIn(compile, "main.c", 0)
	if err := s.AddOut(compile, "main.o", 0); err != nil {
		log.Fatal(err)
	}

	linkEdge := s.AddEdge(link)
	s.AddIn(linkEdge, "main.o", 0)
	if err := s.AddOut(linkEdge, "app", 0); err != nil {
		log.Fatal(err)
	}

	return s, s.LookupNode("app")
}

func evalOf(s string) *graph.EvalString {
	e := &graph.EvalString{}
	for i := 0; i < len(s); {
		j := i + 1
		if s[i] == '$' {
			for j < len(s) && (s[j] == '_' || (s[j] >= 'a' && s[j] <= 'z') || (s[j] >= 'A' && s[j] <= 'Z') || (s[j] >= '0' && s[j] <= '9')) {
				j++
			}
			e.AddSpecial(s[i+1 : j])
		} else {
			for j < len(s) && s[j] != '$' {
				j++
			}
			e.AddText(s[i:j])
		}
		i = j
	}
	return e
}

func main() {
	cfg := builder.NewConfig()
	_, targetNames := parseFlags(os.Args[1:], cfg)

	st := status.NewPrinter(os.Stdout, cfg.Verbosity == builder.Verbose)

	buildLog, err := buildlog.Open(".buildcore_log.db")
	if err != nil {
		log.Fatalf("opening build log: %v", err)
	}
	defer buildLog.Close()

	depsLog, err := depslog.Open(".buildcore_deps.db")
	if err != nil {
		log.Fatalf("opening deps log: %v", err)
	}
	defer depsLog.Close()

	state, defaultTarget := demoGraph()
	d := disk.NewReal()

	b := builder.New(state, cfg, buildLog, depsLog, d, st, clock.NowMillis())
	go terminateHandler(b)

	targets := []*graph.Node{defaultTarget}
	if len(targetNames) > 0 {
		targets = targets[:0]
		for _, name := range targetNames {
			n := state.LookupNode(name)
			if n == nil {
				fmt.Fprintf(os.Stderr, "unknown target: %s\n", name)
				os.Exit(1)
			}
			targets = append(targets, n)
		}
	}

	for _, t := range targets {
		if err := b.AddTarget(t); err != nil {
			st.Error("%s", err.Error())
			os.Exit(1)
		}
	}

	if b.AlreadyUpToDate() {
		fmt.Println("buildcore: nothing to do.")
		return
	}

	if err := b.Build(); err != nil {
		st.Error("%s", err.Error())
		os.Exit(1)
	}
}
