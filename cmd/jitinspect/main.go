// Command jitinspect is a debugging aid: it loads a p-code image, lets an
// operator request compilation of a function by offset, and prints its
// loop-edge table and compile metrics. The cip map is not printed. It is
// not part of the hot compile path.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/pcodevm/jit/compileenv"
	"github.com/pcodevm/jit/internal/emit/native"
	"github.com/pcodevm/jit/jit"
)

const (
	prompt       = "\033[32mjit>\033[0m "
	resultprefix = "\033[31m=\033[0m "
)

func main() {
	imagePath := flag.String("image", "", "path to a raw p-code image file")
	flag.Parse()

	if *imagePath == "" {
		fmt.Fprintln(os.Stderr, "jitinspect: -image is required")
		os.Exit(2)
	}
	code, err := os.ReadFile(*imagePath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitinspect:", err)
		os.Exit(1)
	}

	cfg, err := compileenv.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitinspect:", err)
		os.Exit(1)
	}
	env := compileenv.NewDefaultEnvironment(compileenv.NopDebugger{})
	linker := native.NewMMapLinker(cfg)
	defer linker.Close()
	rt := jit.NewPluginRuntime(code, 0)
	resolver := &inspectResolver{rt: rt}

	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".jitinspect-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "jitinspect:", err)
		os.Exit(1)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, "jitinspect:", err)
			break
		}
		runCommand(rt, env, linker, resolver, cfg, strings.TrimSpace(line))
	}
}

func runCommand(rt *jit.PluginRuntime, env compileenv.Environment, linker *native.MMapLinker, resolver *inspectResolver, cfg compileenv.Config, line string) {
	if line == "" {
		return
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "register":
		if len(fields) != 3 {
			fmt.Println("usage: register <offset> <name>")
			return
		}
		offset, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Println("jitinspect:", err)
			return
		}
		rt.Register(offset, fields[2])
		fmt.Println(resultprefix, "registered", fields[2], "at", offset)
	case "list":
		for _, m := range rt.Methods() {
			status := "uncompiled"
			if m.Jit() != nil {
				status = "compiled"
			}
			fmt.Printf("%s %6d  %s  %s\n", resultprefix, m.PcodeOffset, m.Name, status)
		}
	case "compile":
		if len(fields) != 2 {
			fmt.Println("usage: compile <offset>")
			return
		}
		offset, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Println("jitinspect:", err)
			return
		}
		method := rt.Lookup(offset)
		if method == nil {
			fmt.Println("jitinspect: no method registered at", offset)
			return
		}
		cf, err := jit.Compile(rt, env, linker, resolver, cfg, method)
		if err != nil {
			fmt.Println("jitinspect: compile failed:", err)
			return
		}
		printSummary(cf)
	case "help":
		fmt.Println("commands: register <offset> <name>, list, compile <offset>, help")
	default:
		fmt.Println("jitinspect: unknown command", fields[0], "(try 'help')")
	}
}

func printSummary(cf *jit.CompiledFunction) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "build %s  entry 0x%x  bytes %d  ool %d  backward-edges %d  error-slots %d\n",
		cf.BuildID(), cf.Entry(), cf.Metrics().EmittedBytes, cf.Metrics().OOLPaths, cf.Metrics().BackwardEdges, cf.Metrics().ErrorSlotsUsed)
	for _, e := range cf.LoopEdges() {
		fmt.Fprintf(&b, "  loop edge: branch@%d -> disp32=%d\n", e.Offset, e.Disp32)
	}
	fmt.Print(resultprefix, " ", b.String())
}

// inspectResolver resolves calls within the same image by offset: every
// registered method compiles to its own chunk, a compiled callee resolves
// to its entry address, and an unregistered or uncompiled callee fails
// resolution. jitinspect compiles functions one at a time on operator
// request, so an unresolved callee is expected and reported as such.
type inspectResolver struct {
	rt *jit.PluginRuntime
}

func (r *inspectResolver) TrampolineAddr(pcodeOffset int32) (uintptr, error) {
	method := r.rt.Lookup(int(pcodeOffset))
	if method == nil {
		return 0, fmt.Errorf("jitinspect: call target %d has no registered method", pcodeOffset)
	}
	if cf := method.Jit(); cf != nil {
		return cf.Entry(), nil
	}
	return 0, fmt.Errorf("jitinspect: call target %d (%s) is not yet compiled", pcodeOffset, method.Name)
}
