package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"loxvm/internal/ast"
	"loxvm/internal/chunk"
	"loxvm/internal/compiler"
	"loxvm/internal/diag"
	"loxvm/internal/parser"
	"loxvm/internal/value"
	"loxvm/internal/vm"
)

const version = "v0.1.0"

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "internal error:", r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	showDisassemble := flag.Bool("disassemble", false, "print the compiled bytecode instead of running it")
	showStats := flag.Bool("stats", false, "print execution statistics after running")
	showVersion := flag.Bool("version", false, "print version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: loxvm [options] [script]\n\nOptions:\n")
		flag.VisitAll(func(f *flag.Flag) {
			fmt.Fprintf(os.Stderr, "  -%s\n\t%s\n", f.Name, f.Usage)
		})
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("loxvm %s\n", version)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		startREPL(*showDisassemble, *showStats)
		return
	}

	source, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if !runOnce(args[0], string(source), *showDisassemble, *showStats) {
		os.Exit(1)
	}
}

// runOnce scans, parses, compiles, and runs source once, rendering any
// diagnostic to stderr. It reports whether the run succeeded.
func runOnce(filename, source string, disassemble, stats bool) bool {
	p, d := parser.New(source)
	if d != nil {
		diag.Render(os.Stderr, filename, source, d)
		return false
	}
	decls, d := p.ParseProgram()
	if d != nil {
		diag.Render(os.Stderr, filename, source, d)
		return false
	}

	heap := value.NewHeap()
	defer heap.Close()

	entry, fns, d := compiler.Compile(heap, decls)
	if d != nil {
		diag.Render(os.Stderr, filename, source, d)
		return false
	}

	if disassemble {
		entry.Chunk.(*chunk.Chunk).DisassembleAll(filename, os.Stdout)
		return true
	}

	start := time.Now()
	machine := vm.New(heap, fns, os.Stdout)
	if d := machine.Run(entry); d != nil {
		diag.Render(os.Stderr, filename, source, d)
		return false
	}
	if stats {
		printStats(os.Stdout, heap, machine, entry, time.Since(start))
	}
	return true
}

// printStats reports the counters -stats advertises: the entry
// function's instruction count and constant-pool size, the heap's
// total allocation count, and the VM's peak value-stack depth (a
// high-water mark kept across every Run on that VM, so a REPL session
// reports its peak so far), plus wall-clock time.
func printStats(w io.Writer, heap *value.Heap, machine *vm.VM, entry *value.Function, elapsed time.Duration) {
	c := entry.Chunk.(*chunk.Chunk)
	fmt.Fprintf(w, "-- %s instructions, %s constants, %s heap allocations, peak stack depth %s, %s\n",
		humanize.Comma(int64(c.Len())),
		humanize.Comma(int64(len(c.Constants))),
		humanize.Comma(int64(heap.Len())),
		humanize.Comma(int64(machine.PeakStackDepth())),
		elapsed)
}

// startREPL runs an interactive loop against a persistent VM so
// declarations accumulate across lines, rendering any diagnostic with
// the session id folded into its location line. Interactive sessions
// get readline history and editing; piped input falls back to a plain
// line scanner.
func startREPL(disassemble, stats bool) {
	sessionID := uuid.New().String()
	fmt.Printf("loxvm %s (session %s)\n", version, sessionID[:8])

	heap := value.NewHeap()
	defer heap.Close()
	functions := make(map[string]*value.Function)
	machine := vm.New(heap, functions, os.Stdout)

	session := &replSession{
		heap:        heap,
		functions:   functions,
		machine:     machine,
		disassemble: disassemble,
		stats:       stats,
		sessionID:   sessionID[:8],
	}
	if isatty.IsTerminal(os.Stdin.Fd()) {
		session.runInteractive()
		return
	}
	session.runPiped()
}

// replSession holds everything that must persist across REPL lines: the
// shared heap/function table/VM, and the pending input buffer an
// incomplete parse accumulates into.
type replSession struct {
	heap        *value.Heap
	functions   map[string]*value.Function
	machine     *vm.VM
	disassemble bool
	stats       bool
	sessionID   string
	buffer      string
}

func (s *replSession) prompt() string {
	if s.buffer == "" {
		return "loxvm> "
	}
	return "...    "
}

func (s *replSession) runInteractive() {
	rl, err := readline.New(s.prompt())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	defer rl.Close()

	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if err != nil { // io.EOF on Ctrl-D, readline.ErrInterrupt on Ctrl-C
			return
		}
		if line == "" && s.buffer == "" {
			return
		}
		s.feed(line)
	}
}

func (s *replSession) runPiped() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" && s.buffer == "" {
			return
		}
		s.feed(line)
	}
}

// feed appends line to the pending input buffer and attempts to parse
// the buffer as a whole. An early-EOF diagnostic means the buffer is a
// valid prefix of something larger (an unterminated block, call, or
// declaration), so it keeps accumulating across lines exactly the way
// the teacher's REPL keeps appending to its own inputBuffer until a
// parse succeeds or fails for a real reason. Any other outcome —
// success or a genuine error — resets the buffer for the next entry.
func (s *replSession) feed(line string) {
	if s.buffer == "" {
		s.buffer = line
	} else {
		s.buffer += "\n" + line
	}

	p, d := parser.New(s.buffer)
	var decls []ast.Declaration
	if d == nil {
		decls, d = p.ParseProgram()
	}
	if d != nil {
		if d.Code == "E0003" {
			return // incomplete input: keep reading
		}
		s.render(d)
		s.buffer = ""
		return
	}

	s.run(decls)
	s.buffer = ""
}

func (s *replSession) run(decls []ast.Declaration) {
	entry, fns, d := compiler.Compile(s.heap, decls)
	if d != nil {
		s.render(d)
		return
	}
	for name, fn := range fns {
		s.functions[name] = fn
	}

	if s.disassemble {
		entry.Chunk.(*chunk.Chunk).Disassemble("<repl>", os.Stdout)
		return
	}

	start := time.Now()
	if d := s.machine.Run(entry); d != nil {
		s.render(d)
		return
	}
	if s.stats {
		printStats(os.Stdout, s.heap, s.machine, entry, time.Since(start))
	}
}

func (s *replSession) render(d *diag.Diagnostic) {
	diag.Render(os.Stderr, fmt.Sprintf("<repl:%s>", s.sessionID), s.buffer, d)
}
