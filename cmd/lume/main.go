package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"lume/internal/bytecode"
	"lume/internal/compiler"
	"lume/internal/jit"
	"lume/internal/repl"
	"lume/internal/value"
	"lume/internal/vm"
)

const version = "0.1.0"

// sysexits-style codes: scripts and shells branch on these.
const (
	exitUsage    = 64
	exitData     = 65 // compile error
	exitSoftware = 70 // runtime error
	exitIO       = 74
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	stats, debug := false, false
	var rest []string
	for _, a := range args {
		switch a {
		case "--stats":
			stats = true
		case "--debug":
			debug = true
		case "--version", "-v":
			fmt.Println("lume " + version)
			return 0
		case "--help", "-h":
			usage(os.Stdout)
			return 0
		default:
			rest = append(rest, a)
		}
	}

	if len(rest) == 0 {
		repl.Start(os.Stdin, os.Stdout)
		return 0
	}

	switch rest[0] {
	case "repl":
		repl.Start(os.Stdin, os.Stdout)
		return 0
	case "check":
		if len(rest) < 2 {
			usage(os.Stderr)
			return exitUsage
		}
		return checkFile(rest[1])
	case "dis":
		if len(rest) < 2 {
			usage(os.Stderr)
			return exitUsage
		}
		return disFile(rest[1])
	case "run":
		if len(rest) < 2 {
			usage(os.Stderr)
			return exitUsage
		}
		return runFile(rest[1], stats, debug)
	}
	return runFile(rest[0], stats, debug)
}

func usage(w *os.File) {
	fmt.Fprintln(w, `usage: lume [options] [command] <script.lm>

commands:
  run <script>     run a script (default when a path is given)
  check <script>   parse and compile without running
  dis <script>     print the compiled bytecode
  repl             interactive session (default with no arguments)

options:
  --stats          print JIT statistics after the run
  --debug          log JIT compile and deopt activity
  --version        print the version
  --help           this text`)
}

func readScript(path string) (string, int) {
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "read script"))
		return "", exitIO
	}
	return string(src), 0
}

func runFile(path string, stats, debug bool) int {
	src, code := readScript(path)
	if code != 0 {
		return code
	}
	cfg := jit.ConfigFromEnv()
	cfg.Debug = cfg.Debug || debug
	m := vm.New(vm.WithJIT(jit.New(cfg)))
	defer m.Free()
	switch m.Interpret(src) {
	case vm.InterpretCompileError:
		fmt.Fprintln(os.Stderr, m.Err().Error())
		return exitData
	case vm.InterpretRuntimeError:
		fmt.Fprintln(os.Stderr, m.Err().Error())
		return exitSoftware
	}
	if stats {
		fmt.Fprint(os.Stderr, m.JIT().Stats().String())
	}
	return 0
}

func checkFile(path string) int {
	src, code := readScript(path)
	if code != 0 {
		return code
	}
	arena := value.NewArena()
	defer arena.Release()
	if _, err := compiler.Compile(src, arena); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return exitData
	}
	fmt.Printf("%s: ok\n", filepath.Base(path))
	return 0
}

func disFile(path string) int {
	src, code := readScript(path)
	if code != 0 {
		return code
	}
	arena := value.NewArena()
	defer arena.Release()
	chunk, err := compiler.Compile(src, arena)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return exitData
	}
	bytecode.Disassemble(os.Stdout, chunk, filepath.Base(path))
	for _, c := range chunk.Constants {
		if c.IsObj() && c.AsObj().Type == value.OFunc {
			fn := c.AsObj().Fn
			bytecode.Disassemble(os.Stdout, fn.Chunk.(*bytecode.Chunk), fn.Name)
		}
	}
	return 0
}
