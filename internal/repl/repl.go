package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"lume/internal/vm"
)

// Start runs the read-eval-print loop on one persistent VM, so globals
// and functions defined on earlier lines stay visible. Each line is a
// full source unit; errors print and the loop continues.
func Start(in io.Reader, out io.Writer) {
	interactive := false
	if f, ok := in.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if interactive {
		fmt.Fprintln(out, "lume repl | type 'exit' to quit")
	}

	m := vm.New(vm.WithOutput(out))
	defer m.Free()

	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, ">>> ")
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Fprintln(out)
			}
			return
		}
		line := scanner.Text()
		if line == "exit" {
			return
		}
		if line == "" {
			continue
		}
		if m.Interpret(line) != vm.InterpretOK {
			fmt.Fprintln(out, m.Err().Error())
		}
	}
}
