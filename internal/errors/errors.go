package errors

import (
	"fmt"
	"strings"
)

type Kind string

const (
	CompileError Kind = "CompileError"
	RuntimeError Kind = "RuntimeError"
)

// StackFrame is one entry of a runtime error's call trace.
type StackFrame struct {
	Function string
	Line     int
}

// LumeError carries what the CLI prints: the kind decides the exit code,
// the line points into the script, runtime errors add the call stack.
type LumeError struct {
	Kind      Kind
	Message   string
	Line      int
	CallStack []StackFrame
}

func (e *LumeError) Error() string {
	var sb strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&sb, "[line %d] %s: %s", e.Line, e.Kind, e.Message)
	} else {
		fmt.Fprintf(&sb, "%s: %s", e.Kind, e.Message)
	}
	for _, f := range e.CallStack {
		name := f.Function
		if name == "" {
			name = "script"
		}
		fmt.Fprintf(&sb, "\n  at %s (line %d)", name, f.Line)
	}
	return sb.String()
}

func NewCompileError(line int, format string, args ...interface{}) *LumeError {
	return &LumeError{Kind: CompileError, Line: line, Message: fmt.Sprintf(format, args...)}
}

func NewRuntimeError(line int, format string, args ...interface{}) *LumeError {
	return &LumeError{Kind: RuntimeError, Line: line, Message: fmt.Sprintf(format, args...)}
}

// IsCompile reports whether err is a compile-stage LumeError.
func IsCompile(err error) bool {
	le, ok := err.(*LumeError)
	return ok && le.Kind == CompileError
}

// IsRuntime reports whether err is a runtime LumeError.
func IsRuntime(err error) bool {
	le, ok := err.(*LumeError)
	return ok && le.Kind == RuntimeError
}
