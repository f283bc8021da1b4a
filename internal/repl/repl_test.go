package repl

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplEvaluatesLines(t *testing.T) {
	in := strings.NewReader("let x = 40\nprint(x + 2)\n")
	var out bytes.Buffer
	Start(in, &out)
	assert.Equal(t, "42\n", out.String())
}

func TestReplStatePersistsBetweenLines(t *testing.T) {
	in := strings.NewReader(strings.Join([]string{
		`fn double(n) return n * 2 end`,
		`let v = double(21)`,
		`print(v)`,
	}, "\n"))
	var out bytes.Buffer
	Start(in, &out)
	assert.Equal(t, "42\n", out.String())
}

func TestReplRecoversFromErrors(t *testing.T) {
	in := strings.NewReader("print(boom)\nprint(1)\n")
	var out bytes.Buffer
	Start(in, &out)
	assert.Contains(t, out.String(), `undefined variable "boom"`)
	assert.True(t, strings.HasSuffix(out.String(), "1\n"))
}

func TestReplExitCommand(t *testing.T) {
	in := strings.NewReader("exit\nprint(1)\n")
	var out bytes.Buffer
	Start(in, &out)
	assert.Empty(t, out.String())
}
