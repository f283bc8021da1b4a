package jit

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// Stats are cumulative over the Context's lifetime.
type Stats struct {
	Compiled    uint64
	Failed      uint64
	Invalidated uint64
	Executions  uint64
	SideExits   uint64
	Evictions   uint64
}

func (c *Context) Stats() Stats {
	s := c.stats
	s.Evictions = c.hot.evictions
	return s
}

func (s Stats) String() string {
	var b strings.Builder
	row := func(name string, v uint64) {
		fmt.Fprintf(&b, "%-14s %s\n", name, humanize.Comma(int64(v)))
	}
	row("compiled", s.Compiled)
	row("rejected", s.Failed)
	row("invalidated", s.Invalidated)
	row("trace runs", s.Executions)
	row("side exits", s.SideExits)
	row("evictions", s.Evictions)
	return b.String()
}
