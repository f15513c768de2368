package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/user/detectshow/pkg/orchestrator"
)

const barWidth = 30

// progressLine redraws a single status line on terminals and stays silent
// otherwise.
type progressLine struct {
	out     io.Writer
	enabled bool
	drawn   bool
}

func newProgressLine(out io.Writer, enabled bool) *progressLine {
	if f, ok := out.(*os.File); ok {
		fd := f.Fd()
		enabled = enabled && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
	} else {
		enabled = false
	}
	return &progressLine{out: out, enabled: enabled}
}

// Update redraws the line for p.
func (p *progressLine) Update(ev orchestrator.EventProgress) {
	if !p.enabled {
		return
	}
	fmt.Fprint(p.out, "\r"+formatProgress(ev))
	p.drawn = true
}

// Done ends the line.
func (p *progressLine) Done() {
	if p.drawn {
		fmt.Fprintln(p.out)
		p.drawn = false
	}
}

func formatProgress(ev orchestrator.EventProgress) string {
	f := ev.Fraction
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	filled := int(f * barWidth)
	return fmt.Sprintf("[%s%s] %3d%% %d/%d",
		strings.Repeat("=", filled), strings.Repeat(" ", barWidth-filled),
		int(f*100), ev.Sample, ev.Total)
}
