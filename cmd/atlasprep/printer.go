package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
)

type printer struct {
	stdout, stderr io.Writer
	green          *color.Color
	yellow         *color.Color
	red            *color.Color
	cyan           *color.Color
}

func newPrinter(stdout, stderr io.Writer) *printer {
	return &printer{
		stdout: stdout,
		stderr: stderr,
		green:  color.New(color.FgGreen),
		yellow: color.New(color.FgYellow),
		red:    color.New(color.FgRed, color.Bold),
		cyan:   color.New(color.FgCyan),
	}
}

func (p *printer) success(format string, a ...any) {
	_, _ = p.green.Fprintf(p.stdout, "✓ "+format+"\n", a...)
}

func (p *printer) warning(format string, a ...any) {
	_, _ = p.yellow.Fprintf(p.stderr, "warning: "+format+"\n", a...)
}

func (p *printer) failure(err error) {
	_, _ = p.red.Fprintf(p.stderr, "error: %v\n", err)
}

func (p *printer) field(name string, value any) {
	_, _ = fmt.Fprintf(p.stdout, "  %s %v\n", p.cyan.Sprintf("%-10s", name), value)
}

func (p *printer) json(v any) error {
	enc := json.NewEncoder(p.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p *printer) table() *tabwriter.Writer {
	return tabwriter.NewWriter(p.stdout, 0, 4, 2, ' ', 0)
}
