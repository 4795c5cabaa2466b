package main

import (
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// palette holds the colours used for terminal output.
type palette struct {
	device  *color.Color
	service *color.Color
	char    *color.Color
	value   *color.Color
	muted   *color.Color
}

// newPalette enables colours only when w is a terminal.
func newPalette(w io.Writer) *palette {
	p := &palette{
		device:  color.New(color.FgGreen, color.Bold),
		service: color.New(color.FgCyan),
		char:    color.New(color.FgYellow),
		value:   color.New(color.FgMagenta),
		muted:   color.New(color.Faint),
	}

	enabled := false
	if f, ok := w.(*os.File); ok {
		enabled = term.IsTerminal(int(f.Fd()))
	}
	for _, c := range []*color.Color{p.device, p.service, p.char, p.value, p.muted} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}
