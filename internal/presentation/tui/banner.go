package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the marionette banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.EnvColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{`  _ __ ___   __ _ _ __(_) ___  _ __   ___| |_| |_ ___`, "#818cf8"},
		{` | '_ ` + "`" + ` _ \ / _` + "`" + ` | '__| |/ _ \| '_ \ / _ \ __| __/ _ \`, "#a78bfa"},
		{` | | | | | | (_| | |  | | (_) | | | |  __/ |_| ||  __/`, "#c084fc"},
		{` |_| |_| |_|\__,_|_|  |_|\___/|_| |_|\___|\__|\__\___|`, "#f472b6"},
	}
	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  "+version).Faint())
	fmt.Fprintln(w)
}
