package cmd

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// timeRounding keeps printed durations readable.
const timeRounding = time.Millisecond

// isTerminal reports whether the writer is an interactive terminal.
// Non-terminal output (pipes, redirects, CI) gets plain unadorned lines.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
