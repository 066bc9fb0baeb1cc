package client

import (
	"fmt"
	"io"
	"math"
	"os"

	"golang.org/x/term"

	"github.com/oshokin/machine-updater/internal/domain/update"
)

// clearLine returns the cursor to column 0 and erases the line.
const clearLine = "\r\033[K"

// renderer prints run events for an operator. On a terminal the progress line
// is redrawn in place; otherwise a line is printed each time progress changes.
type renderer struct {
	out   io.Writer
	tty   bool
	quiet bool

	progressShown bool
	lastProgress  string
}

func newRenderer(out io.Writer, quiet bool) *renderer {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = term.IsTerminal(int(f.Fd()))
	}

	return &renderer{
		out:   out,
		tty:   tty,
		quiet: quiet,
	}
}

func (r *renderer) render(env update.Envelope) {
	switch event := env.Event.(type) {
	case update.LogLine:
		if r.quiet && event.Stream != update.StreamSystem {
			return
		}

		r.println(event.Text)
	case update.StepChange:
		r.println(fmt.Sprintf("==> %s: %s", event.Step.Label(), event.Status))
	case update.SourceProgress:
		r.progress(fmt.Sprintf("[%3d%%] Fetching source", int(math.Floor(event.Percent))))
	case update.BuildProgress:
		r.progress(fmt.Sprintf("[%3d%%] %s", event.Percent, event.Phase))
	case update.End:
		switch {
		case event.Success:
			r.println("Update completed successfully")
		case event.Cancelled:
			r.println("Update cancelled")
		default:
			r.println("Update failed: " + event.Error)
		}
	}
}

func (r *renderer) progress(text string) {
	if text == r.lastProgress {
		return
	}

	r.lastProgress = text

	if !r.tty {
		_, _ = fmt.Fprintln(r.out, text)

		return
	}

	_, _ = fmt.Fprint(r.out, clearLine+text)
	r.progressShown = true
}

func (r *renderer) println(text string) {
	if r.progressShown {
		_, _ = fmt.Fprint(r.out, clearLine)
		r.progressShown = false
	}

	_, _ = fmt.Fprintln(r.out, text)

	// Redraw the progress line below the new output.
	if r.tty && r.lastProgress != "" {
		_, _ = fmt.Fprint(r.out, r.lastProgress)
		r.progressShown = true
	}
}
