package session

import (
	"fmt"
	"io"
)

var frames = []string{"⣀⣀", "⣄⣀", "⣤⣀", "⣦⣄", "⣶⣤", "⣿⣦", "⣿⣷", "⣿⣿", "⣷⣿", "⣦⣿", "⣤⣷", "⣄⣦", "⣀⣤", "⣀⣄"}

// progress redraws a single status line per capture attempt. On a
// non-terminal writer it prints one line per shot instead.
type progress struct {
	w      io.Writer
	tty    bool
	frame  int
	failed int
}

func newProgress(w io.Writer, tty bool) *progress {
	return &progress{w: w, tty: tty}
}

func (p *progress) update(shot, total int, err error) {
	if err != nil {
		p.failed++
	}
	if !p.tty {
		status := "ok"
		if err != nil {
			status = "failed: " + err.Error()
		}
		fmt.Fprintf(p.w, "shot %d/%d %s\n", shot, total, status)
		return
	}
	// hide cursor while drawing
	fmt.Fprintf(p.w, "\033[?25l\r%s shot %d/%d", frames[p.frame], shot, total)
	if p.failed > 0 {
		fmt.Fprintf(p.w, " (%d failed)", p.failed)
	}
	p.frame = (p.frame + 1) % len(frames)
}

func (p *progress) done() {
	if p.tty {
		fmt.Fprint(p.w, "\r\033[K\033[?25h")
	}
}
