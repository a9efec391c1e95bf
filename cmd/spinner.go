package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// UISpinner shows progress of a slow step on a terminal. With debug logging, or when
// stderr is not a terminal, it prints plain lines instead.
type UISpinner struct {
	sp    *spinner.Spinner
	out   io.Writer
	plain bool
}

// NewUISpinner starts a spinner with the given message.
func NewUISpinner(debug bool, message string) *UISpinner {
	s := &UISpinner{out: os.Stderr}
	s.plain = debug || !term.IsTerminal(int(os.Stderr.Fd()))

	if !s.plain {
		// Use dots spinner style (CharSet 14)
		s.sp = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriterFile(os.Stderr))
		s.sp.Prefix = "  "
		s.sp.Suffix = " " + message
		s.sp.Start()
	} else if debug {
		fmt.Fprintf(s.out, "[DEBUG] %s\n", message)
	}
	return s
}

// Success stops the spinner and prints a success message
func (s *UISpinner) Success(message string) {
	if s.sp != nil {
		s.sp.Stop()
		fmt.Fprintf(s.out, "\r\033[K  ✓ %s\n", message) // \033[K clears the line
	} else if s.plain {
		fmt.Fprintf(s.out, "✓ %s\n", message)
	}
}

// Fail stops the spinner and prints an error message
func (s *UISpinner) Fail(message string) {
	if s.sp != nil {
		s.sp.Stop()
		fmt.Fprintf(s.out, "\r\033[K  ✗ %s\n", message)
	} else if s.plain {
		fmt.Fprintf(s.out, "✗ %s\n", message)
	}
}
