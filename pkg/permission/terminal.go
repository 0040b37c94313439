package permission

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// ErrNoTerminal is returned by a TerminalRequester when stdin is not interactive.
var ErrNoTerminal = errors.New("no terminal available for permission prompt")

// TerminalRequester asks the user on the controlling terminal. Like an operating system, it
// remembers grants for the lifetime of the process and does not ask again.
type TerminalRequester struct {
	in  io.Reader
	out io.Writer

	// isTerminal reports whether in is interactive.
	isTerminal func() bool

	mu      sync.Mutex
	reader  *bufio.Reader
	granted map[Capability]bool
}

// NewTerminalRequester returns a requester that prompts on stderr and reads answers from stdin.
func NewTerminalRequester() *TerminalRequester {
	return &TerminalRequester{
		in:  os.Stdin,
		out: os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
		granted: make(map[Capability]bool),
	}
}

func newTerminalRequester(in io.Reader, out io.Writer) *TerminalRequester {
	return &TerminalRequester{
		in:         in,
		out:        out,
		isTerminal: func() bool { return true },
		granted:    make(map[Capability]bool),
	}
}

func (r *TerminalRequester) RequestPermission(ctx context.Context, c Capability, p Prompt) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.granted[c] {
		return StatusGranted, nil
	}
	if !r.isTerminal() {
		return StatusUnrequested, ErrNoTerminal
	}
	if r.reader == nil {
		r.reader = bufio.NewReader(r.in)
	}

	if err := ctx.Err(); err != nil {
		return StatusUnrequested, err
	}

	// The read is not interruptible; ctx is only checked before prompting.
	fmt.Fprintf(r.out, "%s\n%s\nAllow %s? [y/N] ", p.Title, p.Message, c.ID())
	line, err := r.reader.ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			return StatusDenied, nil
		}
		return StatusUnrequested, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		r.granted[c] = true
		return StatusGranted, nil
	}
	return StatusDenied, nil
}
