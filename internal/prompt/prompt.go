// Package prompt reads human input for one-time codes and manual
// checkpoints.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
)

// ErrNotInteractive is returned when no human can answer.
var ErrNotInteractive = errors.New("prompt: input is not interactive")

// Prompter asks a question and returns the answer line without its
// trailing newline.
type Prompter interface {
	PromptLine(ctx context.Context, msg string) (string, error)
}

// Func adapts a function to Prompter.
type Func func(ctx context.Context, msg string) (string, error)

func (f Func) PromptLine(ctx context.Context, msg string) (string, error) { return f(ctx, msg) }

// Disabled answers every prompt with ErrNotInteractive.
var Disabled Prompter = Func(func(context.Context, string) (string, error) {
	return "", ErrNotInteractive
})

type line struct {
	text string
	err  error
	// prompt is the prompt that was showing when the line completed.
	prompt uint64
}

// Terminal prompts on out and reads lines from in. Reads happen on a
// single background goroutine, one line per request, so a prompt can be
// abandoned when its context ends. A line that completes while an
// abandoned prompt is still the latest one is dropped by the next prompt.
type Terminal struct {
	in          io.Reader
	out         io.Writer
	interactive bool

	once  sync.Once
	want  chan struct{}
	lines chan line
	seq   atomic.Uint64

	mu      sync.Mutex
	pending bool
}

// NewTerminal returns a Terminal over the given streams.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out, interactive: true}
}

// Stdio returns a Terminal on stdin and stderr. It reports itself
// interactive only when stdin is a terminal.
func Stdio() *Terminal {
	t := NewTerminal(os.Stdin, os.Stderr)
	t.interactive = term.IsTerminal(int(os.Stdin.Fd()))
	return t
}

// Interactive reports whether a human is expected on the other side.
func (t *Terminal) Interactive() bool { return t.interactive }

func (t *Terminal) start() {
	t.want = make(chan struct{}, 1)
	t.lines = make(chan line, 1)
	go func() {
		defer close(t.lines)
		r := bufio.NewReader(t.in)
		for range t.want {
			s, err := r.ReadString('\n')
			if s != "" {
				// The error resurfaces on the next read.
				err = nil
			}
			t.lines <- line{text: strings.TrimRight(s, "\r\n"), err: err, prompt: t.seq.Load()}
			if err != nil {
				return
			}
		}
	}()
}

// PromptLine writes msg and waits for one line of input or ctx's end.
// Answers typed for an earlier, abandoned prompt are skipped.
func (t *Terminal) PromptLine(ctx context.Context, msg string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.once.Do(t.start)
	id := t.seq.Add(1)
	if _, err := fmt.Fprint(t.out, msg); err != nil {
		return "", err
	}
	for {
		if !t.pending {
			t.want <- struct{}{}
			t.pending = true
		}
		select {
		case <-ctx.Done():
			fmt.Fprintln(t.out)
			return "", ctx.Err()
		case l, ok := <-t.lines:
			if !ok {
				return "", io.EOF
			}
			t.pending = false
			if l.err == nil && l.prompt != id {
				continue
			}
			return l.text, l.err
		}
	}
}

// Confirm prompts and reports whether the answer starts with y or is
// empty when def is true.
func Confirm(ctx context.Context, p Prompter, msg string, def bool) (bool, error) {
	ans, err := p.PromptLine(ctx, msg)
	if err != nil {
		return false, err
	}
	ans = strings.ToLower(strings.TrimSpace(ans))
	if ans == "" {
		return def, nil
	}
	return strings.HasPrefix(ans, "y"), nil
}
