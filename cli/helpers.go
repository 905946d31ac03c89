package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Underline(true)
	msgStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	selectedStyle = lipgloss.NewStyle().Background(lipgloss.Color("57")).Foreground(lipgloss.Color("0"))
)

// Prompter asks the user for input. ReadPassword must not echo. Both
// return ctx.Err() once ctx is done, even while blocked on input.
type Prompter interface {
	ReadLine(ctx context.Context, prompt string) (string, error)
	ReadPassword(ctx context.Context, prompt string) ([]byte, error)
}

// TerminalPrompter reads from in and writes prompts to out. Password
// input is hidden when in is a terminal.
type TerminalPrompter struct {
	in     *bufio.Reader
	fd     int
	isTerm bool
	out    io.Writer
}

func NewTerminalPrompter(in *os.File, out io.Writer) *TerminalPrompter {
	fd := int(in.Fd())
	return &TerminalPrompter{
		in:     bufio.NewReader(in),
		fd:     fd,
		isTerm: term.IsTerminal(fd),
		out:    out,
	}
}

func (p *TerminalPrompter) ReadLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, prompt)
	return readWithContext(ctx, func() (string, error) {
		return readLine(p.in)
	})
}

func (p *TerminalPrompter) ReadPassword(ctx context.Context, prompt string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fmt.Fprint(p.out, prompt)
	if !p.isTerm {
		return readWithContext(ctx, func() ([]byte, error) {
			line, err := readLine(p.in)
			return []byte(line), err
		})
	}

	// term.ReadPassword restores echo only when it returns, which a
	// cancelled read never does.
	state, err := term.GetState(p.fd)
	if err != nil {
		return nil, fmt.Errorf("read terminal state: %w", err)
	}
	pw, err := readWithContext(ctx, func() ([]byte, error) {
		return term.ReadPassword(p.fd)
	})
	if ctx.Err() != nil {
		_ = term.Restore(p.fd, state)
	}
	fmt.Fprintln(p.out)
	return pw, err
}

// readWithContext runs read in its own goroutine and gives up when ctx
// is done. The abandoned read keeps its goroutine until input arrives
// or the process exits.
func readWithContext[T any](ctx context.Context, read func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := read()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// readLine returns one line without its terminator. io.EOF is returned
// only when nothing was read.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func printErr(w io.Writer, msg string) {
	fmt.Fprintln(w, errStyle.Render(msg))
}

func printWarn(w io.Writer, msg string) {
	fmt.Fprintln(w, warnStyle.Render(msg))
}

func printOK(w io.Writer, msg string) {
	fmt.Fprintln(w, msgStyle.Render(msg))
}
