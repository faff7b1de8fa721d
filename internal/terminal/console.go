// Package terminal presents a guarded page on a text console. Lines read from
// the input either answer an open prompt or are handed to a line handler.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/wolfeidau/caseguard/internal/page"
)

var (
	_ page.Prompter  = (*Console)(nil)
	_ page.Alerter   = (*Console)(nil)
	_ page.Navigator = (*Console)(nil)
)

// ErrPromptOpen is returned by Confirm while another prompt awaits an answer.
var ErrPromptOpen = errors.New("a prompt is already open")

// Console implements the page interfaces on a reader and writer pair.
type Console struct {
	in  io.Reader
	out io.Writer

	promptStyle  lipgloss.Style
	alertStyle   lipgloss.Style
	noticeStyle  lipgloss.Style
	statusStyle  lipgloss.Style
	successStyle lipgloss.Style

	outMu sync.Mutex

	mu         sync.Mutex
	answer     chan string
	onNavigate func(path string)
}

// New creates a console. Styles are resolved against out so colour is only
// emitted on terminals.
func New(in io.Reader, out io.Writer) *Console {
	r := lipgloss.NewRenderer(out)

	return &Console{
		in:           in,
		out:          out,
		promptStyle:  r.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		alertStyle:   r.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		noticeStyle:  r.NewStyle().Foreground(lipgloss.Color("39")),
		statusStyle:  r.NewStyle().Faint(true),
		successStyle: r.NewStyle().Foreground(lipgloss.Color("42")),
	}
}

// OnNavigate sets the hook run after a navigation is printed. The hook must
// not block on the guard.
func (c *Console) OnNavigate(fn func(path string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNavigate = fn
}

// Confirm prints msg and waits for the next input line. Only y and yes
// count as consent.
func (c *Console) Confirm(ctx context.Context, msg string) (bool, error) {
	ch := make(chan string, 1)

	c.mu.Lock()
	if c.answer != nil {
		c.mu.Unlock()
		return false, ErrPromptOpen
	}
	c.answer = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.answer == ch {
			c.answer = nil
		}
		c.mu.Unlock()
	}()

	c.write(c.promptStyle.Render(msg) + " [y/N] ")

	select {
	case line := <-ch:
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	case <-ctx.Done():
		c.write("\n")
		return false, ctx.Err()
	}
}

// Alert prints msg.
func (c *Console) Alert(_ context.Context, msg string) {
	c.write(c.alertStyle.Render("! "+msg) + "\n")
}

// Navigate prints the destination and runs the navigation hook.
func (c *Console) Navigate(_ context.Context, path string) {
	c.write(c.noticeStyle.Render("→ "+path) + "\n")

	c.mu.Lock()
	fn := c.onNavigate
	c.mu.Unlock()

	if fn != nil {
		fn(path)
	}
}

// Render prints the identity and remaining time slots of doc on one line.
func (c *Console) Render(doc *page.Document) {
	var parts []string
	for _, el := range doc.Query(page.AttrUserEmail) {
		if text := el.Text(); text != "" {
			parts = append(parts, "signed in as "+text)
			break
		}
	}
	for _, el := range doc.Query(page.AttrSessionTime) {
		if text := el.Text(); text != "" {
			parts = append(parts, "session "+text)
			break
		}
	}
	if len(parts) == 0 {
		return
	}

	c.write(c.statusStyle.Render(strings.Join(parts, " · ")) + "\n")
}

// Success prints a confirmation message.
func (c *Console) Success(msg string) {
	c.write(c.successStyle.Render(msg) + "\n")
}

// Printf prints an unstyled line.
func (c *Console) Printf(format string, args ...any) {
	c.write(fmt.Sprintf(format, args...))
}

func (c *Console) write(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = io.WriteString(c.out, s)
}

// Run reads input lines until ctx is done or the input ends. A line answers
// the open prompt if there is one, otherwise handle is called with it on its
// own goroutine so handlers may prompt. Run waits for handlers to return.
func (c *Console) Run(ctx context.Context, handle func(ctx context.Context, line string)) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// the reader cannot be interrupted; it exits with the input
	go func() {
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			return io.EOF
		case line := <-lines:
			c.mu.Lock()
			answer := c.answer
			c.answer = nil
			c.mu.Unlock()

			if answer != nil {
				answer <- line
				continue
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				handle(ctx, line)
			}()
		}
	}
}
