package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
)

var (
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f"))
	promptStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681"))
)

// Console speaks and listens over a terminal. Each input line is one
// user utterance.
type Console struct {
	mu      sync.Mutex
	scanner *bufio.Scanner
	out     io.Writer
}

var (
	_ contractx.Speaker  = (*Console)(nil)
	_ contractx.Listener = (*Console)(nil)
)

func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{
		scanner: bufio.NewScanner(in),
		out:     out,
	}
}

func (c *Console) Say(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "%s %s\n", assistantStyle.Render("Assistant:"), text)
	return err
}

// Listen blocks for the next line. It returns io.EOF once input is closed.
func (c *Console) Listen(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	fmt.Fprint(c.out, promptStyle.Render("You: "))
	c.mu.Unlock()

	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return c.scanner.Text(), nil
}
