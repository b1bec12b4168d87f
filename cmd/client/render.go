package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/omochice/vetchat/pkg/protocol"
)

var (
	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	authorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	selfStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))
)

// formatMessage renders one chat line. System notifications get their own
// style and no author column.
func formatMessage(msg protocol.ChatMessage, identity string) string {
	ts := timeStyle.Render(msg.Time().Local().Format("15:04"))
	if msg.IsSystem() {
		return fmt.Sprintf("%s %s", ts, systemStyle.Render("* "+msg.Content))
	}
	style := authorStyle
	if msg.Author == identity {
		style = selfStyle
	}
	return fmt.Sprintf("%s %s %s", ts, style.Render(msg.Author+":"), msg.Content)
}

// console serializes terminal output between the event printer and the
// input loop.
type console struct {
	mu       sync.Mutex
	out      io.Writer
	identity string
}

func (c *console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

func (c *console) message(msg protocol.ChatMessage) {
	c.println(formatMessage(msg, c.identity))
}

func (c *console) header(format string, args ...any) {
	c.println(headerStyle.Render(fmt.Sprintf(format, args...)))
}

func (c *console) status(format string, args ...any) {
	c.println(statusStyle.Render(fmt.Sprintf(format, args...)))
}

func (c *console) error(err error) {
	c.println(errorStyle.Render("error: " + err.Error()))
}

func (c *console) list(items []string) {
	if len(items) == 0 {
		c.status("(none)")
		return
	}
	c.println("  " + strings.Join(items, "\n  "))
}
