package workflow

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
)

// PromptConfirmer asks on Out and reads a y/N answer from In.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer

	once sync.Once
	r    *bufio.Reader
}

func (p *PromptConfirmer) Confirm(prompt string) (bool, error) {
	p.once.Do(func() { p.r = bufio.NewReader(p.In) })
	if _, err := fmt.Fprintf(p.Out, "%s [y/N] ", prompt); err != nil {
		return false, err
	}
	line, err := p.r.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (p *PromptConfirmer) Warn(msg string) {
	_, _ = fmt.Fprintf(p.Out, "warning: %s\n", msg)
}

// denyConfirmer refuses everything; it is the default when no prompt is wired.
type denyConfirmer struct{}

func (denyConfirmer) Confirm(string) (bool, error) { return false, nil }
func (denyConfirmer) Warn(string)                  {}
