package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/chzyer/readline"

	"github.com/aishell/aish/pkg/bus"
	"github.com/aishell/aish/pkg/orchestrator"
)

var (
	stylePrompt   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	styleInfo     = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	styleProgress = lipgloss.NewStyle().Faint(true)
	styleError    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	styleChoice   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleOption   = lipgloss.NewStyle().Faint(true)
)

// consoleUI renders bus events and answers the engine's choice
// prompts on the terminal.
type consoleUI struct {
	rl *readline.Instance
}

func newConsole() *consoleUI {
	return &consoleUI{}
}

func (c *consoleUI) prompt() string {
	return stylePrompt.Render(cliName+" ❯") + " "
}

// attach hands over the readline instance once the REPL owns one.
func (c *consoleUI) attach(rl *readline.Instance) {
	c.rl = rl
}

// render consumes bus events until ctx is cancelled, forwarding
// terminal events (result/error) to the REPL so it knows a request is
// finished.
func (c *consoleUI) render(ctx context.Context, b *bus.MessageBus, terminal chan<- bus.Event) {
	for {
		ev, ok := b.ConsumeEvent(ctx)
		if !ok {
			return
		}
		switch ev.Kind {
		case bus.EventProgress:
			fmt.Println(styleProgress.Render("  " + ev.Text))
		case bus.EventInfo:
			fmt.Println(styleInfo.Render("· " + ev.Text))
		case bus.EventError:
			fmt.Println(styleError.Render(ev.Text))
			terminal <- ev
		case bus.EventResult:
			fmt.Println(ev.Text)
			terminal <- ev
		}
	}
}

// PresentChoice shows numbered options and reads the answer: a number
// selects, empty/s skips, anything else is a free-form override
// command. An expired ctx counts as no answer.
func (c *consoleUI) PresentChoice(ctx context.Context, prompt string, options []string) (orchestrator.Choice, error) {
	fmt.Println(styleChoice.Render(prompt))
	for i, opt := range options {
		fmt.Println(styleOption.Render(fmt.Sprintf("  %d) %s", i+1, opt)))
	}

	line, err := c.readLine(ctx, styleChoice.Render("choice ❯")+" ")
	if err != nil {
		return orchestrator.Choice{}, err
	}

	answer := strings.TrimSpace(line)
	switch answer {
	case "", "s", "skip":
		return orchestrator.Choice{Skipped: true}, nil
	}
	if n, err := strconv.Atoi(answer); err == nil {
		return orchestrator.Choice{Index: n - 1}, nil
	}
	return orchestrator.Choice{Override: answer}, nil
}

func (c *consoleUI) readLine(ctx context.Context, prompt string) (string, error) {
	if c.rl == nil {
		// One-shot mode has no readline; choices fall back to skip.
		return "", nil
	}

	c.rl.SetPrompt(prompt)
	defer c.rl.SetPrompt(c.prompt())

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := c.rl.Readline()
		ch <- answer{line, err}
	}()

	select {
	case a := <-ch:
		if a.err == readline.ErrInterrupt {
			return "", a.err
		}
		return a.line, a.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
