package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/aishell/aish/pkg/command"
	"github.com/aishell/aish/pkg/config"
	"github.com/aishell/aish/pkg/deps"
)

var (
	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleBad  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// doctorTools are the externals the generated commands lean on most.
var doctorTools = []string{"sh", "git", "curl", "tar", "grep", "find"}

// doctorCmd reports on configuration and tool availability. Exit code
// 1 when something needs attention.
func doctorCmd(args []string) int {
	configPath := config.DefaultPath()
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		}
	}

	problems := 0
	fmt.Printf("%s doctor\n\n", cliName)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("%s config: %v\n", styleBad.Render("✗"), err)
		return 1
	}
	fmt.Printf("%s config: %s\n", styleOK.Render("✓"), configPath)

	if cfg.Provider.APIKey == "" {
		fmt.Printf("%s provider %s: no API key (set AISH_API_KEY)\n", styleWarn.Render("!"), cfg.Provider.Name)
		problems++
	} else {
		fmt.Printf("%s provider: %s\n", styleOK.Render("✓"), cfg.Provider.Name)
	}

	m := deps.NewManager()
	for _, tool := range doctorTools {
		req := checkTool(m, tool)
		if req.Satisfied {
			fmt.Printf("%s %s\n", styleOK.Render("✓"), tool)
			continue
		}
		problems++
		if req.InstallCommand != "" {
			fmt.Printf("%s %s: missing (%s)\n", styleBad.Render("✗"), tool, req.InstallCommand)
		} else {
			fmt.Printf("%s %s: missing, no package manager detected\n", styleBad.Render("✗"), tool)
		}
	}

	if problems > 0 {
		fmt.Printf("\n%d issue(s) found\n", problems)
		return 1
	}
	fmt.Println("\nall good")
	return 0
}

func checkTool(m *deps.Manager, tool string) deps.Requirement {
	reqs := m.Check(command.NewStep(tool))
	if len(reqs) == 0 {
		return deps.Requirement{Tool: tool, Satisfied: true}
	}
	return reqs[0]
}
