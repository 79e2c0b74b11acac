package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/chzyer/readline"

	"github.com/aishell/aish/pkg/agent"
	"github.com/aishell/aish/pkg/bus"
	"github.com/aishell/aish/pkg/config"
	"github.com/aishell/aish/pkg/logger"
	"github.com/aishell/aish/pkg/providers"
)

var (
	version   = "dev"
	buildTime string
)

const cliName = "aish"

func printVersion() {
	fmt.Printf("%s v%s\n", cliName, version)
	if buildTime != "" {
		fmt.Printf("  Build: %s\n", buildTime)
	}
	fmt.Printf("  Go: %s\n", runtime.Version())
}

func usage() {
	fmt.Printf(`%s - turn natural language into supervised shell commands

Usage:
  %s [flags]              interactive mode
  %s -c "request" [flags] run one request and exit
  %s doctor               check external tools and configuration
  %s version              print version

Flags:
  --config <path>   config file (default %s)
  -c <text>         one-shot request
  --simulate        dry-run confirmation for destructive commands
  --debug           verbose logging
`, cliName, cliName, cliName, cliName, cliName, config.DefaultPath())
}

func main() {
	args := os.Args[1:]

	if len(args) > 0 {
		switch args[0] {
		case "version", "--version":
			printVersion()
			return
		case "help", "--help", "-h":
			usage()
			return
		case "doctor":
			os.Exit(doctorCmd(args[1:]))
		}
	}

	configPath := config.DefaultPath()
	message := ""
	simulateFlag := false
	debug := false

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			if i+1 < len(args) {
				configPath = args[i+1]
				i++
			}
		case "-c", "--message":
			if i+1 < len(args) {
				message = args[i+1]
				i++
			}
		case "--simulate":
			simulateFlag = true
		case "--debug", "-d":
			debug = true
		default:
			fmt.Printf("unknown flag %q\n\n", args[i])
			usage()
			os.Exit(2)
		}
	}

	if debug {
		logger.SetLevel(logger.DEBUG)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	if simulateFlag {
		cfg.Execution.SimulationMode = true
	}

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		fmt.Printf("Error creating provider: %v\n", err)
		os.Exit(1)
	}

	msgBus := bus.NewMessageBus()
	console := newConsole()
	loop, err := agent.New(cfg, msgBus, provider, console)
	if err != nil {
		fmt.Printf("Error starting: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First SIGINT cancels the in-flight request; a second one exits.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		loop.Cancel()
		<-sigCh
		cancel()
		os.Exit(130)
	}()

	terminal := make(chan bus.Event, 1)
	go console.render(ctx, msgBus, terminal)

	if message != "" {
		loop.ProcessDirect(ctx, message)
		ev := <-terminal
		loop.Close()
		if ev.Kind == bus.EventError {
			os.Exit(1)
		}
		return
	}

	interactiveMode(ctx, loop, console, terminal)
	loop.Close()
}

func interactiveMode(ctx context.Context, loop *agent.Loop, console *consoleUI, terminal chan bus.Event) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          console.prompt(),
		HistoryFile:     filepath.Join(os.TempDir(), ".aish_history"),
		HistoryLimit:    200,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Printf("Error initializing readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()
	console.attach(rl)

	fmt.Printf("%s interactive mode (exit or Ctrl+D to quit, help for commands)\n\n", cliName)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				fmt.Println("bye")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("bye")
			return
		}

		loop.ProcessDirect(ctx, input)
		select {
		case <-terminal:
		case <-ctx.Done():
			return
		}
		fmt.Println()
	}
}
