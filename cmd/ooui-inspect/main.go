package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/docopt/docopt-go"
	"github.com/rs/zerolog"

	"github.com/ooui-go/ooui/internal/client"
	"github.com/ooui-go/ooui/internal/client/memdom"
	"github.com/ooui-go/ooui/internal/inspect"
	"github.com/ooui-go/ooui/internal/logging"
)

const usage = `ooui-inspect mirrors a published page in the terminal.

Usage:
  ooui-inspect [--width=<px>] [--height=<px>] [--log=<file>] <url>
  ooui-inspect -h | --help

Options:
  -h --help        Show this screen.
  --width=<px>     Viewport width reported to the server [default: 640].
  --height=<px>    Viewport height reported to the server [default: 480].
  --log=<file>     Write logs to file instead of discarding them.
`

func main() {
	opts, err := docopt.ParseDoc(usage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	url, _ := opts.String("<url>")
	width, err := opts.Int("--width")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: --width: %v\n", err)
		os.Exit(2)
	}
	height, err := opts.Int("--height")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: --height: %v\n", err)
		os.Exit(2)
	}

	logger := zerolog.Nop()
	if path, _ := opts.String("--log"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		logger = logging.New(logging.Config{Level: zerolog.DebugLevel, Timestamp: true, JSON: true, Out: f})
	}

	frames := make(chan struct{}, 1)
	doc := memdom.New()
	conn, err := client.Dial(context.Background(), url, doc, client.Options{
		Width:  width,
		Height: height,
		Logger: &logger,
		OnFrame: func() {
			select {
			case frames <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	m := inspect.New(conn, doc, frames, url)
	p := tea.NewProgram(m, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
