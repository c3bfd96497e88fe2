// Package main implements uibridge-dash, a live view of the worker event log.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"uibridge/pkg/config"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "uibridge-dash: %v\n", err)
		os.Exit(1)
	}
	dbPath, err := cfg.DBPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "uibridge-dash: %v\n", err)
		os.Exit(1)
	}

	p := tea.NewProgram(newModel(dbPath), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running dashboard: %v\n", err)
		os.Exit(1)
	}
}
