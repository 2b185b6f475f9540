// Package main provides the entry point for helmdesk.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/helmdesk/helmdesk/internal/app"
	"github.com/helmdesk/helmdesk/internal/config"
	"github.com/helmdesk/helmdesk/internal/git"
	"github.com/helmdesk/helmdesk/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("helmdesk", version.Short())
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.EnsureDataDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(1)
	}

	// Logs go to a file: stderr belongs to the TUI.
	logger := slog.Default()
	logFile, err := os.OpenFile(filepath.Join(cfg.DataDir, "helmdesk.log"),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err == nil {
		defer logFile.Close()
		logger = slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	project := projectPath(flag.Arg(0))

	application, err := app.New(cfg, project, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting helmdesk: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// projectPath resolves the project to manage: the argument if given,
// otherwise the enclosing repository root, otherwise the working
// directory.
func projectPath(arg string) string {
	if arg != "" {
		if abs, err := filepath.Abs(arg); err == nil {
			return abs
		}
		return arg
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if root, err := git.FindRepoRoot(cwd); err == nil {
		return root
	}
	return cwd
}
