package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"dmterm/internal/api"
	"dmterm/internal/cache"
	"dmterm/internal/push"
	"dmterm/internal/session"
	"dmterm/internal/view"
)

const version = "1.0.0"

func main() {
	serverURL := flag.String("server", "http://localhost:3000", "Messenger backend origin")
	dataDir := flag.String("data", session.DefaultDir(), "directory for session, cache and log files")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = printHelp
	flag.Parse()

	if *showVersion {
		fmt.Printf("dmterm v%s\n", version)
		return
	}

	sess, err := session.Open(*dataDir)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// The TUI owns the terminal, so logs go to a file.
	logger := log.Default()
	logFile, err := os.OpenFile(filepath.Join(*dataDir, "dmterm.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err == nil {
		defer logFile.Close()
		logger = log.New(logFile, "", log.LstdFlags)
	}

	deps := &view.Deps{
		API:     api.NewClient(*serverURL, sess),
		Session: sess,
		Push:    push.NewManager(*serverURL, sess, logger),
		Logger:  logger,
	}

	// The offline cache is best-effort; the client runs without it.
	store, err := cache.Open(*dataDir)
	if err != nil {
		logger.Printf("could not open offline cache: %v", err)
	} else {
		defer store.Close()
		deps.Cache = store
	}

	p := tea.NewProgram(view.NewApp(deps), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	help := `dmterm - Terminal Messenger Client

Usage:
  dmterm [flags]

Flags:
  -server URL    Backend origin (default http://localhost:3000)
  -data DIR      Data directory (default ~/.dmterm)
  -version       Show version information

Login:
  Enter a username to use the dev login, or open the GitHub URL shown
  on the access screen in a browser and paste the callback URL back.

Conversations:
  ↑/↓ or j/k     Navigate list
  enter          Open conversation
  n              Start a new conversation
  m              Load more conversations
  r              Refresh
  L              Logout
  q              Quit

Messages:
  enter          Send the typed message
  ↑/↓            Scroll history
  ctrl+b         Load older messages
  esc            Back to the conversation list

Data:
  Session and offline cache live in ~/.dmterm. Messages you fetched
  stay readable there when the network is down.
`
	fmt.Print(help)
}
