package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"supportchat/pkg/logger"
	"supportchat/pkg/store"
)

// Small ops tool: dump sessions or one session's messages straight from a
// pebble store directory. Run it against a copy, not the live DB.
func main() {
	var p, session string
	flag.StringVar(&p, "path", "", "pebble store path")
	flag.StringVar(&session, "session", "", "dump messages for this session id")
	flag.Parse()
	if p == "" {
		fmt.Fprintln(os.Stderr, "--path required")
		os.Exit(2)
	}
	logger.Init("error")
	if err := store.Open(p); err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if session != "" {
		msgs, err := store.ListMessages(session, 0, 0)
		if err != nil {
			fmt.Fprintf(os.Stderr, "list messages failed: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Encode(msgs)
		return
	}

	sessions, err := store.ListSessions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "list sessions failed: %v\n", err)
		os.Exit(1)
	}
	_ = enc.Encode(sessions)
}
