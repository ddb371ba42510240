// MUSOL/SONG sequence controller.
//
// This binary drives synchronised observation sequences across the
// MUSOL solar polarimeter and the SONG spectrograph. It reads a YAML
// sequence file, validates it exhaustively, and executes it step by
// step against either simulated instruments or the real bench over
// MQTT, depending on configuration.
package main

import (
	"fmt"
	"os"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
