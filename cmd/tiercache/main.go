// Package main provides the tiercache CLI for fetching URLs through a
// persistent, offline-capable cache and for inspecting cache sessions.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
