package main

import (
	"os"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "0.4.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}
