package main

import (
	"os"
)

// Version is set at build time
var Version = "dev"

func main() {
	if err := newRootCommand(Version).Execute(); err != nil {
		os.Exit(1)
	}
}
