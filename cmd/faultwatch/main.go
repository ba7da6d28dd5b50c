package main

import (
	"os"

	"github.com/sharnoff/faultwatch/cmd/faultwatch/cmd"
)

// Version information, set at build time
var version = "dev"

func main() {
	cmd.SetVersion(version)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
