package main

import (
	"os"

	"github.com/tidestore/tidestore/cmd/tidestore/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
