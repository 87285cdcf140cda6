package main

import (
	"os"

	"github.com/telhawk-systems/klaviyo-relay/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
