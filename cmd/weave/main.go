package main

import (
	"os"

	"github.com/wvrzel/weave/cmd/weave/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
