package main

import (
	"os"

	"github.com/MEKXH/postgate/cmd/postgate/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
