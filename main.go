package main

import (
	"os"

	"github.com/aditya/relaychat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
