package main

import (
	"os"

	"github.com/majorcontext/litterbox/cmd/litterbox/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
