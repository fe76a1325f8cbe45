package main

import (
	"os"

	"github.com/vantagehq/eventcore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
