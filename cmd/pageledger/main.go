package main

import (
	"os"

	"github.com/rcliao/pageledger/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
