package main

import (
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/danielpatrickdp/preference-engine/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
