package main

import (
	"os"

	"github.com/vims-labs/claim-oracle/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
