package main

import (
	"os"

	"trade-guard/cmd/guardctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
