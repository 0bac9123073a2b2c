package main

import (
	"os"

	"github.com/kilianp07/vda5050/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
