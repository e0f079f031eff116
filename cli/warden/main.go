package main

import (
	"os"

	wardencmder "github.com/papercomputeco/warden/cmd/warden"
)

func main() {
	cmd := wardencmder.NewWardenCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
