package main

import (
	"os"

	"github.com/tidehook/tidehook/cmd/tidectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
