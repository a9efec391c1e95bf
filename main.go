package main

import (
	"os"

	"github.com/skylink-fpv/skylink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
