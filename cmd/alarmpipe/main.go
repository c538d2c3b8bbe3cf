package main

import (
	"os"

	"github.com/alarmpipe/alarmpipe/internal/cli"
)

// version is set by ldflags.
var version = "dev"

func main() {
	os.Exit(cli.Execute(version))
}
