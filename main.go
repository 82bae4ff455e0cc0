package main

import (
	"os"

	"github.com/bryan-buckman/noveltracker/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
