// Command sharkoder is the CLI for the unattended video transcoding pipeline.
package main

import (
	"os"

	"github.com/sharkoder/sharkoder/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
