package main

import (
	"os"

	"github.com/olexisomar/ai-visibility/cmd/avctl/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
