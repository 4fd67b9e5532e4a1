package main

import (
	"fmt"
	"os"

	"github.com/accord-io/accord/internal/cli"

	// Built-in providers register themselves at startup.
	_ "github.com/accord-io/accord/providers/aws"
	_ "github.com/accord-io/accord/providers/docker"
	_ "github.com/accord-io/accord/providers/null"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
