//go:build !tinygo

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/michcald/devhandler/internal/cli"
)

func main() {
	root := cli.Command(cli.Env{Open: cli.OpenPeriph})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
