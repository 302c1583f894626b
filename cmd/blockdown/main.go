// Command blockdown serves, checks and exports block pages.
package main

import (
	"context"
	"fmt"
	"os"
)

const version = "0.1.0-dev"

func main() {
	a := &app{out: os.Stdout, errOut: os.Stderr}
	if err := newRootCmd(a).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
