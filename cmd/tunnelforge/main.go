// Command tunnelforge is the tunnel owner's CLI: authenticate, start a
// tunnel against a local port, and check on the gateway's status.
package main

import (
	"fmt"
	"os"

	"github.com/tunnelforge/tunnelforge/internal/cli"
)

func main() {
	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
