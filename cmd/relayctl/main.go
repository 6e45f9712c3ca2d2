// Command relayctl is the operator CLI: it issues admin tokens, dry-runs the
// command parser and reads the local audit log.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
