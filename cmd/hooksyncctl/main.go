// Command hooksyncctl is the operator CLI: schema migrations, event replay,
// quarantine management and admin token minting.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
