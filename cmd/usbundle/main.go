// usbundle bundles a userscript entrypoint and serves the live bundle to a
// userscript manager during development.
package main

import (
	"os"

	"github.com/disco0/usbundle/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
