// The main package for the crawlreport executable.
package main

import (
	"os"

	"github.com/JakeFAU/crawlreport/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
