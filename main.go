// The main package for the winerank crawler executable.
package main

import (
	"os"

	"github.com/JakeFAU/winerank-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
