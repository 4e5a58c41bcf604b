// The main package for the fetcher executable.
package main

import (
	"github.com/JakeFAU/parallel-fetcher/cmd"
)

// main hands control to the Cobra CLI.
func main() {
	cmd.Execute()
}
