// The main package for the reviewcrawler executable.
package main

import (
	"github.com/plateful/reviewcrawler/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
