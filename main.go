// The main package for the wsjsync executable.
package main

import (
	"github.com/idxdata/statement-sync/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
