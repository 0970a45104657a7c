package main

import (
	"fmt"
	"os"
)

// statusf prints user-facing progress output to stdout. Suppressed by
// --quiet and by --json (machine output must stay parseable).
func statusf(format string, args ...any) {
	if flagQuiet || flagJSON {
		return
	}

	fmt.Fprintf(os.Stdout, format+"\n", args...)
}
