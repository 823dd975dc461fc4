package framework

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// PrintResults writes a summary of the test run, listing every failed test.
func PrintResults(out io.Writer, results Results) {
	passed, failed, skipped := results.Counts()
	if results.OK() {
		color.New(color.FgGreen).Fprintf(out, "All tests passed")
		fmt.Fprintf(out, " (%d passed, %d skipped)\n", passed, skipped)
		return
	}
	color.New(color.FgRed, color.Bold).Fprintf(out, "FAILED TESTS (%d):\n", failed)
	for _, f := range results.Failures {
		fmt.Fprintf(out, "  * %s\n", f.TestID)
	}
	fmt.Fprintf(out, "%d passed, %d failed, %d skipped\n", passed, failed, skipped)
}
