// Command tpdkg is a demonstration and smoke-test harness for the
// threshold-OPRF and trusted-party DKG packages in this module: it drives
// both protocols end to end in a single process, with an in-memory relay
// standing in for the network.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tpdkg",
	Short: "Run the trusted-party DKG and threshold OPRF protocols locally",
	Long: `tpdkg drives the threshold-OPRF and trusted-party DKG packages in this
module end to end, in a single process, with an in-memory relay standing in
for the network — useful for smoke-testing a build and for seeing the wire
sequence described in the design documents play out.`,
}

func main() {
	rootCmd.AddCommand(runCmd, toprfDemoCmd, oprfDemoCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tpdkg: %v\n", err)
		os.Exit(1)
	}
}
