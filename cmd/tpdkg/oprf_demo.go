package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wurp/toprf-dkg/oprf"
)

var oprfDemoInput string

var oprfDemoCmd = &cobra.Command{
	Use:   "oprf-demo",
	Short: "Run a single-server, non-threshold OPRF round trip",
	Long: `oprf-demo walks the bare two-party 2HashDH OPRF (spec §4.2) end to end: a
server generates one private key, a client blinds its input, the server
evaluates the blinded element, and the client unblinds and finalizes — the
degenerate n=t=1 case of the threshold protocol toprf-demo exercises.`,
	RunE: runOprfDemo,
}

func init() {
	oprfDemoCmd.Flags().StringVar(&oprfDemoInput, "input", "my secret password", "client input to evaluate the OPRF on")
}

func runOprfDemo(cmd *cobra.Command, args []string) error {
	input := []byte(oprfDemoInput)

	fmt.Println("server: generating private key...")
	privateKey, err := oprf.KeyGen()
	if err != nil {
		return fmt.Errorf("KeyGen: %w", err)
	}
	fmt.Printf("server: generated %d-byte private key\n\n", len(privateKey))

	fmt.Printf("client: input = %q\n", input)
	fmt.Println("client: blinding input...")
	r, alpha, err := oprf.Blind(input, nil)
	if err != nil {
		return fmt.Errorf("Blind: %w", err)
	}
	fmt.Printf("client: blinded element (%d bytes), r = %x...\n\n", len(alpha), r[:8])

	fmt.Println("server: evaluating blinded input...")
	beta, err := oprf.Evaluate(privateKey, alpha)
	if err != nil {
		return fmt.Errorf("Evaluate: %w", err)
	}
	fmt.Printf("server: evaluated element (%d bytes)\n\n", len(beta))

	fmt.Println("client: unblinding response...")
	n, err := oprf.Unblind(r, beta)
	if err != nil {
		return fmt.Errorf("Unblind: %w", err)
	}

	fmt.Println("client: finalizing OPRF output...")
	output, err := oprf.Finalize(input, n)
	if err != nil {
		return fmt.Errorf("Finalize: %w", err)
	}

	fmt.Printf("output (%d bytes): %x\n", len(output), output)
	return nil
}
