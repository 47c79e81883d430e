package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wurp/toprf-dkg/group"
	"github.com/wurp/toprf-dkg/oprf"
	"github.com/wurp/toprf-dkg/toprf"
)

var (
	demoParties   uint8
	demoThreshold uint8
	demoInput     string
)

var toprfDemoCmd = &cobra.Command{
	Use:   "toprf-demo",
	Short: "Run a local client/n-server threshold OPRF round trip",
	Long: `toprf-demo splits a fresh OPRF key into n Shamir shares with the given
threshold, blinds a client input, has any t of the n shareholders evaluate
their partial result, and combines and finalizes the output client-side —
all in one process, with no network involved.`,
	RunE: runToprfDemo,
}

func init() {
	toprfDemoCmd.Flags().Uint8VarP(&demoParties, "servers", "n", 5, "total number of shareholders")
	toprfDemoCmd.Flags().Uint8VarP(&demoThreshold, "threshold", "t", 3, "number of shareholders that respond")
	toprfDemoCmd.Flags().StringVar(&demoInput, "input", "threshold secret", "client input to evaluate the OPRF on")
}

func runToprfDemo(cmd *cobra.Command, args []string) error {
	n, t := demoParties, demoThreshold
	if n == 0 || t == 0 || t > n {
		return fmt.Errorf("invalid (n, t) = (%d, %d): need 0 < t <= n", n, t)
	}

	secretBytes, err := oprf.KeyGen()
	if err != nil {
		return fmt.Errorf("KeyGen: %w", err)
	}
	secret, err := group.DecodeScalar(secretBytes)
	if err != nil {
		return fmt.Errorf("decode key: %w", err)
	}

	shares, err := toprf.CreateShares(secret, n, t)
	if err != nil {
		return fmt.Errorf("CreateShares: %w", err)
	}
	fmt.Printf("created %d shares, threshold %d\n", len(shares), t)

	fmt.Printf("client input: %q\n", demoInput)
	r, alphaBytes, err := oprf.Blind([]byte(demoInput), nil)
	if err != nil {
		return fmt.Errorf("Blind: %w", err)
	}
	alpha, err := group.DecodePoint(alphaBytes)
	if err != nil {
		return fmt.Errorf("decode blinded element: %w", err)
	}

	active := make([]uint8, t)
	for i := range active {
		active[i] = uint8(i + 1)
	}
	fmt.Printf("active servers: %v (any %d of %d would work)\n", active, t, n)

	var partials []toprf.PartialEval
	for _, idx := range active {
		part, err := toprf.Evaluate(shares[idx-1], alpha, active)
		if err != nil {
			return fmt.Errorf("server %d Evaluate: %w", idx, err)
		}
		partials = append(partials, part)
	}

	beta, err := toprf.ThresholdCombine(partials)
	if err != nil {
		return fmt.Errorf("ThresholdCombine: %w", err)
	}

	nElement, err := oprf.Unblind(r, beta.Encode())
	if err != nil {
		return fmt.Errorf("Unblind: %w", err)
	}
	output, err := oprf.Finalize([]byte(demoInput), nElement)
	if err != nil {
		return fmt.Errorf("Finalize: %w", err)
	}

	fmt.Printf("output (%d bytes): %x\n", len(output), output)
	return nil
}
