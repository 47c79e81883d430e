package main

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/wurp/toprf-dkg/tpdkg"
)

var (
	runParties   uint8
	runThreshold uint8
	runDST       string
	runEpsilon   time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a trusted-party DKG run with n in-process peers",
	Long: `run bootstraps a Trusted Party and n peers in this one process and
drives them, round by round, through the full TP-DKG handshake, share
delivery, and complaint-resolution phases, relaying each round's output
in memory — there is no network involved. On success it prints each
peer's final share index and the jointly reconstructed secret.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Uint8VarP(&runParties, "parties", "n", 5, "total number of peers")
	runCmd.Flags().Uint8VarP(&runThreshold, "threshold", "t", 3, "reconstruction threshold")
	runCmd.Flags().StringVar(&runDST, "dst", "tpdkg-cli", "session domain-separation tag")
	runCmd.Flags().DurationVar(&runEpsilon, "epsilon", 5*time.Minute, "accepted message timestamp skew")
}

func runRun(cmd *cobra.Command, args []string) error {
	n, t := runParties, runThreshold
	if n == 0 || t == 0 || t > n {
		return fmt.Errorf("invalid (n, t) = (%d, %d): need 0 < t <= n", n, t)
	}

	pub := make([][]byte, n)
	priv := make([]ed25519.PrivateKey, n)
	for i := range pub {
		pk, sk, err := ed25519.GenerateKey(nil)
		if err != nil {
			return fmt.Errorf("generate peer key %d: %w", i+1, err)
		}
		pub[i] = pk
		priv[i] = sk
	}

	fmt.Printf("Starting trusted-party DKG: n=%d, t=%d, dst=%q\n", n, t, runDST)

	tp, msg0, err := tpdkg.StartTP(runEpsilon, n, t, []byte(runDST), pub)
	if err != nil {
		return fmt.Errorf("StartTP: %w", err)
	}

	peers := make([]*tpdkg.PeerState, n)
	in := make([][]byte, n)
	for i := range peers {
		p, msg1, err := tpdkg.StartPeer(runEpsilon, priv[i], msg0)
		if err != nil {
			return fmt.Errorf("StartPeer %d: %w", i+1, err)
		}
		peers[i] = p
		in[i] = msg1
	}
	defer func() {
		for _, p := range peers {
			p.Close()
		}
	}()

	round := 0
	for {
		round++
		out, err := tp.Next(in)
		if err != nil {
			return fmt.Errorf("TP round %d: %w", round, err)
		}
		next := make([][]byte, n)
		for i, p := range peers {
			msg, err := p.Next(out[i])
			if err != nil {
				return fmt.Errorf("peer %d round %d: %w", i+1, round, err)
			}
			next[i] = msg
		}
		fmt.Printf("round %d complete\n", round)
		if tp.Done() {
			break
		}
		in = next
	}

	if cheaters := tp.Cheaters(); len(cheaters) > 0 {
		fmt.Println("cheater table:")
		for _, c := range cheaters {
			fmt.Println(" ", c.String())
		}
	} else {
		fmt.Println("no cheaters detected")
	}

	honest := tp.HonestPeers()
	fmt.Printf("honest peers: %v\n", honest)

	var shares []tpdkg.Share
	for i, p := range peers {
		if !containsUint8(honest, uint8(i+1)) {
			continue
		}
		share, ok := p.Share()
		if !ok {
			fmt.Printf("peer %d: no final share despite being marked honest\n", i+1)
			continue
		}
		fmt.Printf("peer %d: share index %d, value %x\n", i+1, share.Index, share.Value.Encode())
		shares = append(shares, share)
	}

	if len(shares) >= int(t) {
		secret, err := tpdkg.Reconstruct(shares[:t])
		if err != nil {
			return fmt.Errorf("reconstruct: %w", err)
		}
		fmt.Printf("reconstructed joint secret (first %d shares): %x\n", t, secret.Encode())
	}

	return nil
}

func containsUint8(xs []uint8, v uint8) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
