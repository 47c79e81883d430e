// Package shamir implements Shamir secret sharing and Lagrange
// interpolation over the ristretto255 scalar field, per spec §4.1. This
// generalizes the Lagrange arithmetic that wurp-go-oprf/toprf hard-codes
// for its own Share/Part types into a standalone, validated primitive
// shared by both the toprf and tpdkg packages.
package shamir

import (
	"errors"
	"fmt"

	"github.com/wurp/toprf-dkg/group"
)

// ShareSize is the packed size of a Share: 1-byte index + 32-byte scalar.
const ShareSize = 33

// Share is a Shamir share (index, f(index)) as defined in spec §3 DATA
// MODEL: index is the evaluation point x, value is f(x) for a degree t-1
// polynomial f.
type Share struct {
	Index uint8
	Value group.Scalar
}

// MarshalBinary encodes a Share as [index:1][value:32].
func (s Share) MarshalBinary() ([]byte, error) {
	out := make([]byte, ShareSize)
	out[0] = s.Index
	copy(out[1:], s.Value.Encode())
	return out, nil
}

// UnmarshalBinary decodes a Share from exactly ShareSize bytes.
func (s *Share) UnmarshalBinary(data []byte) error {
	if len(data) != ShareSize {
		return fmt.Errorf("shamir: share must be %d bytes, got %d", ShareSize, len(data))
	}
	v, err := group.DecodeScalar(data[1:])
	if err != nil {
		return fmt.Errorf("shamir: invalid share value: %w", err)
	}
	s.Index = data[0]
	s.Value = v
	return nil
}

// CreateShares splits secret into n shares of a (t, n) Shamir scheme: a
// random degree-(t-1) polynomial f with f(0) = secret, evaluated at
// x = 1..n. Evaluation uses the straightforward Horner-free monomial sum
// and constant-time scalar arithmetic throughout — there is no
// secret-dependent branch anywhere in this function.
func CreateShares(secret group.Scalar, n, t uint8) ([]Share, error) {
	shares, _, err := CreateSharesWithCommitments(secret, n, t)
	return shares, err
}

// CreateSharesWithCommitments behaves like CreateShares but also returns the
// Feldman commitment vector C_0..C_{t-1} (C_m = g^{a_m}, a_0 = secret), which
// lets every other party verify its share against a public value instead of
// trusting the dealer (spec §3 DATA MODEL invariant "g^f(i) = prod C_m^{i^m}",
// used by tpdkg's verifiable secret sharing in §4.5 step 5).
func CreateSharesWithCommitments(secret group.Scalar, n, t uint8) ([]Share, []group.Point, error) {
	if t < 2 {
		return nil, nil, errors.New("shamir: threshold must be at least 2")
	}
	if n < t {
		return nil, nil, errors.New("shamir: n must be >= threshold")
	}

	coeffs := make([]group.Scalar, t)
	coeffs[0] = secret
	for i := 1; i < int(t); i++ {
		c, err := group.RandomScalar()
		if err != nil {
			return nil, nil, fmt.Errorf("shamir: sampling coefficient: %w", err)
		}
		coeffs[i] = c
	}

	commitments := make([]group.Point, t)
	for i, c := range coeffs {
		commitments[i] = group.BaseMult(c)
	}

	shares := make([]Share, n)
	for i := uint8(1); i <= n; i++ {
		x := group.NewScalarFromUint8(i)
		value := coeffs[0]
		xPow := x
		for m := 1; m < len(coeffs); m++ {
			value = value.Add(coeffs[m].Mul(xPow))
			xPow = xPow.Mul(x)
		}
		shares[i-1] = Share{Index: i, Value: value}
	}
	return shares, commitments, nil
}

// VerifyShare reports whether share is consistent with the Feldman
// commitment vector commitments, i.e. g^share.Value == prod_m
// commitments[m]^(share.Index^m). An empty commitments slice never verifies.
func VerifyShare(share Share, commitments []group.Point) bool {
	if len(commitments) == 0 {
		return false
	}
	expected := commitments[0]
	x := group.NewScalarFromUint8(share.Index)
	xPow := group.NewScalarFromUint8(1)
	for m := 1; m < len(commitments); m++ {
		xPow = xPow.Mul(x)
		expected = expected.Add(group.ScalarMult(xPow, commitments[m]))
	}
	return group.BaseMult(share.Value).Equal(expected)
}

// Coeff computes the Lagrange coefficient lambda_i = prod_{j in peers,
// j!=i} j * (j-i)^-1, the factor that turns share i's value into its
// contribution to interpolating f(0) (or, with evalAt, any other point).
//
// peers must contain index exactly once; duplicates or a missing index are
// caller errors, per §4.1.
func Coeff(index uint8, peers []uint8) (group.Scalar, error) {
	return coeffAt(index, 0, peers)
}

// coeffAt computes the Lagrange coefficient for interpolating f(evalAt)
// from shares at the given peer indices. Coeff is the evalAt=0 case used
// to recover the secret; toprf's per-shareholder evaluate uses the same
// evalAt=0 case since the TOPRF output is always the PRF keyed at the
// polynomial's constant term.
func coeffAt(index, evalAt uint8, peers []uint8) (group.Scalar, error) {
	seen := false
	for _, p := range peers {
		if p == index {
			if seen {
				return group.Scalar{}, fmt.Errorf("shamir: duplicate index %d in peer set", index)
			}
			seen = true
		}
	}
	if !seen {
		return group.Scalar{}, fmt.Errorf("shamir: index %d not present in peer set", index)
	}

	x := group.NewScalarFromUint8(evalAt)
	iScalar := group.NewScalarFromUint8(index)
	dividend := group.NewScalarFromUint8(1)
	divisor := group.NewScalarFromUint8(1)

	for _, peer := range peers {
		if peer == index {
			continue
		}
		peerScalar := group.NewScalarFromUint8(peer)
		dividend = dividend.Mul(peerScalar.Sub(x))
		divisor = divisor.Mul(peerScalar.Sub(iScalar))
	}

	return dividend.Mul(divisor.Invert()), nil
}

// InterpolateScalar reconstructs f(x) in the scalar domain from a set of
// shares, per §4.1's "Combine (scalar domain)". This form is used only by
// tests, by tpdkg.Reconstruct as a diagnostic oracle, and never by the live
// TOPRF protocols, which combine in the group exponent instead.
func InterpolateScalar(x uint8, shares []Share) (group.Scalar, error) {
	if len(shares) == 0 {
		return group.Scalar{}, errors.New("shamir: no shares provided")
	}
	indexes := make([]uint8, len(shares))
	for i, sh := range shares {
		indexes[i] = sh.Index
	}

	result := group.NewScalarFromUint8(0)
	for _, sh := range shares {
		lambda, err := coeffAt(sh.Index, x, indexes)
		if err != nil {
			return group.Scalar{}, err
		}
		result = result.Add(lambda.Mul(sh.Value))
	}
	return result, nil
}
