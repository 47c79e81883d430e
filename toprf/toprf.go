// Package toprf implements the Threshold Oblivious Pseudorandom Function
// (TOPRF) described in spec §4.2: per-shareholder evaluation of a 2HashDH
// OPRF whose key is Shamir-shared, and the client-side combination of
// threshold-many partial evaluations back into a single OPRF output.
//
// This follows the TOPPSS construction (https://eprint.iacr.org/2017/363)
// and the 3HashTDH strengthening from Gu et al. 2024
// (https://eprint.iacr.org/2024/1455), exactly as wurp-go-oprf's toprf
// package does; the Lagrange arithmetic itself now lives in the shamir
// package so that tpdkg and toprf share one implementation instead of two.
package toprf

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2b"

	"github.com/wurp/toprf-dkg/group"
	"github.com/wurp/toprf-dkg/shamir"
)

// PartBytes is the packed size of a PartialEval: 1-byte index + 32-byte
// element.
const PartBytes = 33

// Share is a shareholder's key share; alias of shamir.Share so callers
// don't need to import both packages for the common case.
type Share = shamir.Share

// PartialEval is a shareholder's contribution to a threshold evaluation:
// the Lagrange factor is folded in at evaluate time (§4.2), so the
// client's combine step is a plain group sum.
type PartialEval struct {
	Index   uint8
	Element group.Point
}

// MarshalBinary encodes a PartialEval as [index:1][element:32].
func (p PartialEval) MarshalBinary() ([]byte, error) {
	out := make([]byte, PartBytes)
	out[0] = p.Index
	copy(out[1:], p.Element.Encode())
	return out, nil
}

// UnmarshalBinary decodes a PartialEval from exactly PartBytes bytes.
func (p *PartialEval) UnmarshalBinary(data []byte) error {
	if len(data) != PartBytes {
		return errors.New("toprf: invalid partial evaluation length")
	}
	pt, err := group.DecodePoint(data[1:])
	if err != nil {
		return err
	}
	p.Index = data[0]
	p.Element = pt
	return nil
}

// CreateShares splits secret into n shares of a (t, n) Shamir scheme. The
// secret is the constant term f(0) of a random degree t-1 polynomial.
func CreateShares(secret group.Scalar, n, t uint8) ([]shamir.Share, error) {
	return shamir.CreateShares(secret, n, t)
}

// Coeff computes the Lagrange coefficient for reconstructing f(0) from the
// given peer index set, re-exported from shamir for callers that only
// import the toprf package.
func Coeff(index uint8, peers []uint8) (group.Scalar, error) {
	return shamir.Coeff(index, peers)
}

// Evaluate performs a threshold OPRF evaluation using key share share: it
// computes the Lagrange coefficient lambda_i for share.Index against the
// full contributing index set peers, folds it into the share value, and
// raises the blinded client input to that adjusted exponent (§4.2
// "TOPRF per-shareholder evaluate"). The result already carries the
// Lagrange factor, so ThresholdCombine (not ThresholdMult) is the matching
// client-side operation.
func Evaluate(share shamir.Share, blinded group.Point, peers []uint8) (PartialEval, error) {
	lambda, err := shamir.Coeff(share.Index, peers)
	if err != nil {
		return PartialEval{}, err
	}
	adjusted := share.Value.Mul(lambda)
	return PartialEval{Index: share.Index, Element: group.ScalarMult(adjusted, blinded)}, nil
}

// ThresholdCombine combines partial evaluations whose Lagrange factors
// were already applied during Evaluate: beta = sum_i beta_i = alpha^k.
// Mixing this with partials produced for ThresholdMult's raw (un-adjusted)
// form produces a meaningless result — see §9 Open Question (c).
func ThresholdCombine(partials []PartialEval) (group.Point, error) {
	if len(partials) == 0 {
		return group.Point{}, errors.New("toprf: no partial evaluations to combine")
	}
	result := group.IdentityPoint()
	for _, part := range partials {
		result = result.Add(part.Element)
	}
	return result, nil
}

// ThresholdMult combines raw partial evaluations beta_i = alpha^{k_i}
// (Lagrange factor NOT folded in at evaluate time): it recomputes
// lambda_i from the indices present in partials and performs the
// exponentiation-and-sum itself. It fails on an empty set of partials or a
// duplicate index. The partials hold already-decoded
// points: non-canonical encodings are rejected earlier, when a PartialEval
// or point is decoded.
func ThresholdMult(partials []PartialEval) (group.Point, error) {
	if len(partials) == 0 {
		return group.Point{}, errors.New("toprf: no partial evaluations to combine")
	}
	indexes := make([]uint8, len(partials))
	for i, p := range partials {
		indexes[i] = p.Index
	}
	result := group.IdentityPoint()
	for _, p := range partials {
		lambda, err := shamir.Coeff(p.Index, indexes)
		if err != nil {
			return group.Point{}, err
		}
		result = result.Add(group.ScalarMult(lambda, p.Element))
	}
	return result, nil
}

// ThreeHashTDH implements the 3HashTDH protocol (Gu et al. 2024), a
// strengthening of TOPRF evaluation that adds a zero-sharing term so that
// full compromise of every threshold server's key share does not
// retroactively compromise past OPRF outputs (§4 SUPPLEMENTED FEATURES).
// beta = alpha^k + H(ssid||alpha)^z, where z is this shareholder's share
// of a Shamir sharing of zero, freshly generated per session.
func ThreeHashTDH(k, z shamir.Share, alpha group.Point, ssid []byte) (PartialEval, error) {
	beta := group.ScalarMult(k.Value, alpha)

	h, err := blake2b.New512(nil)
	if err != nil {
		return PartialEval{}, err
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(ssid)))
	h.Write(lenBuf[:])
	h.Write(ssid)
	h.Write(alpha.Encode())

	point, err := group.PointFromUniformBytes(h.Sum(nil))
	if err != nil {
		return PartialEval{}, err
	}
	h2 := group.ScalarMult(z.Value, point)
	beta = beta.Add(h2)

	return PartialEval{Index: k.Index, Element: beta}, nil
}
