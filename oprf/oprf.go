// Package oprf implements the Oblivious Pseudorandom Function (OPRF) protocol
// using ristretto255 and SHA-512, following the IRTF CFRG specification
// (spec §4.2's "2HashDH OPRF" foundation that the toprf package's threshold
// evaluation is layered on top of).
//
// An OPRF is a two-party protocol between a client and server for computing
// a pseudorandom function (PRF) where the server holds the secret key and
// the client holds the input. The protocol ensures that:
//   - The server learns nothing about the client's input
//   - The client learns only the PRF output, not the server's key
//
// # Protocol Flow
//
// The basic OPRF protocol involves four steps:
//
//  1. Client blinds input using Blind():
//     Takes input and generates a random blinding factor r,
//     computes alpha = HashToGroup(input)^r
//
//  2. Server evaluates using Evaluate():
//     Computes beta = alpha^k where k is the server's private key
//
//  3. Client unblinds using Unblind():
//     Computes N = beta^(1/r) to remove the blinding factor
//
//  4. Client finalizes using Finalize():
//     Computes final output = Hash(input || N || "Finalize")
//
// # Cryptographic Details
//
// This follows RFC 9497 (OPRF) and uses:
//   - Group: ristretto255 (RFC 9496), via this module's group package
//   - Hash: SHA-512
//   - Hash-to-curve: expand_message_xmd with SHA-512 (RFC 9380)
//
// Every scalar/element operation is delegated to group, the one package in
// this module that touches ristretto255 directly, rather than decoding and
// multiplying raw *ristretto255.Scalar/*ristretto255.Element values here —
// this package, like shamir and toprf, treats group as the sole primitive
// boundary (see group's own package doc).
package oprf

import (
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wurp/toprf-dkg/group"
)

// Constants for OPRF implementation
const (
	// OPRFBytes is the output size of the OPRF (64 bytes for SHA-512)
	OPRFBytes = 64

	// HashBytes is the size used for hash-to-curve (64 bytes)
	HashBytes = 64
)

// Domain Separation Tags (DST) per RFC 9497
const (
	// HashToGroupDST is the domain separation tag for hash-to-group operations
	HashToGroupDST = "HashToGroup-OPRFV1-\x00-ristretto255-SHA512"

	// FinalizeDST is the domain separation tag for finalize operations
	FinalizeDST = "Finalize"
)

// SHA-512 parameters for expand_message_xmd
const (
	sha512OutputBytes = 64  // b_in_bytes: output size of SHA-512
	sha512BlockSize   = 128 // r_in_bytes: input block size of SHA-512
)

// expandMessageXMD implements expand_message_xmd from RFC 9380 Section 5.3.1
// using SHA-512 as the hash function.
func expandMessageXMD(msg, dst []byte, lenInBytes int) ([]byte, error) {
	// ell = ceil(len_in_bytes / b_in_bytes)
	ell := (lenInBytes + sha512OutputBytes - 1) / sha512OutputBytes
	if ell > 255 {
		return nil, errors.New("oprf: lenInBytes too large for expand_message_xmd")
	}

	// DST_prime = DST || I2OSP(len(DST), 1)
	dstPrime := make([]byte, len(dst)+1)
	copy(dstPrime, dst)
	dstPrime[len(dst)] = byte(len(dst))

	// Z_pad = I2OSP(0, r_in_bytes) - block of zeros
	zPad := make([]byte, sha512BlockSize)

	// l_i_b_str = I2OSP(len_in_bytes, 2) - length as 2-byte big-endian
	libStr := make([]byte, 2)
	binary.BigEndian.PutUint16(libStr, uint16(lenInBytes))

	// msg_prime = Z_pad || msg || l_i_b_str || I2OSP(0, 1) || DST_prime
	h := sha512.New()
	h.Write(zPad)
	h.Write(msg)
	h.Write(libStr)
	h.Write([]byte{0})
	h.Write(dstPrime)
	b0 := h.Sum(nil)

	// b_1 = H(b_0 || I2OSP(1, 1) || DST_prime)
	h.Reset()
	h.Write(b0)
	h.Write([]byte{1})
	h.Write(dstPrime)
	b1 := h.Sum(nil)

	uniformBytes := make([]byte, 0, ell*sha512OutputBytes)
	uniformBytes = append(uniformBytes, b1...)

	bPrev := b1
	for i := 2; i <= ell; i++ {
		// b_i = H(strxor(b_0, b_(i-1)) || I2OSP(i, 1) || DST_prime)
		h.Reset()
		xorResult := make([]byte, sha512OutputBytes)
		for j := 0; j < sha512OutputBytes; j++ {
			xorResult[j] = b0[j] ^ bPrev[j]
		}
		h.Write(xorResult)
		h.Write([]byte{byte(i)})
		h.Write(dstPrime)
		bi := h.Sum(nil)

		uniformBytes = append(uniformBytes, bi...)
		bPrev = bi
	}

	return uniformBytes[:lenInBytes], nil
}

// hashToGroup implements the hash-to-group operation for ristretto255,
// hashing arbitrary input to a group element per RFC 9380's
// hash_to_ristretto255 using SHA-512, via group's own hash-to-curve
// primitive rather than a raw ristretto255 element.
func hashToGroup(msg []byte) (group.Point, error) {
	uniformBytes, err := expandMessageXMD(msg, []byte(HashToGroupDST), HashBytes)
	if err != nil {
		return group.Point{}, fmt.Errorf("oprf: expand_message_xmd: %w", err)
	}
	return group.PointFromUniformBytes(uniformBytes)
}

// Blind performs the client-side blinding operation: alpha = HashToGroup(input)^r,
// for a fresh random blinding scalar r (or the caller-supplied one, for
// reproducing test vectors).
func Blind(input []byte, blind []byte) (r, alpha []byte, err error) {
	h0, err := hashToGroup(input)
	if err != nil {
		return nil, nil, fmt.Errorf("oprf: hash to group: %w", err)
	}

	var rScalar group.Scalar
	if blind != nil {
		rScalar, err = group.DecodeScalar(blind)
		if err != nil {
			return nil, nil, fmt.Errorf("oprf: invalid blind scalar: %w", err)
		}
	} else {
		rScalar, err = group.RandomScalar()
		if err != nil {
			return nil, nil, fmt.Errorf("oprf: generate blind: %w", err)
		}
	}

	alphaPoint := group.ScalarMult(rScalar, h0)
	return rScalar.Encode(), alphaPoint.Encode(), nil
}

// Evaluate performs the server-side evaluation: beta = alpha^k, for server
// private key k.
func Evaluate(k []byte, alpha []byte) (beta []byte, err error) {
	kScalar, err := group.DecodeScalar(k)
	if err != nil {
		return nil, fmt.Errorf("oprf: invalid private key: %w", err)
	}
	alphaPoint, err := group.DecodePoint(alpha)
	if err != nil {
		return nil, fmt.Errorf("oprf: invalid alpha element: %w", err)
	}
	return group.ScalarMult(kScalar, alphaPoint).Encode(), nil
}

// Unblind removes the blinding factor from the server's response:
// n = beta^(1/r), using constant-time scalar inversion.
func Unblind(r []byte, beta []byte) (n []byte, err error) {
	rScalar, err := group.DecodeScalar(r)
	if err != nil {
		return nil, fmt.Errorf("oprf: invalid blind scalar: %w", err)
	}
	betaPoint, err := group.DecodePoint(beta)
	if err != nil {
		return nil, fmt.Errorf("oprf: invalid beta element: %w", err)
	}
	return group.ScalarMult(rScalar.Invert(), betaPoint).Encode(), nil
}

// Finalize computes the final OPRF output:
// hash(len(input) || input || len(n) || n || "Finalize"), with lengths
// encoded as 2-byte big-endian integers.
func Finalize(input []byte, n []byte) (output []byte, err error) {
	if len(n) != group.PointSize {
		return nil, fmt.Errorf("oprf: n must be %d bytes, got %d", group.PointSize, len(n))
	}

	h := sha512.New()

	inputLen := make([]byte, 2)
	binary.BigEndian.PutUint16(inputLen, uint16(len(input)))
	h.Write(inputLen)
	h.Write(input)

	nLen := make([]byte, 2)
	binary.BigEndian.PutUint16(nLen, uint16(len(n)))
	h.Write(nLen)
	h.Write(n)

	h.Write([]byte(FinalizeDST))

	return h.Sum(nil), nil
}

// KeyGen generates a random OPRF private key: a random scalar in the
// ristretto255 scalar field.
func KeyGen() ([]byte, error) {
	k, err := group.RandomScalar()
	if err != nil {
		return nil, fmt.Errorf("oprf: generate key: %w", err)
	}
	return k.Encode(), nil
}
