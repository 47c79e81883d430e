// Package group adapts the cryptographic primitives this library treats as
// opaque: ristretto255 scalars and group elements, Ed25519 signatures, a
// generic 256-bit hash with personalization, HMAC-SHA-256, and an
// authenticated secretbox. Nothing above this package performs raw
// ristretto255 arithmetic.
package group

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/gtank/ristretto255"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// ScalarSize is the canonical encoded size of a ristretto255 scalar.
	ScalarSize = 32
	// PointSize is the canonical encoded size of a ristretto255 element.
	PointSize = 32
	// HashSize is the output size of HashSum.
	HashSize = 32
	// SignatureSize is the size of an Ed25519 detached signature.
	SignatureSize = ed25519.SignatureSize
	// SecretboxOverhead is the XChaCha20-Poly1305 tag size added on seal.
	SecretboxOverhead = chacha20poly1305.Overhead
)

// Scalar is a ristretto255 scalar field element.
type Scalar struct {
	s *ristretto255.Scalar
}

// Point is a ristretto255 group element.
type Point struct {
	p *ristretto255.Element
}

// NewScalarFromUint8 builds the scalar representation of a small integer,
// used throughout for evaluation indices (1..n) and for x=0 in Lagrange
// interpolation.
func NewScalarFromUint8(v uint8) Scalar {
	var buf [ScalarSize]byte
	buf[0] = v
	s := ristretto255.NewScalar()
	if err := s.Decode(buf[:]); err != nil {
		// buf is always a canonical reduced scalar for v < 256, so this
		// cannot fail.
		panic(fmt.Sprintf("group: impossible scalar decode failure: %v", err))
	}
	return Scalar{s: s}
}

// RandomScalar draws a uniformly random scalar using rejection-free
// wide-reduction (64 random bytes mapped into the field).
func RandomScalar() (Scalar, error) {
	var buf [64]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return Scalar{}, fmt.Errorf("group: random scalar: %w", err)
	}
	s := ristretto255.NewScalar()
	s.FromUniformBytes(buf[:])
	return Scalar{s: s}, nil
}

// DecodeScalar parses a canonical 32-byte scalar encoding.
func DecodeScalar(data []byte) (Scalar, error) {
	if len(data) != ScalarSize {
		return Scalar{}, fmt.Errorf("group: scalar must be %d bytes, got %d", ScalarSize, len(data))
	}
	s := ristretto255.NewScalar()
	if err := s.Decode(data); err != nil {
		return Scalar{}, fmt.Errorf("group: invalid scalar encoding: %w", err)
	}
	return Scalar{s: s}, nil
}

// Encode returns the canonical 32-byte little-endian encoding of s.
func (s Scalar) Encode() []byte {
	return s.s.Encode(nil)
}

// IsZero reports whether s is the zero scalar without branching on its
// secret bytes, using a constant-time comparison against a zero encoding.
func (s Scalar) IsZero() bool {
	var zero [ScalarSize]byte
	return subtle.ConstantTimeCompare(s.Encode(), zero[:]) == 1
}

// Add returns a+b.
func (s Scalar) Add(o Scalar) Scalar {
	r := ristretto255.NewScalar()
	r.Add(s.s, o.s)
	return Scalar{s: r}
}

// Sub returns a-b.
func (s Scalar) Sub(o Scalar) Scalar {
	r := ristretto255.NewScalar()
	r.Subtract(s.s, o.s)
	return Scalar{s: r}
}

// Mul returns a*b.
func (s Scalar) Mul(o Scalar) Scalar {
	r := ristretto255.NewScalar()
	r.Multiply(s.s, o.s)
	return Scalar{s: r}
}

// Invert returns the multiplicative inverse of s in constant time. The
// caller must ensure s is non-zero.
func (s Scalar) Invert() Scalar {
	r := ristretto255.NewScalar()
	r.Invert(s.s)
	return Scalar{s: r}
}

// inner returns the underlying ristretto255 scalar; InnerScalar is its
// exported form.
func (s Scalar) inner() *ristretto255.Scalar { return s.s }

// DecodePoint parses a canonical 32-byte ristretto255 element encoding,
// rejecting non-canonical points.
func DecodePoint(data []byte) (Point, error) {
	if len(data) != PointSize {
		return Point{}, fmt.Errorf("group: point must be %d bytes, got %d", PointSize, len(data))
	}
	p := ristretto255.NewElement()
	if err := p.Decode(data); err != nil {
		return Point{}, fmt.Errorf("group: invalid point encoding: %w", err)
	}
	return Point{p: p}, nil
}

// Encode returns the canonical 32-byte encoding of p.
func (p Point) Encode() []byte {
	return p.p.Encode(nil)
}

// IdentityPoint returns the group identity element.
func IdentityPoint() Point {
	return Point{p: ristretto255.NewElement()}
}

// PointFromUniformBytes maps 64 uniform bytes (e.g. the output of a wide
// hash) onto a ristretto255 element, the group's hash-to-curve operation.
func PointFromUniformBytes(uniform []byte) (Point, error) {
	if len(uniform) != 64 {
		return Point{}, fmt.Errorf("group: hash-to-curve input must be 64 bytes, got %d", len(uniform))
	}
	p := ristretto255.NewElement()
	p.FromUniformBytes(uniform)
	return Point{p: p}, nil
}

// BaseMult returns g^s for the ristretto255 base point g.
func BaseMult(s Scalar) Point {
	p := ristretto255.NewElement()
	p.ScalarBaseMult(s.s)
	return Point{p: p}
}

// ScalarMult returns p^s.
func ScalarMult(s Scalar, p Point) Point {
	r := ristretto255.NewElement()
	r.ScalarMult(s.s, p.p)
	return Point{p: r}
}

// Add returns a+b.
func (p Point) Add(o Point) Point {
	r := ristretto255.NewElement()
	r.Add(p.p, o.p)
	return Point{p: r}
}

// Equal reports whether two points encode to the same bytes, compared in
// constant time since points sometimes carry secret-derived values
// (Feldman commitment checks on secret shares).
func (p Point) Equal(o Point) bool {
	return subtle.ConstantTimeCompare(p.Encode(), o.Encode()) == 1
}

// HashSum computes a generic 256-bit hash of data, keyed by personalization
// (the domain separation tag). It is the one-shot form of the keyed BLAKE2b
// that the transcript package runs incrementally (§4.4), and stands in for
// libsodium's crypto_generichash.
func HashSum(personalization, data []byte) ([HashSize]byte, error) {
	h, err := blake2b.New256(personalization)
	if err != nil {
		return [HashSize]byte{}, fmt.Errorf("group: init keyed hash: %w", err)
	}
	h.Write(data)
	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// HMACSum256 computes HMAC-SHA-256(key, data).
func HMACSum256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// HMACEqual compares two HMAC tags in constant time.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

// SecretboxSeal encrypts plaintext with XChaCha20-Poly1305 under key (32
// bytes) and a random 24-byte nonce, which is prepended to the returned
// ciphertext. This is the "authenticated secret-box with XChaCha20-Poly1305"
// primitive required by §6.
func SecretboxSeal(key, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("group: secretbox init: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("group: secretbox nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, plaintext, additionalData)
	return out, nil
}

// SecretboxOpen decrypts a ciphertext produced by SecretboxSeal.
func SecretboxOpen(key, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("group: secretbox init: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("group: secretbox ciphertext too short")
	}
	nonce, box := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, box, additionalData)
	if err != nil {
		return nil, fmt.Errorf("group: secretbox open: %w", err)
	}
	return pt, nil
}

// Sign produces a detached Ed25519 signature.
func Sign(sk ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(sk, msg)
}

// Verify checks a detached Ed25519 signature.
func Verify(pk ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pk, msg, sig)
}

// InnerScalar exposes the underlying ristretto255 scalar for callers that
// work with ristretto255 directly. No other package in this module calls
// it. Not part of the stable external surface.
func InnerScalar(s Scalar) *ristretto255.Scalar { return s.inner() }

// ScalarFromInner wraps a *ristretto255.Scalar produced by a sibling
// package back into a Scalar.
func ScalarFromInner(s *ristretto255.Scalar) Scalar { return Scalar{s: s} }

// PointFromInner wraps a *ristretto255.Element produced by a sibling
// package back into a Point.
func PointFromInner(p *ristretto255.Element) Point { return Point{p: p} }

// InnerPoint exposes the underlying ristretto255 element.
func InnerPoint(p Point) *ristretto255.Element { return p.p }
