package group

import (
	"bytes"
	"crypto/ed25519"
	"testing"
)

func scalarEqualsUint8(s Scalar, v uint8) bool {
	return bytes.Equal(s.Encode(), NewScalarFromUint8(v).Encode())
}

func TestScalarArithmetic(t *testing.T) {
	a := NewScalarFromUint8(3)
	b := NewScalarFromUint8(5)

	sum := a.Add(b)
	if !scalarEqualsUint8(sum, 8) {
		t.Fatalf("3+5 = %x, want scalar(8)", sum.Encode())
	}

	diff := b.Sub(a)
	if !scalarEqualsUint8(diff, 2) {
		t.Fatalf("5-3 = %x, want scalar(2)", diff.Encode())
	}

	prod := a.Mul(b)
	if !scalarEqualsUint8(prod, 15) {
		t.Fatalf("3*5 = %x, want scalar(15)", prod.Encode())
	}
}

func TestScalarInvert(t *testing.T) {
	a := NewScalarFromUint8(7)
	inv := a.Invert()
	got := a.Mul(inv)
	if !scalarEqualsUint8(got, 1) {
		t.Fatalf("7 * 7^-1 = %x, want scalar(1)", got.Encode())
	}
}

func TestScalarIsZero(t *testing.T) {
	zero := NewScalarFromUint8(0)
	if !zero.IsZero() {
		t.Fatal("scalar(0).IsZero() = false")
	}
	one := NewScalarFromUint8(1)
	if one.IsZero() {
		t.Fatal("scalar(1).IsZero() = true")
	}
}

func TestScalarEncodeDecodeRoundTrip(t *testing.T) {
	s, err := RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar: %v", err)
	}
	decoded, err := DecodeScalar(s.Encode())
	if err != nil {
		t.Fatalf("DecodeScalar: %v", err)
	}
	if !bytes.Equal(decoded.Encode(), s.Encode()) {
		t.Fatal("decoded scalar does not match original encoding")
	}
}

func TestDecodeScalarRejectsWrongLength(t *testing.T) {
	if _, err := DecodeScalar(make([]byte, 31)); err == nil {
		t.Fatal("DecodeScalar accepted a 31-byte input")
	}
}

func TestBaseMultAndScalarMult(t *testing.T) {
	s := NewScalarFromUint8(4)
	g4 := BaseMult(s)

	// g^4 via repeated addition of g should match BaseMult(4).
	one := BaseMult(NewScalarFromUint8(1))
	sum := one.Add(one).Add(one).Add(one)
	if !g4.Equal(sum) {
		t.Fatal("BaseMult(4) != g+g+g+g")
	}

	viaScalarMult := ScalarMult(s, one)
	if !g4.Equal(viaScalarMult) {
		t.Fatal("BaseMult(4) != ScalarMult(4, g)")
	}
}

func TestPointEncodeDecodeRoundTrip(t *testing.T) {
	p := BaseMult(NewScalarFromUint8(9))
	decoded, err := DecodePoint(p.Encode())
	if err != nil {
		t.Fatalf("DecodePoint: %v", err)
	}
	if !p.Equal(decoded) {
		t.Fatal("decoded point does not match original")
	}
}

func TestDecodePointRejectsWrongLength(t *testing.T) {
	if _, err := DecodePoint(make([]byte, 33)); err == nil {
		t.Fatal("DecodePoint accepted a 33-byte input")
	}
}

func TestIdentityPointIsAdditiveIdentity(t *testing.T) {
	p := BaseMult(NewScalarFromUint8(6))
	id := IdentityPoint()
	if !p.Add(id).Equal(p) {
		t.Fatal("p + identity != p")
	}
}

func TestPointFromUniformBytesRejectsWrongLength(t *testing.T) {
	if _, err := PointFromUniformBytes(make([]byte, 63)); err == nil {
		t.Fatal("PointFromUniformBytes accepted 63 bytes")
	}
	p, err := PointFromUniformBytes(make([]byte, 64))
	if err != nil {
		t.Fatalf("PointFromUniformBytes(64 zero bytes): %v", err)
	}
	_ = p.Encode()
}

func TestHashSumIsKeyedAndDeterministic(t *testing.T) {
	h1, err := HashSum([]byte("ctx-a"), []byte("message"))
	if err != nil {
		t.Fatalf("HashSum: %v", err)
	}
	h2, err := HashSum([]byte("ctx-a"), []byte("message"))
	if err != nil {
		t.Fatalf("HashSum: %v", err)
	}
	if h1 != h2 {
		t.Fatal("HashSum is not deterministic for identical inputs")
	}
	h3, err := HashSum([]byte("ctx-b"), []byte("message"))
	if err != nil {
		t.Fatalf("HashSum: %v", err)
	}
	if h1 == h3 {
		t.Fatal("HashSum did not change output under a different personalization")
	}
}

func TestHMACSum256VerifiesWithEqual(t *testing.T) {
	key := []byte("session-key-material-0123456789")
	tag := HMACSum256(key, []byte("payload"))
	if !HMACEqual(tag, HMACSum256(key, []byte("payload"))) {
		t.Fatal("HMACSum256 is not deterministic")
	}
	if HMACEqual(tag, HMACSum256(key, []byte("different payload"))) {
		t.Fatal("HMACEqual accepted a tag for the wrong payload")
	}
}

func TestSecretboxRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	plaintext := []byte("share bytes go here, 32 of them!")
	aad := []byte("session-id")

	ct, err := SecretboxSeal(key, plaintext, aad)
	if err != nil {
		t.Fatalf("SecretboxSeal: %v", err)
	}
	pt, err := SecretboxOpen(key, ct, aad)
	if err != nil {
		t.Fatalf("SecretboxOpen: %v", err)
	}
	if string(pt) != string(plaintext) {
		t.Fatalf("SecretboxOpen returned %q, want %q", pt, plaintext)
	}
}

func TestSecretboxOpenRejectsWrongAAD(t *testing.T) {
	key := make([]byte, 32)
	ct, err := SecretboxSeal(key, []byte("hello"), []byte("aad-1"))
	if err != nil {
		t.Fatalf("SecretboxSeal: %v", err)
	}
	if _, err := SecretboxOpen(key, ct, []byte("aad-2")); err == nil {
		t.Fatal("SecretboxOpen accepted mismatched additional data")
	}
}

func TestSignVerify(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	msg := []byte("envelope bytes")
	sig := Sign(sk, msg)
	if !Verify(pk, msg, sig) {
		t.Fatal("Verify rejected a signature produced by Sign")
	}
	if Verify(pk, []byte("tampered"), sig) {
		t.Fatal("Verify accepted a signature over the wrong message")
	}
}
