package shamir

import (
	"bytes"
	"testing"

	"github.com/wurp/toprf-dkg/group"
)

func TestCreateSharesReconstructsSecret(t *testing.T) {
	secret, err := group.RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar: %v", err)
	}
	shares, err := CreateShares(secret, 5, 3)
	if err != nil {
		t.Fatalf("CreateShares: %v", err)
	}
	if len(shares) != 5 {
		t.Fatalf("got %d shares, want 5", len(shares))
	}

	for _, subset := range [][]int{{0, 1, 2}, {1, 2, 3}, {0, 2, 4}} {
		picked := make([]Share, len(subset))
		for i, idx := range subset {
			picked[i] = shares[idx]
		}
		got, err := InterpolateScalar(0, picked)
		if err != nil {
			t.Fatalf("InterpolateScalar(%v): %v", subset, err)
		}
		if !bytes.Equal(got.Encode(), secret.Encode()) {
			t.Fatalf("InterpolateScalar(%v) did not recover the dealt secret", subset)
		}
	}
}

func TestCreateSharesRejectsBadThreshold(t *testing.T) {
	secret, _ := group.RandomScalar()
	if _, err := CreateShares(secret, 5, 1); err == nil {
		t.Fatal("CreateShares accepted threshold 1")
	}
	if _, err := CreateShares(secret, 2, 3); err == nil {
		t.Fatal("CreateShares accepted n < t")
	}
}

func TestVerifyShareAgainstCommitments(t *testing.T) {
	secret, err := group.RandomScalar()
	if err != nil {
		t.Fatalf("RandomScalar: %v", err)
	}
	shares, commitments, err := CreateSharesWithCommitments(secret, 4, 2)
	if err != nil {
		t.Fatalf("CreateSharesWithCommitments: %v", err)
	}
	for _, s := range shares {
		if !VerifyShare(s, commitments) {
			t.Fatalf("VerifyShare rejected honestly dealt share %d", s.Index)
		}
	}

	tampered := shares[0]
	tampered.Value = tampered.Value.Add(group.NewScalarFromUint8(1))
	if VerifyShare(tampered, commitments) {
		t.Fatal("VerifyShare accepted a share whose value was altered")
	}
}

func TestVerifyShareRejectsEmptyCommitments(t *testing.T) {
	secret, _ := group.RandomScalar()
	shares, err := CreateShares(secret, 3, 2)
	if err != nil {
		t.Fatalf("CreateShares: %v", err)
	}
	if VerifyShare(shares[0], nil) {
		t.Fatal("VerifyShare accepted an empty commitment vector")
	}
}

func TestCoeffRejectsIndexNotInPeerSet(t *testing.T) {
	if _, err := Coeff(4, []uint8{1, 2, 3}); err == nil {
		t.Fatal("Coeff accepted an index absent from the peer set")
	}
}

func TestCoeffRejectsDuplicateIndex(t *testing.T) {
	if _, err := Coeff(1, []uint8{1, 1, 2}); err == nil {
		t.Fatal("Coeff accepted a peer set with a duplicate index")
	}
}

func TestInterpolateScalarRejectsEmptyShareSet(t *testing.T) {
	if _, err := InterpolateScalar(0, nil); err == nil {
		t.Fatal("InterpolateScalar accepted an empty share set")
	}
}

func TestShareMarshalUnmarshalRoundTrip(t *testing.T) {
	s := Share{Index: 7, Value: group.NewScalarFromUint8(42)}
	data, err := s.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(data) != ShareSize {
		t.Fatalf("MarshalBinary produced %d bytes, want %d", len(data), ShareSize)
	}
	var got Share
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.Index != s.Index || !bytes.Equal(got.Value.Encode(), s.Value.Encode()) {
		t.Fatal("UnmarshalBinary(MarshalBinary(s)) != s")
	}
}

func TestUnmarshalBinaryRejectsWrongLength(t *testing.T) {
	var s Share
	if err := s.UnmarshalBinary(make([]byte, ShareSize-1)); err == nil {
		t.Fatal("UnmarshalBinary accepted a short buffer")
	}
}
