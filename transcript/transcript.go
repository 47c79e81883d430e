// Package transcript implements the running protocol transcript described
// in spec §4.4: a keyed hash updated by both the TP and every peer with
// every outbound and inbound framed message, in protocol order. The TP
// compares each peer's signed final transcript value against its own record
// for that peer and lists any peer whose value diverges as a cheater.
package transcript

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Transcript is an incremental, personalized hash over a sequence of
// protocol messages.
type Transcript struct {
	h hashState
}

// hashState is the subset of hash.Hash this package needs.
type hashState interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// New starts a transcript keyed by personalization (the protocol's domain
// separation tag), matching the teacher's use of a keyed BLAKE2b state for
// "generic hash with personalization".
func New(personalization []byte) (*Transcript, error) {
	h, err := blake2b.New256(personalization)
	if err != nil {
		return nil, fmt.Errorf("transcript: init: %w", err)
	}
	return &Transcript{h: h}, nil
}

// Append folds msg into the transcript in order. Both TP and every peer
// must call this with the exact bytes of every envelope they send or
// receive, in the same relative order, for transcript agreement to hold.
func (t *Transcript) Append(msg []byte) {
	t.h.Write(msg)
}

// Sum returns the current transcript digest without altering the
// incremental state.
func (t *Transcript) Sum() [32]byte {
	var out [32]byte
	copy(out[:], t.h.Sum(nil))
	return out
}

// Sign renders the current digest and signs it with sign, producing the
// value each peer broadcasts at the designated late step (§4.4) so the TP
// can detect any party whose transcript diverged.
func (t *Transcript) Sign(sign func([]byte) []byte) (sum [32]byte, sig []byte) {
	sum = t.Sum()
	return sum, sign(sum[:])
}
