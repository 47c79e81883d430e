package tpdkg

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/wurp/toprf-dkg/group"
	"github.com/wurp/toprf-dkg/noisexk"
	"github.com/wurp/toprf-dkg/shamir"
	"github.com/wurp/toprf-dkg/transcript"
	"github.com/wurp/toprf-dkg/wire"
)

type tpPhase int

const (
	phaseAwaitIntros tpPhase = iota
	phaseAwaitHandshake1
	phaseAwaitHandshake2
	phaseAwaitShares
	phaseAwaitComplaints
	phaseAwaitReveals
	phaseAwaitTranscripts
	phaseDone
)

// TPState is the Trusted Party's side of the protocol: it relays every
// message between peers, binds them into a transcript, and resolves any
// complaint a peer raises about the share it received. It decrypts a share
// only when a complaint makes the accused reveal that session's key, and it
// never learns the resulting secret
// (spec §2's "TP: Relay ... Never learns the secret" row).
type TPState struct {
	sessionID [wire.SessionIDSize]byte
	n, t      uint8
	tsEpsilon time.Duration

	tpSK ed25519.PrivateKey
	tpPK ed25519.PublicKey

	peerLTPKs []ed25519.PublicKey
	table     []peerTableEntry
	lastTS    []int64

	commitments [][]group.Point
	shareCipher [][][]byte // shareCipher[from-1][to-1] = the raw share-bundle entry `from` addressed to `to`

	complaints []complaintEntry
	cheaters   []Cheater

	// perPeerTr[i-1] is the TP's record of exactly what peer i should have
	// seen: every broadcast (appended to all n), plus the messages relayed
	// or received on that peer's own channel specifically (spec §4.4). This
	// mirrors each peer's own Transcript so the designated late commitment
	// step can compare like with like, rather than against one TP-global
	// transcript that would include every other peer's private relay
	// traffic too.
	perPeerTr []*transcript.Transcript
	phase     tpPhase
}

// StartTP begins a new TP-DKG session for n peers with threshold t. dst is
// the protocol's domain-separation tag; it keys every per-peer transcript
// and is carried to the peers in msg0. peerLTPKs are the n
// peers' long-term Ed25519 public keys, in peer-index order (index i is
// peerLTPKs[i-1]), the out-of-band trust root the TP uses to authenticate
// each peer's very first message. It returns the new state and msg0, the
// session-bootstrap broadcast every peer feeds into StartPeer (spec §4.5
// step 1).
func StartTP(tsEpsilon time.Duration, n, t uint8, dst []byte, peerLTPKs [][]byte) (*TPState, []byte, error) {
	if t < 2 {
		return nil, nil, &ProtocolError{Code: 1, Msg: "threshold must be at least 2"}
	}
	if n < t {
		return nil, nil, &ProtocolError{Code: 1, Msg: "n must be >= threshold"}
	}
	if len(peerLTPKs) != int(n) {
		return nil, nil, &ProtocolError{Code: 1, Msg: "peerLTPKs must have exactly n entries"}
	}
	ltpks := make([]ed25519.PublicKey, n)
	for i, raw := range peerLTPKs {
		if len(raw) != ed25519.PublicKeySize {
			return nil, nil, &ProtocolError{Code: 1, Msg: fmt.Sprintf("peer %d: long-term key must be %d bytes", i+1, ed25519.PublicKeySize)}
		}
		pk := make(ed25519.PublicKey, ed25519.PublicKeySize)
		copy(pk, raw)
		ltpks[i] = pk
	}

	var sessionID [wire.SessionIDSize]byte
	if _, err := rand.Read(sessionID[:]); err != nil {
		return nil, nil, fmt.Errorf("tpdkg: session id: %w", err)
	}
	tpPK, tpSK, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("tpdkg: tp signing key: %w", err)
	}
	perPeerTr := make([]*transcript.Transcript, n)
	for i := range perPeerTr {
		peerTr, err := transcript.New(dst)
		if err != nil {
			return nil, nil, fmt.Errorf("tpdkg: transcript: %w", err)
		}
		perPeerTr[i] = peerTr
	}

	s := &TPState{
		sessionID: sessionID,
		n:         n,
		t:         t,
		tsEpsilon: tsEpsilon,
		tpSK:      tpSK,
		tpPK:      tpPK,
		peerLTPKs: ltpks,
		lastTS:    make([]int64, n),
		perPeerTr: perPeerTr,
		phase:     phaseAwaitIntros,
	}

	data := make([]byte, 0, 2+ed25519.PublicKeySize+2+len(dst))
	data = append(data, n, t)
	data = append(data, tpPK...)
	var dstLen [2]byte
	dstLen[0] = byte(len(dst) >> 8)
	dstLen[1] = byte(len(dst))
	data = append(data, dstLen[:]...)
	data = append(data, dst...)
	raw := s.broadcast(msgSessionParams, data)
	return s, raw, nil
}

func (s *TPState) signFn() func([]byte) []byte {
	return func(msg []byte) []byte { return ed25519.Sign(s.tpSK, msg) }
}

func (s *TPState) verifyEph(i int) func(msg, sig []byte) bool {
	pk := s.table[i].ephSigPK
	return func(msg, sig []byte) bool { return ed25519.Verify(pk, msg, sig) }
}

func (s *TPState) broadcast(msgno uint8, data []byte) []byte {
	env := wire.Sign(msgno, wire.FromTP, wire.ToBroadcast, sessionTimestamp(), s.sessionID, data, s.signFn())
	raw := env.Marshal()
	for _, peerTr := range s.perPeerTr {
		peerTr.Append(raw)
	}
	return raw
}

func (s *TPState) relayPerPeer(msgno uint8, payloads [][]byte) [][]byte {
	out := make([][]byte, s.n)
	for i, data := range payloads {
		peerIdx := uint8(i + 1)
		env := wire.Sign(msgno, wire.FromTP, peerIdx, sessionTimestamp(), s.sessionID, data, s.signFn())
		raw := env.Marshal()
		s.perPeerTr[i].Append(raw)
		out[i] = raw
	}
	return out
}

func replicate(raw []byte, n uint8) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = raw
	}
	return out
}

func (s *TPState) recvFromPeer(step int, raw []byte, peerIdx uint8, msgno uint8, verify func(msg, sig []byte) bool) (*wire.Envelope, error) {
	exp := wire.RecvExpectation{
		MsgNo:     msgno,
		From:      peerIdx,
		To:        wire.ToTP,
		SessionID: s.sessionID,
		Now:       sessionTimestamp(),
		TSEpsilon: s.tsEpsilon,
		LastTS:    s.lastTS[peerIdx-1],
		VerifyKey: verify,
	}
	env, newTS, err := wire.Recv(raw, exp)
	if err != nil {
		return nil, wrapRecvErr(step, err.(wire.RecvError))
	}
	s.lastTS[peerIdx-1] = newTS
	s.perPeerTr[peerIdx-1].Append(raw)
	return env, nil
}

// Next advances the TP one round: in holds exactly n entries, in[i] being
// peer i+1's message for the current round, and it returns the n messages
// to hand back to each peer (PeerMessage slices them out by index).
func (s *TPState) Next(in [][]byte) ([][]byte, error) {
	if len(in) != int(s.n) {
		return nil, &ProtocolError{Code: 1, Msg: "expected exactly n inputs"}
	}
	switch s.phase {
	case phaseAwaitIntros:
		return s.stepIntros(in)
	case phaseAwaitHandshake1:
		return s.stepHandshake1(in)
	case phaseAwaitHandshake2:
		return s.stepHandshake2(in)
	case phaseAwaitShares:
		return s.stepShares(in)
	case phaseAwaitComplaints:
		return s.stepComplaints(in)
	case phaseAwaitReveals:
		return s.stepReveals(in)
	case phaseAwaitTranscripts:
		return s.stepTranscripts(in)
	default:
		return nil, &ProtocolError{Code: 0, Msg: "protocol already finished"}
	}
}

func (s *TPState) stepIntros(in [][]byte) ([][]byte, error) {
	table := make([]peerTableEntry, s.n)
	for i, raw := range in {
		peerIdx := uint8(i + 1)
		ltpk := s.peerLTPKs[i]
		// The intro is the one message a peer sends before the TP has told
		// it its assigned index, so it signs From=selfUnassigned; the
		// caller's array position (i) is what actually assigns the index.
		exp := wire.RecvExpectation{
			MsgNo:     msgIntro,
			From:      selfUnassigned,
			To:        wire.ToTP,
			SessionID: s.sessionID,
			Now:       sessionTimestamp(),
			TSEpsilon: s.tsEpsilon,
			LastTS:    s.lastTS[i],
			VerifyKey: func(msg, sig []byte) bool { return ed25519.Verify(ltpk, msg, sig) },
		}
		env, newTS, err := wire.Recv(raw, exp)
		if err != nil {
			return nil, wrapRecvErr(1, err.(wire.RecvError))
		}
		s.lastTS[i] = newTS
		s.perPeerTr[i].Append(raw)
		if len(env.Data) != ed25519.PublicKeySize+32 {
			return nil, &ProtocolError{Code: 1, Msg: fmt.Sprintf("peer %d: malformed intro", peerIdx)}
		}
		ephPK := make(ed25519.PublicKey, ed25519.PublicKeySize)
		copy(ephPK, env.Data[:ed25519.PublicKeySize])
		var noisePK [32]byte
		copy(noisePK[:], env.Data[ed25519.PublicKeySize:])
		table[i] = peerTableEntry{index: peerIdx, ephSigPK: ephPK, noiseStaticPK: noisePK}
	}
	s.table = table
	raw := s.broadcast(msgPeerTables, encodePeerTable(table))
	s.phase = phaseAwaitHandshake1
	return replicate(raw, s.n), nil
}

func (s *TPState) collectRelayBundle(step int, in [][]byte, msgno uint8) ([][]bundleEntry, error) {
	perTarget := make([][]bundleEntry, s.n)
	for i, raw := range in {
		peerIdx := uint8(i + 1)
		env, err := s.recvFromPeer(step, raw, peerIdx, msgno, s.verifyEph(i))
		if err != nil {
			return nil, err
		}
		entries, err := decodeBundle(env.Data)
		if err != nil {
			return nil, &ProtocolError{Code: step, Msg: err.Error()}
		}
		for _, e := range entries {
			if e.target < 1 || e.target > s.n || e.target == peerIdx {
				return nil, &ProtocolError{Code: step, Msg: "bad bundle target"}
			}
			perTarget[e.target-1] = append(perTarget[e.target-1], bundleEntry{target: peerIdx, payload: e.payload})
		}
	}
	return perTarget, nil
}

func (s *TPState) stepHandshake1(in [][]byte) ([][]byte, error) {
	cvSize := commitmentVectorSize(s.t)
	commitments := make([][]group.Point, s.n)
	perTarget := make([][]bundleEntry, s.n)
	for i, raw := range in {
		peerIdx := uint8(i + 1)
		env, err := s.recvFromPeer(3, raw, peerIdx, msgHandshakeInit, s.verifyEph(i))
		if err != nil {
			return nil, err
		}
		if len(env.Data) < cvSize {
			return nil, &ProtocolError{Code: 3, Msg: fmt.Sprintf("peer %d: truncated commitment vector", peerIdx)}
		}
		cv, err := decodeCommitments(env.Data[:cvSize], s.t)
		if err != nil {
			return nil, &ProtocolError{Code: 3, Msg: err.Error()}
		}
		commitments[i] = cv
		entries, err := decodeBundle(env.Data[cvSize:])
		if err != nil {
			return nil, &ProtocolError{Code: 3, Msg: err.Error()}
		}
		for _, e := range entries {
			if e.target < 1 || e.target > s.n || e.target == peerIdx {
				return nil, &ProtocolError{Code: 3, Msg: "bad handshake target"}
			}
			perTarget[e.target-1] = append(perTarget[e.target-1], bundleEntry{target: peerIdx, payload: e.payload})
		}
	}
	s.commitments = commitments

	commitTable := make([]byte, 0, int(s.n)*cvSize)
	for _, cv := range commitments {
		commitTable = append(commitTable, encodeCommitments(cv)...)
	}
	payloads := make([][]byte, s.n)
	for j := range payloads {
		payloads[j] = append(append([]byte(nil), commitTable...), encodeBundle(perTarget[j])...)
	}
	out := s.relayPerPeer(msgHandshakeInitFwd, payloads)
	s.phase = phaseAwaitHandshake2
	return out, nil
}

func (s *TPState) stepHandshake2(in [][]byte) ([][]byte, error) {
	perTarget, err := s.collectRelayBundle(5, in, msgHandshakeResp)
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, s.n)
	for j := range payloads {
		payloads[j] = encodeBundle(perTarget[j])
	}
	out := s.relayPerPeer(msgHandshakeRespFwd, payloads)
	s.phase = phaseAwaitShares
	return out, nil
}

func (s *TPState) stepShares(in [][]byte) ([][]byte, error) {
	shareCipher := make([][][]byte, s.n)
	for i := range shareCipher {
		shareCipher[i] = make([][]byte, s.n)
	}
	perTarget := make([][]bundleEntry, s.n)
	for i, raw := range in {
		peerIdx := uint8(i + 1)
		env, err := s.recvFromPeer(8, raw, peerIdx, msgShareDelivery, s.verifyEph(i))
		if err != nil {
			return nil, err
		}
		entries, err := decodeBundle(env.Data)
		if err != nil {
			return nil, &ProtocolError{Code: 8, Msg: err.Error()}
		}
		for _, e := range entries {
			if e.target < 1 || e.target > s.n || e.target == peerIdx {
				return nil, &ProtocolError{Code: 8, Msg: "bad share target"}
			}
			if len(e.payload) != shareBundleEntrySize {
				return nil, &ProtocolError{Code: 8, Msg: "malformed share delivery entry"}
			}
			shareCipher[i][e.target-1] = e.payload
			perTarget[e.target-1] = append(perTarget[e.target-1], bundleEntry{target: peerIdx, payload: e.payload})
		}
	}
	s.shareCipher = shareCipher
	payloads := make([][]byte, s.n)
	for j := range payloads {
		payloads[j] = encodeBundle(perTarget[j])
	}
	out := s.relayPerPeer(msgShareDeliveryFwd, payloads)
	s.phase = phaseAwaitComplaints
	return out, nil
}

func (s *TPState) stepComplaints(in [][]byte) ([][]byte, error) {
	var all []complaintEntry
	for i, raw := range in {
		peerIdx := uint8(i + 1)
		env, err := s.recvFromPeer(10, raw, peerIdx, msgComplaints, s.verifyEph(i))
		if err != nil {
			return nil, err
		}
		accused, err := decodeComplaints(env.Data)
		if err != nil {
			return nil, &ProtocolError{Code: 10, Msg: err.Error()}
		}
		seen := map[uint8]bool{}
		for _, c := range accused {
			if c.accused < 1 || c.accused > s.n || c.accused == peerIdx {
				return nil, &ProtocolError{Code: 10, Msg: "bad accused index"}
			}
			if seen[c.accused] {
				s.cheaters = append(s.cheaters, Cheater{Step: 10, Error: ErrDuplicateComplaint, Peer: peerIdx, OtherPeer: c.accused})
				continue
			}
			seen[c.accused] = true
			all = append(all, complaintEntry{complainant: peerIdx, accused: c.accused})
		}
	}
	s.complaints = all
	if len(all) == 0 {
		return s.requestTranscripts(), nil
	}
	raw := s.broadcast(msgComplaintsBcast, encodeComplaints(all))
	s.phase = phaseAwaitReveals
	return replicate(raw, s.n), nil
}

func (s *TPState) stepReveals(in [][]byte) ([][]byte, error) {
	reveals := map[complaintEntry][32]byte{}
	for i, raw := range in {
		peerIdx := uint8(i + 1)
		env, err := s.recvFromPeer(13, raw, peerIdx, msgReveals, s.verifyEph(i))
		if err != nil {
			return nil, err
		}
		entries, err := decodeReveals(env.Data)
		if err != nil {
			return nil, &ProtocolError{Code: 13, Msg: err.Error()}
		}
		for _, r := range entries {
			ce := complaintEntry{complainant: r.accuser, accused: peerIdx}
			if !complaintExists(s.complaints, ce) {
				s.cheaters = append(s.cheaters, Cheater{Step: 13, Error: ErrOverReveal, Peer: peerIdx, OtherPeer: r.accuser})
				continue
			}
			reveals[ce] = r.key
		}
	}
	s.resolveComplaints(reveals)
	return s.requestTranscripts(), nil
}

func complaintExists(complaints []complaintEntry, ce complaintEntry) bool {
	for _, c := range complaints {
		if c == ce {
			return true
		}
	}
	return false
}

// resolveComplaints walks every outstanding complaint and appends its
// verdict to the cheater table, against whatever reveal (if any) the
// accused peer supplied. It does not itself advance the protocol; callers
// move on to the transcript-commitment round once this returns.
func (s *TPState) resolveComplaints(reveals map[complaintEntry][32]byte) {
	for _, ce := range s.complaints {
		key, ok := reveals[ce]
		if !ok {
			s.cheaters = append(s.cheaters, Cheater{Step: 18, Error: ErrNoReveal, Peer: ce.accused, OtherPeer: ce.complainant})
			continue
		}
		s.cheaters = append(s.cheaters, s.resolveComplaint(ce, key))
	}
}

// requestTranscripts broadcasts the designated late-step transcript-commit
// request (spec §4.4) and moves on to collecting every peer's signed
// transcript digest, the last round before the final cheater table.
func (s *TPState) requestTranscripts() [][]byte {
	raw := s.broadcast(msgTranscriptReq, nil)
	s.phase = phaseAwaitTranscripts
	return replicate(raw, s.n)
}

// stepTranscripts collects every peer's signed transcript commitment,
// compares each against the TP's own record of that peer's channel (spec
// §4.4), flags any mismatch as a cheater (spec §8's "Transcript agreement"
// property), and broadcasts the final cheater table.
func (s *TPState) stepTranscripts(in [][]byte) ([][]byte, error) {
	for i, raw := range in {
		peerIdx := uint8(i + 1)
		expected := s.perPeerTr[i].Sum()
		env, err := s.recvFromPeer(20, raw, peerIdx, msgTranscriptCommit, s.verifyEph(i))
		if err != nil {
			return nil, err
		}
		if len(env.Data) != 32+ed25519.SignatureSize {
			return nil, &ProtocolError{Code: 20, Msg: fmt.Sprintf("peer %d: malformed transcript commitment", peerIdx)}
		}
		var sum [32]byte
		copy(sum[:], env.Data[:32])
		sig := env.Data[32:]
		if !ed25519.Verify(s.peerLTPKs[i], sum[:], sig) || sum != expected {
			s.cheaters = append(s.cheaters, Cheater{Step: 20, Error: ErrTranscriptMismatch, Peer: peerIdx})
		}
	}
	raw := s.broadcast(msgFinal, encodeFinal(s.cheaters))
	s.phase = phaseDone
	return replicate(raw, s.n), nil
}

// resolveComplaint runs the failure-mode ladder (spec §4.7) for one
// complaint, now that the accused peer has revealed the one session key
// the complaint turns on: decrypt, check the decrypted share's index, check
// the key-committing HMAC, then check the share against the accused's Feldman
// commitment vector. Only if every check passes is the complainant, not the
// accused, found to be the cheater.
func (s *TPState) resolveComplaint(ce complaintEntry, key [32]byte) Cheater {
	raw := s.shareCipher[ce.accused-1][ce.complainant-1]
	shareCt := raw[handshakeFlightSize : handshakeFlightSize+shareCiphertextSize]
	hmacTag := raw[handshakeFlightSize+shareCiphertextSize:]

	plaintext, err := noisexk.DecryptWithKey(key, shareCt)
	if err != nil {
		return Cheater{Step: 18, Error: ErrRevealedKeyBogus, Peer: ce.accused, OtherPeer: ce.complainant}
	}
	var share shamir.Share
	if err := share.UnmarshalBinary(plaintext); err != nil || share.Index != ce.complainant {
		idx := uint8(0)
		if err == nil {
			idx = share.Index
		}
		return Cheater{Step: 18, Error: ErrInvalidShareIndex, Peer: ce.accused, OtherPeer: ce.complainant, InvalidIndex: idx}
	}
	if !group.HMACEqual(hmacTag, group.HMACSum256(key[:], plaintext)) {
		return Cheater{Step: 18, Error: ErrHMACMismatch, Peer: ce.accused, OtherPeer: ce.complainant}
	}
	if shamir.VerifyShare(share, s.commitments[ce.accused-1]) {
		return Cheater{Step: 18, Error: ErrFalseAccusation, Peer: ce.complainant, OtherPeer: ce.accused}
	}
	return Cheater{Step: 18, Error: ErrConfirmedBadShare, Peer: ce.accused, OtherPeer: ce.complainant}
}

// PeerMessage slices peer's message out of a Next result, the Go analogue
// of tp_peer_msg.
func (s *TPState) PeerMessage(out [][]byte, peer uint8) ([]byte, error) {
	if peer < 1 || int(peer) > len(out) {
		return nil, &ProtocolError{Code: 1, Msg: "peer index out of range"}
	}
	return out[peer-1], nil
}

// Done reports whether the TP has broadcast its final cheater table and
// has no further input to process (tp_not_done, inverted to Go's usual
// sense).
func (s *TPState) Done() bool { return s.phase == phaseDone }

// Cheaters returns every cheater entry the TP identified while resolving
// complaints. Empty on a fully clean run.
func (s *TPState) Cheaters() []Cheater { return s.cheaters }

// HonestPeers returns the peer indices the TP did not disqualify, the set
// whose shares the final secret is assembled from.
func (s *TPState) HonestPeers() []uint8 {
	honest := make([]uint8, 0, s.n)
	for i := uint8(1); i <= s.n; i++ {
		if !isCheated(s.cheaters, i) {
			honest = append(honest, i)
		}
	}
	return honest
}
