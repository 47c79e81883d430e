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

type peerPhase int

const (
	pAwaitTables peerPhase = iota
	pAwaitHandshakeInitRelay
	pAwaitHandshakeRespRelay
	pAwaitShareRelay
	pAwaitComplaintsOrTranscriptReq // after sending msgComplaints: TP replies msgComplaintsBcast (complaints exist) or msgTranscriptReq (none)
	pAwaitTranscriptReq             // after sending reveals for an accusation: awaiting TP's transcript-request broadcast
	pAwaitFinal                     // after sending this peer's own transcript commitment: awaiting the final cheater table
	pDone
)

// selfUnassigned is the placeholder From value a peer signs into its intro
// message (msg1), the one message sent before the TP has told it which
// peer index it occupies (spec §4.5 step 2: the TP, not the peer, assigns
// indices, by the position of the peer's long-term key in StartTP's
// peerLTPKs).
const selfUnassigned uint8 = 0

// PeerState is one shareholder's side of the protocol.
type PeerState struct {
	sessionID [wire.SessionIDSize]byte
	n, t      uint8
	index     uint8 // 0 until the table broadcast (msg2) assigns it
	tsEpsilon time.Duration
	lastTS    int64

	tpPK  ed25519.PublicKey
	ltSK  ed25519.PrivateKey
	ephPK ed25519.PublicKey
	ephSK ed25519.PrivateKey

	device *noisexk.Device

	table []peerTableEntry

	outbound []*noisexk.Session // outbound[j-1]: this peer as initiator, addressing peer j
	inbound  []*noisexk.Session // inbound[j-1]: this peer as responder, peer j as initiator

	ownShares      []shamir.Share // ownShares[j-1] = f_self(j), dealt to peer j
	ownCommitments []group.Point

	commitments    [][]group.Point // commitments[i-1] = peer i's Feldman commitment vector
	receivedShares []shamir.Share  // receivedShares[i-1] = the share this peer received from peer i

	complaintsFiled []complaintEntry

	cheaters      []Cheater
	thresholdLost bool
	finalShare    Share
	done          bool

	tr    *transcript.Transcript
	phase peerPhase
}

// StartPeer bootstraps a peer from msg0, the TP's session-params broadcast.
// msg0 is trusted on first receipt (there is no prior key to check its
// signature against — it is the bootstrap of trust itself); every
// subsequent TP message is verified against the tp_sig_pk msg0 carries.
func StartPeer(tsEpsilon time.Duration, ltSK ed25519.PrivateKey, msg0 []byte) (*PeerState, []byte, error) {
	env, err := wire.Parse(msg0)
	if err != nil {
		return nil, nil, fmt.Errorf("tpdkg: parse msg0: %w", err)
	}
	if env.MsgNo != msgSessionParams || env.From != wire.FromTP || env.To != wire.ToBroadcast {
		return nil, nil, &ProtocolError{Code: 1, Msg: "msg0: unexpected envelope shape"}
	}
	if len(env.Data) < 2+ed25519.PublicKeySize+2 {
		return nil, nil, &ProtocolError{Code: 1, Msg: "msg0: truncated"}
	}
	n, t := env.Data[0], env.Data[1]
	off := 2
	tpPK := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(tpPK, env.Data[off:off+ed25519.PublicKeySize])
	off += ed25519.PublicKeySize
	dstLen := int(env.Data[off])<<8 | int(env.Data[off+1])
	off += 2
	if len(env.Data) != off+dstLen {
		return nil, nil, &ProtocolError{Code: 1, Msg: "msg0: bad dst length"}
	}
	dst := append([]byte(nil), env.Data[off:off+dstLen]...)

	tr, err := transcript.New(dst)
	if err != nil {
		return nil, nil, fmt.Errorf("tpdkg: transcript: %w", err)
	}
	tr.Append(msg0)

	ephPK, ephSK, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("tpdkg: ephemeral signing key: %w", err)
	}
	var noiseSK [32]byte
	if _, err := rand.Read(noiseSK[:]); err != nil {
		return nil, nil, fmt.Errorf("tpdkg: noise static key: %w", err)
	}
	device, err := noisexk.NewDevice(noiseSK)
	if err != nil {
		return nil, nil, fmt.Errorf("tpdkg: noise device: %w", err)
	}

	secret, err := group.RandomScalar()
	if err != nil {
		return nil, nil, fmt.Errorf("tpdkg: polynomial secret: %w", err)
	}
	ownShares, ownCommitments, err := shamir.CreateSharesWithCommitments(secret, n, t)
	if err != nil {
		return nil, nil, fmt.Errorf("tpdkg: dealing shares: %w", err)
	}

	s := &PeerState{
		sessionID:      env.SessionID,
		n:              n,
		t:              t,
		tsEpsilon:      tsEpsilon,
		lastTS:         env.Timestamp,
		tpPK:           tpPK,
		ltSK:           ltSK,
		ephPK:          ephPK,
		ephSK:          ephSK,
		device:         device,
		ownShares:      ownShares,
		ownCommitments: ownCommitments,
		outbound:       make([]*noisexk.Session, n),
		inbound:        make([]*noisexk.Session, n),
		receivedShares: make([]shamir.Share, n),
		tr:             tr,
		phase:          pAwaitTables,
	}

	noisePK := device.StaticPublicKey()
	data := make([]byte, 0, ed25519.PublicKeySize+32)
	data = append(data, ephPK...)
	data = append(data, noisePK[:]...)
	env1 := wire.Sign(msgIntro, selfUnassigned, wire.ToTP, sessionTimestamp(), s.sessionID, data, func(m []byte) []byte { return ed25519.Sign(ltSK, m) })
	raw := env1.Marshal()
	s.tr.Append(raw)
	return s, raw, nil
}

func (s *PeerState) sign(msgno, to uint8, data []byte) []byte {
	env := wire.Sign(msgno, s.index, to, sessionTimestamp(), s.sessionID, data, func(m []byte) []byte { return ed25519.Sign(s.ephSK, m) })
	raw := env.Marshal()
	s.tr.Append(raw)
	return raw
}

func (s *PeerState) recvFromTP(step int, raw []byte, msgno, to uint8) (*wire.Envelope, error) {
	exp := wire.RecvExpectation{
		MsgNo:     msgno,
		From:      wire.FromTP,
		To:        to,
		SessionID: s.sessionID,
		Now:       sessionTimestamp(),
		TSEpsilon: s.tsEpsilon,
		LastTS:    s.lastTS,
		VerifyKey: func(msg, sig []byte) bool { return ed25519.Verify(s.tpPK, msg, sig) },
	}
	env, newTS, err := wire.Recv(raw, exp)
	if err != nil {
		return nil, wrapRecvErr(step, err.(wire.RecvError))
	}
	s.lastTS = newTS
	s.tr.Append(raw)
	return env, nil
}

// Next advances the peer one round on the message the caller read addressed
// to it (from the TP's Next output, sliced by TPState.PeerMessage).
func (s *PeerState) Next(in []byte) ([]byte, error) {
	switch s.phase {
	case pAwaitTables:
		return s.stepTables(in)
	case pAwaitHandshakeInitRelay:
		return s.stepHandshakeInitRelay(in)
	case pAwaitHandshakeRespRelay:
		return s.stepHandshakeRespRelay(in)
	case pAwaitShareRelay:
		return s.stepShareRelay(in)
	case pAwaitComplaintsOrTranscriptReq:
		return s.stepComplaintsOrTranscriptReq(in)
	case pAwaitTranscriptReq:
		return s.handleTranscriptReq(in)
	case pAwaitFinal:
		return s.handleFinal(in)
	default:
		return nil, &ProtocolError{Code: 0, Msg: "protocol already finished"}
	}
}

func (s *PeerState) stepTables(in []byte) ([]byte, error) {
	env, err := s.recvFromTP(2, in, msgPeerTables, wire.ToBroadcast)
	if err != nil {
		return nil, err
	}
	table, err := decodePeerTable(env.Data, s.n)
	if err != nil {
		return nil, &ProtocolError{Code: 2, Msg: err.Error()}
	}
	s.table = table

	found := false
	for _, e := range table {
		if eqPK(e.ephSigPK, s.ephPK) {
			s.index = e.index
			found = true
			break
		}
	}
	if !found {
		return nil, &ProtocolError{Code: 2, Msg: "self not present in peer table"}
	}
	s.receivedShares[s.index-1] = s.ownShares[s.index-1]

	var bundle []bundleEntry
	for j := uint8(1); j <= s.n; j++ {
		if j == s.index {
			continue
		}
		out, err := noisexk.NewInitiator(s.device, table[j-1].noiseStaticPK)
		if err != nil {
			return nil, fmt.Errorf("tpdkg: outbound session to peer %d: %w", j, err)
		}
		in, err := noisexk.NewResponder(s.device)
		if err != nil {
			return nil, fmt.Errorf("tpdkg: inbound session from peer %d: %w", j, err)
		}
		s.outbound[j-1] = out
		s.inbound[j-1] = in

		msg1, err := out.WriteMessage(nil)
		if err != nil {
			return nil, fmt.Errorf("tpdkg: handshake init to peer %d: %w", j, err)
		}
		bundle = append(bundle, bundleEntry{target: j, payload: msg1})
	}

	data := append(encodeCommitments(s.ownCommitments), encodeBundle(bundle)...)
	raw := s.sign(msgHandshakeInit, wire.ToTP, data)
	s.phase = pAwaitHandshakeInitRelay
	return raw, nil
}

func (s *PeerState) stepHandshakeInitRelay(in []byte) ([]byte, error) {
	env, err := s.recvFromTP(4, in, msgHandshakeInitFwd, s.index)
	if err != nil {
		return nil, err
	}
	cvSize := commitmentVectorSize(s.t)
	tableLen := int(s.n) * cvSize
	if len(env.Data) < tableLen {
		return nil, &ProtocolError{Code: 4, Msg: "truncated commitment table"}
	}
	commitments := make([][]group.Point, s.n)
	for i := range commitments {
		cv, err := decodeCommitments(env.Data[i*cvSize:(i+1)*cvSize], s.t)
		if err != nil {
			return nil, &ProtocolError{Code: 4, Msg: err.Error()}
		}
		commitments[i] = cv
	}
	s.commitments = commitments

	entries, err := decodeBundle(env.Data[tableLen:])
	if err != nil {
		return nil, &ProtocolError{Code: 4, Msg: err.Error()}
	}
	var bundle []bundleEntry
	for _, e := range entries {
		from := e.target
		if from < 1 || from > s.n || from == s.index {
			return nil, &ProtocolError{Code: 4, Msg: "bad handshake source"}
		}
		if _, err := s.inbound[from-1].ReadMessage(e.payload); err != nil {
			return nil, fmt.Errorf("tpdkg: handshake msg1 from peer %d: %w", from, err)
		}
		msg2, err := s.inbound[from-1].WriteMessage(nil)
		if err != nil {
			return nil, fmt.Errorf("tpdkg: handshake msg2 to peer %d: %w", from, err)
		}
		bundle = append(bundle, bundleEntry{target: from, payload: msg2})
	}

	raw := s.sign(msgHandshakeResp, wire.ToTP, encodeBundle(bundle))
	s.phase = pAwaitHandshakeRespRelay
	return raw, nil
}

func (s *PeerState) stepHandshakeRespRelay(in []byte) ([]byte, error) {
	env, err := s.recvFromTP(6, in, msgHandshakeRespFwd, s.index)
	if err != nil {
		return nil, err
	}
	entries, err := decodeBundle(env.Data)
	if err != nil {
		return nil, &ProtocolError{Code: 6, Msg: err.Error()}
	}

	var bundle []bundleEntry
	for _, e := range entries {
		j := e.target
		if j < 1 || j > s.n || j == s.index {
			return nil, &ProtocolError{Code: 6, Msg: "bad handshake responder"}
		}
		if _, err := s.outbound[j-1].ReadMessage(e.payload); err != nil {
			return nil, fmt.Errorf("tpdkg: handshake msg2 from peer %d: %w", j, err)
		}
		hsFlight, err := s.outbound[j-1].WriteMessage(nil)
		if err != nil {
			return nil, fmt.Errorf("tpdkg: handshake msg3 to peer %d: %w", j, err)
		}
		shareBytes, err := s.ownShares[j-1].MarshalBinary()
		if err != nil {
			return nil, err
		}
		shareCt, err := s.outbound[j-1].WriteMessage(shareBytes)
		if err != nil {
			return nil, fmt.Errorf("tpdkg: encrypting share for peer %d: %w", j, err)
		}
		sendKey, _, err := s.outbound[j-1].TransportKeys()
		if err != nil {
			return nil, err
		}
		hmacTag := group.HMACSum256(sendKey[:], shareBytes)

		combined := make([]byte, 0, shareBundleEntrySize)
		combined = append(combined, hsFlight...)
		combined = append(combined, shareCt...)
		combined = append(combined, hmacTag...)
		bundle = append(bundle, bundleEntry{target: j, payload: combined})
	}

	raw := s.sign(msgShareDelivery, wire.ToTP, encodeBundle(bundle))
	s.phase = pAwaitShareRelay
	return raw, nil
}

func (s *PeerState) stepShareRelay(in []byte) ([]byte, error) {
	env, err := s.recvFromTP(9, in, msgShareDeliveryFwd, s.index)
	if err != nil {
		return nil, err
	}
	entries, err := decodeBundle(env.Data)
	if err != nil {
		return nil, &ProtocolError{Code: 9, Msg: err.Error()}
	}

	var accused []uint8
	for _, e := range entries {
		from := e.target
		if from < 1 || from > s.n || from == s.index {
			return nil, &ProtocolError{Code: 9, Msg: "bad share source"}
		}
		if len(e.payload) != shareBundleEntrySize {
			accused = append(accused, from)
			continue
		}
		hsFlight := e.payload[:handshakeFlightSize]
		shareCt := e.payload[handshakeFlightSize : handshakeFlightSize+shareCiphertextSize]
		hmacTag := e.payload[handshakeFlightSize+shareCiphertextSize:]

		if _, err := s.inbound[from-1].ReadMessage(hsFlight); err != nil {
			accused = append(accused, from)
			continue
		}
		shareBytes, err := s.inbound[from-1].ReadMessage(shareCt)
		if err != nil {
			accused = append(accused, from)
			continue
		}
		_, recvKey, err := s.inbound[from-1].TransportKeys()
		if err != nil {
			accused = append(accused, from)
			continue
		}
		if !group.HMACEqual(hmacTag, group.HMACSum256(recvKey[:], shareBytes)) {
			accused = append(accused, from)
			continue
		}
		var share shamir.Share
		if err := share.UnmarshalBinary(shareBytes); err != nil || share.Index != s.index {
			accused = append(accused, from)
			continue
		}
		if !shamir.VerifyShare(share, s.commitments[from-1]) {
			accused = append(accused, from)
			continue
		}
		s.receivedShares[from-1] = share
	}

	s.complaintsFiled = make([]complaintEntry, 0, len(accused))
	for _, a := range accused {
		s.complaintsFiled = append(s.complaintsFiled, complaintEntry{complainant: s.index, accused: a})
	}
	raw := s.sign(msgComplaints, wire.ToTP, encodeComplaints(s.complaintsFiled))
	s.phase = pAwaitComplaintsOrTranscriptReq
	return raw, nil
}

func (s *PeerState) stepComplaintsOrTranscriptReq(in []byte) ([]byte, error) {
	peek, err := wire.Parse(in)
	if err != nil {
		return nil, wrapRecvErr(11, wire.ErrBadLength)
	}
	switch peek.MsgNo {
	case msgComplaintsBcast:
		return s.handleComplaintsBcast(in)
	case msgTranscriptReq:
		return s.handleTranscriptReq(in)
	default:
		return nil, wrapRecvErr(11, wire.ErrUnexpectedMsgNo)
	}
}

func (s *PeerState) handleComplaintsBcast(in []byte) ([]byte, error) {
	env, err := s.recvFromTP(11, in, msgComplaintsBcast, wire.ToBroadcast)
	if err != nil {
		return nil, err
	}
	all, err := decodeComplaints(env.Data)
	if err != nil {
		return nil, &ProtocolError{Code: 11, Msg: err.Error()}
	}

	var reveals []revealEntry
	for _, c := range all {
		if c.accused != s.index {
			continue
		}
		sendKey, _, err := s.outbound[c.complainant-1].TransportKeys()
		if err != nil {
			return nil, err
		}
		reveals = append(reveals, revealEntry{accuser: c.complainant, key: sendKey})
	}

	raw := s.sign(msgReveals, wire.ToTP, encodeReveals(reveals))
	s.phase = pAwaitTranscriptReq
	return raw, nil
}

// handleTranscriptReq responds to the TP's designated-late-step request
// (spec §4.4) by signing this peer's current transcript digest with its
// long-term key — a stronger, non-repudiable commitment than the
// per-message ephemeral signature the envelope itself already carries —
// and sending (sum, sig) back to the TP for comparison.
func (s *PeerState) handleTranscriptReq(in []byte) ([]byte, error) {
	if _, err := s.recvFromTP(14, in, msgTranscriptReq, wire.ToBroadcast); err != nil {
		return nil, err
	}
	sum, sig := s.tr.Sign(func(m []byte) []byte { return ed25519.Sign(s.ltSK, m) })
	data := make([]byte, 0, len(sum)+len(sig))
	data = append(data, sum[:]...)
	data = append(data, sig...)
	raw := s.sign(msgTranscriptCommit, wire.ToTP, data)
	s.phase = pAwaitFinal
	return raw, nil
}

func (s *PeerState) handleFinal(in []byte) ([]byte, error) {
	env, err := s.recvFromTP(12, in, msgFinal, wire.ToBroadcast)
	if err != nil {
		return nil, err
	}
	cheaters, err := decodeFinal(env.Data)
	if err != nil {
		return nil, &ProtocolError{Code: 12, Msg: err.Error()}
	}
	s.cheaters = cheaters

	disqualified := map[uint8]bool{}
	for _, c := range cheaters {
		disqualified[c.Peer] = true
	}

	honest := uint8(0)
	value := group.NewScalarFromUint8(0)
	for i := uint8(1); i <= s.n; i++ {
		if disqualified[i] {
			continue
		}
		honest++
		value = value.Add(s.receivedShares[i-1].Value)
	}

	s.phase = pDone
	s.done = true
	if honest < s.t {
		s.thresholdLost = true
		return nil, nil
	}
	s.finalShare = Share{Index: s.index, Value: value}
	return nil, nil
}

func eqPK(a, b ed25519.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Done reports whether the peer has processed the TP's final message and
// has nothing further to send (peer_not_done, inverted).
func (s *PeerState) Done() bool { return s.done }

// Share returns the peer's final point on the jointly generated polynomial.
// ok is false until Done reports true, or if the session lost its
// threshold (too many peers were disqualified to reconstruct safely).
func (s *PeerState) Share() (Share, bool) {
	if !s.done || s.thresholdLost {
		return Share{}, false
	}
	return s.finalShare, true
}

// Cheaters returns the final cheater table this peer learned from the TP,
// valid once Done reports true.
func (s *PeerState) Cheaters() []Cheater { return s.cheaters }

// Close releases every Noise-XK session this peer opened, zeroizing their
// transport keys, and overwrites the ephemeral signing key (spec §4
// "Lifecycle"). The dealt and received share scalars are not overwritten.
func (s *PeerState) Close() error {
	for i := range s.ephSK {
		s.ephSK[i] = 0
	}
	for _, sess := range s.outbound {
		if sess != nil {
			sess.Close()
		}
	}
	for _, sess := range s.inbound {
		if sess != nil {
			sess.Close()
		}
	}
	s.device.Close()
	return nil
}
