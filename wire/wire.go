// Package wire implements the signed, timestamped, session-bound message
// envelope described in spec §4.3. Every message exchanged in the TP-DKG
// protocol — TP to peer, peer to TP, and (relayed through the TP) peer to
// peer — is framed with this envelope.
package wire

import (
	"encoding/binary"
	"fmt"
	"time"
)

const (
	// SessionIDSize is the size in bytes of the random session identifier.
	SessionIDSize = 32
	// SigSize is the size of an Ed25519 detached signature.
	SigSize = 64
	// HeaderSize is the size of the fixed envelope header, excluding data.
	HeaderSize = SigSize + 1 + 4 + 1 + 1 + 8 + SessionIDSize

	// ToTP addresses the trusted party.
	ToTP = 0
	// ToBroadcast marks a message intended for every peer.
	ToBroadcast = 0xFF
	// FromTP marks the trusted party as sender.
	FromTP = 0
)

// Envelope is the parsed form of a framed protocol message.
type Envelope struct {
	Sig       [SigSize]byte
	MsgNo     uint8
	From      uint8
	To        uint8
	Timestamp int64
	SessionID [SessionIDSize]byte
	Data      []byte
}

// signedSpan returns header||sessionid||data, the exact byte range the
// signature in tp-dkg.h's doc comment describes as covering "the message
// header, the message body and the sessionid".
func signedSpan(msgno, from, to uint8, ts int64, sessionID [SessionIDSize]byte, data []byte) []byte {
	buf := make([]byte, 0, 1+1+1+8+SessionIDSize+len(data))
	buf = append(buf, msgno, from, to)
	var tsBuf [8]byte
	binary.LittleEndian.PutUint64(tsBuf[:], uint64(ts))
	buf = append(buf, tsBuf[:]...)
	buf = append(buf, sessionID[:]...)
	buf = append(buf, data...)
	return buf
}

// Sign builds and signs a new envelope.
func Sign(msgno, from, to uint8, ts time.Time, sessionID [SessionIDSize]byte, data []byte, sign func([]byte) []byte) *Envelope {
	span := signedSpan(msgno, from, to, ts.Unix(), sessionID, data)
	var sig [SigSize]byte
	copy(sig[:], sign(span))
	return &Envelope{
		Sig:       sig,
		MsgNo:     msgno,
		From:      from,
		To:        to,
		Timestamp: ts.Unix(),
		SessionID: sessionID,
		Data:      data,
	}
}

// Marshal serializes the envelope per §4.3's byte layout:
// sig(64) || msgno(1) || len(4 LE) || from(1) || to(1) || ts(8 LE) || sessionid(32) || data.
func (e *Envelope) Marshal() []byte {
	total := HeaderSize + len(e.Data)
	out := make([]byte, total)
	off := 0
	copy(out[off:], e.Sig[:])
	off += SigSize
	out[off] = e.MsgNo
	off++
	binary.LittleEndian.PutUint32(out[off:], uint32(total))
	off += 4
	out[off] = e.From
	off++
	out[off] = e.To
	off++
	binary.LittleEndian.PutUint64(out[off:], uint64(e.Timestamp))
	off += 8
	copy(out[off:], e.SessionID[:])
	off += SessionIDSize
	copy(out[off:], e.Data)
	return out
}

// Parse decodes a framed message without verifying it; use Recv to apply
// the full set of receive checks from §4.3.
func Parse(raw []byte) (*Envelope, error) {
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("wire: message too short: %d bytes", len(raw))
	}
	e := &Envelope{}
	off := 0
	copy(e.Sig[:], raw[off:off+SigSize])
	off += SigSize
	e.MsgNo = raw[off]
	off++
	length := binary.LittleEndian.Uint32(raw[off:])
	off += 4
	if int(length) != len(raw) {
		return nil, fmt.Errorf("wire: length field %d does not match buffer of %d bytes", length, len(raw))
	}
	e.From = raw[off]
	off++
	e.To = raw[off]
	off++
	e.Timestamp = int64(binary.LittleEndian.Uint64(raw[off:]))
	off += 8
	copy(e.SessionID[:], raw[off:off+SessionIDSize])
	off += SessionIDSize
	e.Data = raw[off:]
	return e, nil
}

// RecvError is one of the six fine-grained recv-layer error codes from
// §4.3: "Any failure yields a fine-grained recv-error code (1..6) which
// higher steps translate into step-specific error codes".
type RecvError int

const (
	// ErrBadLength is recv-error 1: length field disagrees with the buffer.
	ErrBadLength RecvError = 1
	// ErrUnexpectedMsgNo is recv-error 2: msgno does not match the current step.
	ErrUnexpectedMsgNo RecvError = 2
	// ErrBadFrom is recv-error 3: from does not match expectation.
	ErrBadFrom RecvError = 3
	// ErrBadTo is recv-error 4: to does not match expectation.
	ErrBadTo RecvError = 4
	// ErrStale is recv-error 5: timestamp outside the freshness window.
	ErrStale RecvError = 5
	// ErrBadSignature is recv-error 6: the signature does not verify.
	ErrBadSignature RecvError = 6
)

func (e RecvError) Error() string {
	switch e {
	case ErrBadLength:
		return "wire: invalid message length"
	case ErrUnexpectedMsgNo:
		return "wire: unexpected msgno"
	case ErrBadFrom:
		return "wire: unexpected from"
	case ErrBadTo:
		return "wire: unexpected to"
	case ErrStale:
		return "wire: message not fresh (timestamp out of window)"
	case ErrBadSignature:
		return "wire: signature verification failed"
	default:
		return "wire: unknown recv error"
	}
}

// RecvExpectation pins down everything a call to Recv checks an envelope
// against, beyond the signature itself.
type RecvExpectation struct {
	MsgNo      uint8
	From       uint8
	To         uint8
	SessionID  [SessionIDSize]byte
	Now        time.Time
	TSEpsilon  time.Duration
	LastTS     int64
	VerifyKey  func(msg, sig []byte) bool
}

// Recv applies the full §4.3 receive check to raw bytes: length, msgno,
// from, to, freshness, session id, and signature, in that order; a session
// id mismatch is reported as ErrBadSignature. On success it returns the
// parsed envelope and the caller's new LastTS.
func Recv(raw []byte, exp RecvExpectation) (*Envelope, int64, error) {
	env, err := Parse(raw)
	if err != nil {
		return nil, exp.LastTS, ErrBadLength
	}
	if env.MsgNo != exp.MsgNo {
		return nil, exp.LastTS, ErrUnexpectedMsgNo
	}
	if env.From != exp.From {
		return nil, exp.LastTS, ErrBadFrom
	}
	if env.To != exp.To {
		return nil, exp.LastTS, ErrBadTo
	}
	age := exp.Now.Unix() - env.Timestamp
	if age < 0 {
		age = -age
	}
	if age > int64(exp.TSEpsilon/time.Second) {
		return nil, exp.LastTS, ErrStale
	}
	if env.Timestamp < exp.LastTS {
		return nil, exp.LastTS, ErrStale
	}
	if env.SessionID != exp.SessionID {
		return nil, exp.LastTS, ErrBadSignature
	}
	span := signedSpan(env.MsgNo, env.From, env.To, env.Timestamp, env.SessionID, env.Data)
	if !exp.VerifyKey(span, env.Sig[:]) {
		return nil, exp.LastTS, ErrBadSignature
	}
	return env, env.Timestamp, nil
}
