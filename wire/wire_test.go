package wire

import (
	"crypto/ed25519"
	"testing"
	"time"
)

func testSession(t *testing.T) [SessionIDSize]byte {
	t.Helper()
	var sid [SessionIDSize]byte
	for i := range sid {
		sid[i] = byte(i)
	}
	return sid
}

func TestSignMarshalParseRoundTrip(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sid := testSession(t)
	now := time.Unix(1700000000, 0)
	data := []byte("payload bytes")

	env := Sign(5, 1, 0, now, sid, data, func(m []byte) []byte { return ed25519.Sign(sk, m) })
	raw := env.Marshal()

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.MsgNo != 5 || parsed.From != 1 || parsed.To != 0 {
		t.Fatalf("Parse returned msgno=%d from=%d to=%d, want 5/1/0", parsed.MsgNo, parsed.From, parsed.To)
	}
	if string(parsed.Data) != string(data) {
		t.Fatalf("Parse returned data %q, want %q", parsed.Data, data)
	}

	span := signedSpan(parsed.MsgNo, parsed.From, parsed.To, parsed.Timestamp, parsed.SessionID, parsed.Data)
	if !ed25519.Verify(pk, span, parsed.Sig[:]) {
		t.Fatal("signature over the parsed envelope's signed span does not verify")
	}
}

func TestParseRejectsShortBuffer(t *testing.T) {
	if _, err := Parse(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("Parse accepted a buffer shorter than HeaderSize")
	}
}

func TestParseRejectsMismatchedLengthField(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	_ = pk
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sid := testSession(t)
	env := Sign(1, 0, 1, time.Now(), sid, []byte("x"), func(m []byte) []byte { return ed25519.Sign(sk, m) })
	raw := env.Marshal()
	raw = append(raw, 0xFF) // length field now disagrees with buffer size
	if _, err := Parse(raw); err == nil {
		t.Fatal("Parse accepted a buffer whose length field was stale")
	}
}

func TestRecvAcceptsWellFormedEnvelope(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sid := testSession(t)
	now := time.Unix(1700000000, 0)
	env := Sign(3, 1, 0, now, sid, []byte("hello"), func(m []byte) []byte { return ed25519.Sign(sk, m) })
	raw := env.Marshal()

	exp := RecvExpectation{
		MsgNo:     3,
		From:      1,
		To:        0,
		SessionID: sid,
		Now:       now,
		TSEpsilon: 5 * time.Minute,
		LastTS:    0,
		VerifyKey: func(msg, sig []byte) bool { return ed25519.Verify(pk, msg, sig) },
	}
	parsed, lastTS, err := Recv(raw, exp)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if parsed.MsgNo != 3 {
		t.Fatalf("Recv parsed msgno %d, want 3", parsed.MsgNo)
	}
	if lastTS != now.Unix() {
		t.Fatalf("Recv returned lastTS %d, want %d", lastTS, now.Unix())
	}
}

func TestRecvRejectsWrongMsgNo(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sid := testSession(t)
	now := time.Unix(1700000000, 0)
	env := Sign(3, 1, 0, now, sid, []byte("hello"), func(m []byte) []byte { return ed25519.Sign(sk, m) })
	raw := env.Marshal()

	exp := RecvExpectation{
		MsgNo: 4, From: 1, To: 0, SessionID: sid, Now: now, TSEpsilon: 5 * time.Minute,
		VerifyKey: func(msg, sig []byte) bool { return ed25519.Verify(pk, msg, sig) },
	}
	_, _, err = Recv(raw, exp)
	if err != ErrUnexpectedMsgNo {
		t.Fatalf("Recv returned %v, want ErrUnexpectedMsgNo", err)
	}
}

func TestRecvRejectsStaleTimestamp(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sid := testSession(t)
	past := time.Unix(1700000000, 0)
	env := Sign(1, 1, 0, past, sid, nil, func(m []byte) []byte { return ed25519.Sign(sk, m) })
	raw := env.Marshal()

	exp := RecvExpectation{
		MsgNo: 1, From: 1, To: 0, SessionID: sid,
		Now:       past.Add(time.Hour),
		TSEpsilon: 5 * time.Minute,
		VerifyKey: func(msg, sig []byte) bool { return ed25519.Verify(pk, msg, sig) },
	}
	_, _, err = Recv(raw, exp)
	if err != ErrStale {
		t.Fatalf("Recv returned %v, want ErrStale", err)
	}
}

func TestRecvRejectsReplayedOlderTimestamp(t *testing.T) {
	pk, sk, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sid := testSession(t)
	base := time.Unix(1700000000, 0)
	sign := func(m []byte) []byte { return ed25519.Sign(sk, m) }

	// A message timestamped before the last one accepted must be rejected,
	// even though it is well within the freshness epsilon of "now".
	env := Sign(1, 1, 0, base, sid, nil, sign)
	raw := env.Marshal()
	exp := RecvExpectation{
		MsgNo: 1, From: 1, To: 0, SessionID: sid,
		Now:       base.Add(time.Second),
		TSEpsilon: 5 * time.Minute,
		LastTS:    base.Add(time.Minute).Unix(),
		VerifyKey: func(msg, sig []byte) bool { return ed25519.Verify(pk, msg, sig) },
	}
	_, _, err = Recv(raw, exp)
	if err != ErrStale {
		t.Fatalf("Recv returned %v, want ErrStale for a replayed older timestamp", err)
	}
}

func TestRecvRejectsBadSignature(t *testing.T) {
	_, sk, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	otherPK, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	sid := testSession(t)
	now := time.Unix(1700000000, 0)
	env := Sign(1, 1, 0, now, sid, nil, func(m []byte) []byte { return ed25519.Sign(sk, m) })
	raw := env.Marshal()

	exp := RecvExpectation{
		MsgNo: 1, From: 1, To: 0, SessionID: sid, Now: now, TSEpsilon: 5 * time.Minute,
		VerifyKey: func(msg, sig []byte) bool { return ed25519.Verify(otherPK, msg, sig) },
	}
	_, _, err = Recv(raw, exp)
	if err != ErrBadSignature {
		t.Fatalf("Recv returned %v, want ErrBadSignature", err)
	}
}
