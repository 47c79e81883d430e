package noisexk

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	var sk [StaticKeySize]byte
	if _, err := rand.Read(sk[:]); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	d, err := NewDevice(sk)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	return d
}

func TestHandshakeEstablishesSharedTransportKeys(t *testing.T) {
	initiatorDevice := newTestDevice(t)
	responderDevice := newTestDevice(t)

	initiator, err := NewInitiator(initiatorDevice, responderDevice.StaticPublicKey())
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	responder, err := NewResponder(responderDevice)
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	msg1, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("write msg1: %v", err)
	}
	if _, err := responder.ReadMessage(msg1); err != nil {
		t.Fatalf("read msg1: %v", err)
	}

	msg2, err := responder.WriteMessage(nil)
	if err != nil {
		t.Fatalf("write msg2: %v", err)
	}
	if _, err := initiator.ReadMessage(msg2); err != nil {
		t.Fatalf("read msg2: %v", err)
	}

	msg3, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("write msg3: %v", err)
	}
	if _, err := responder.ReadMessage(msg3); err != nil {
		t.Fatalf("read msg3: %v", err)
	}

	if !initiator.Established() || !responder.Established() {
		t.Fatalf("both sides should report the handshake established")
	}
	if responder.RemoteStaticKey() != initiatorDevice.StaticPublicKey() {
		t.Errorf("responder learned the wrong initiator static key")
	}

	plaintext := []byte("share for peer 2: f_1(2)")
	ct, err := initiator.WriteMessage(plaintext)
	if err != nil {
		t.Fatalf("encrypt transport message: %v", err)
	}
	pt, err := responder.ReadMessage(ct)
	if err != nil {
		t.Fatalf("decrypt transport message: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Errorf("transport roundtrip mismatch: got %q, want %q", pt, plaintext)
	}

	reply := []byte("ack")
	ct2, err := responder.WriteMessage(reply)
	if err != nil {
		t.Fatalf("encrypt reply: %v", err)
	}
	pt2, err := initiator.ReadMessage(ct2)
	if err != nil {
		t.Fatalf("decrypt reply: %v", err)
	}
	if !bytes.Equal(pt2, reply) {
		t.Errorf("reply roundtrip mismatch: got %q, want %q", pt2, reply)
	}
}

func TestHandshakeFailsWithWrongResponderKey(t *testing.T) {
	initiatorDevice := newTestDevice(t)
	responderDevice := newTestDevice(t)
	wrongDevice := newTestDevice(t)

	// Initiator is told the wrong responder static key, simulating a
	// corrupted or forged entry in the TP's peer-Noise-pk table.
	initiator, err := NewInitiator(initiatorDevice, wrongDevice.StaticPublicKey())
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	responder, err := NewResponder(responderDevice)
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	msg1, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("write msg1: %v", err)
	}
	if _, err := responder.ReadMessage(msg1); err == nil {
		t.Fatalf("expected handshake to fail when the initiator used the wrong responder key")
	}
}

func TestTransportRejectsTamperedCiphertext(t *testing.T) {
	initiatorDevice := newTestDevice(t)
	responderDevice := newTestDevice(t)

	initiator, _ := NewInitiator(initiatorDevice, responderDevice.StaticPublicKey())
	responder, _ := NewResponder(responderDevice)

	msg1, _ := initiator.WriteMessage(nil)
	_, _ = responder.ReadMessage(msg1)
	msg2, _ := responder.WriteMessage(nil)
	_, _ = initiator.ReadMessage(msg2)
	msg3, _ := initiator.WriteMessage(nil)
	_, _ = responder.ReadMessage(msg3)

	ct, err := initiator.WriteMessage([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xff

	if _, err := responder.ReadMessage(tampered); err == nil {
		t.Errorf("expected tampered ciphertext to fail authentication")
	}
}

func TestCloseZeroizesSecrets(t *testing.T) {
	device := newTestDevice(t)
	other := newTestDevice(t)
	s, err := NewInitiator(device, other.StaticPublicKey())
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	s.sendKey = [32]byte{1, 2, 3}
	s.Close()
	var zero [32]byte
	if s.sendKey != zero {
		t.Errorf("Close did not zeroize sendKey")
	}
}
