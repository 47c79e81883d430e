// Package noisexk implements the Noise-XK handshake and post-handshake
// transport session used by tpdkg to carry each peer's encrypted share to
// every other peer (spec §4.6 "Encrypted share delivery"). XK authenticates
// the responder's static key, which the initiator must already know before
// the handshake starts — exactly what the TP's broadcast peer-Noise-pk table
// gives every peer about every other peer (spec §4 step 3).
//
// The construction follows the same mixHash/mixKey symmetric-state shape
// WireGuard-style Noise implementations use, built here over BLAKE2s,
// X25519 and ChaCha20-Poly1305, with a final HKDF expansion (rather than a
// single extra mixKey) to split the last chaining key into independent
// send/receive transport keys.
package noisexk

import (
	"crypto/rand"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// StaticKeySize is the size of an X25519 static or ephemeral key.
	StaticKeySize = 32
	// protocolName seeds the symmetric state per the Noise spec's naming
	// convention; it need not match any other implementation's string since
	// both ends of a session are produced by this package.
	protocolName = "Noise_XK_25519_ChaChaPoly_BLAKE2s"
)

var zeroNonce [chacha20poly1305.NonceSize]byte

// Device owns a party's long-term Noise static keypair. One Device is shared
// by every Session a peer opens, mirroring how the device in the source
// material owns all of a node's handshakes.
type Device struct {
	sk [StaticKeySize]byte
	pk [StaticKeySize]byte
}

// NewDevice derives the static public key from sk and returns a Device ready
// to open sessions.
func NewDevice(sk [StaticKeySize]byte) (*Device, error) {
	d := &Device{sk: sk}
	pk, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("noisexk: derive static public key: %w", err)
	}
	copy(d.pk[:], pk)
	return d, nil
}

// StaticPublicKey returns the device's long-term public key, the value
// published in the TP's peer-Noise-pk table.
func (d *Device) StaticPublicKey() [StaticKeySize]byte { return d.pk }

// Close zeroizes the device's static secret key.
func (d *Device) Close() {
	for i := range d.sk {
		d.sk[i] = 0
	}
}

type role int

const (
	roleInitiator role = iota
	roleResponder
)

type handshakeStep int

const (
	stepNone handshakeStep = iota
	stepWroteMsg1
	stepReadMsg1
	stepWroteMsg2
	stepReadMsg2
	stepDone
)

// Session is one handshake-then-transport Noise-XK strand between this
// device and exactly one peer, per spec §3 "one Noise-XK session per other
// peer". Sessions are not safe for concurrent use from multiple goroutines;
// the tpdkg state machine drives each from a single caller.
type Session struct {
	device *Device
	role   role
	step   handshakeStep

	remoteStatic [StaticKeySize]byte
	localEph     [StaticKeySize]byte
	remoteEph    [StaticKeySize]byte

	h  [blake2s.Size]byte
	ck [blake2s.Size]byte

	sendKey [chacha20poly1305.KeySize]byte
	recvKey [chacha20poly1305.KeySize]byte
	sendCtr uint64
	recvCtr uint64

	established bool
}

// NewInitiator starts a Noise-XK session as the initiator, who must already
// know the responder's static public key.
func NewInitiator(device *Device, remoteStatic [StaticKeySize]byte) (*Session, error) {
	s := &Session{device: device, role: roleInitiator, remoteStatic: remoteStatic}
	s.initSymmetric(remoteStatic)
	return s, nil
}

// NewResponder starts a Noise-XK session as the responder. The responder
// does not learn the initiator's static key until message 3.
func NewResponder(device *Device) (*Session, error) {
	s := &Session{device: device, role: roleResponder}
	s.initSymmetric(device.pk)
	return s, nil
}

// RemoteStaticKey returns the peer's static public key; only meaningful
// after the handshake has completed (for a responder, it is unknown until
// then).
func (s *Session) RemoteStaticKey() [StaticKeySize]byte { return s.remoteStatic }

// Established reports whether the handshake has completed and transport
// keys are available.
func (s *Session) Established() bool { return s.established }

func (s *Session) initSymmetric(responderStatic [StaticKeySize]byte) {
	s.h = blake2s.Sum256([]byte(protocolName))
	s.ck = s.h
	// XK's pre-message is the responder's static key, known to the
	// initiator in advance and to the responder trivially (its own key).
	s.mixHash(responderStatic[:])
}

func (s *Session) mixHash(data []byte) {
	h, _ := blake2s.New256(nil)
	h.Write(s.h[:])
	h.Write(data)
	copy(s.h[:], h.Sum(nil))
}

// mixKeyBlake2s runs HKDF-Extract keyed by BLAKE2s over the chaining key and
// input key material, replacing the chaining key with the HKDF output.
func (s *Session) mixKeyBlake2s(ikm []byte) {
	out := hkdf.Extract(blake2sNew, ikm, s.ck[:])
	copy(s.ck[:], out[:blake2s.Size])
}

func blake2sNew() hash.Hash {
	h, _ := blake2s.New256(nil)
	return h
}

func (s *Session) encryptAndHash(key [chacha20poly1305.KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	ct := aead.Seal(nil, zeroNonce[:], plaintext, s.h[:])
	s.mixHash(ct)
	return ct, nil
}

func (s *Session) decryptAndHash(key [chacha20poly1305.KeySize]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, zeroNonce[:], ciphertext, s.h[:])
	if err != nil {
		return nil, fmt.Errorf("noisexk: decrypt: %w", err)
	}
	s.mixHash(ciphertext)
	return pt, nil
}

func genEphemeral() (sk, pk [StaticKeySize]byte, err error) {
	if _, err = io.ReadFull(rand.Reader, sk[:]); err != nil {
		return sk, pk, fmt.Errorf("noisexk: ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(sk[:], curve25519.Basepoint)
	if err != nil {
		return sk, pk, fmt.Errorf("noisexk: ephemeral public key: %w", err)
	}
	copy(pk[:], pub)
	return sk, pk, nil
}

func dh(sk, pk [StaticKeySize]byte) ([]byte, error) {
	out, err := curve25519.X25519(sk[:], pk[:])
	if err != nil {
		return nil, fmt.Errorf("noisexk: dh: %w", err)
	}
	return out, nil
}

// WriteMessage produces the next outbound handshake message (or, once the
// handshake is done, an encrypted transport message carrying payload).
func (s *Session) WriteMessage(payload []byte) ([]byte, error) {
	switch {
	case s.established:
		return s.encryptTransport(payload)
	case s.role == roleInitiator && s.step == stepNone:
		return s.writeMsg1(payload)
	case s.role == roleResponder && s.step == stepReadMsg1:
		return s.writeMsg2(payload)
	case s.role == roleInitiator && s.step == stepReadMsg2:
		return s.writeMsg3(payload)
	default:
		return nil, errors.New("noisexk: no outbound handshake message in current state")
	}
}

// ReadMessage consumes the next inbound handshake message (or, once the
// handshake is done, an encrypted transport message) and returns any
// payload it carried.
func (s *Session) ReadMessage(msg []byte) ([]byte, error) {
	switch {
	case s.established:
		return s.decryptTransport(msg)
	case s.role == roleResponder && s.step == stepNone:
		return s.readMsg1(msg)
	case s.role == roleInitiator && s.step == stepWroteMsg1:
		return s.readMsg2(msg)
	case s.role == roleResponder && s.step == stepWroteMsg2:
		return s.readMsg3(msg)
	default:
		return nil, errors.New("noisexk: no inbound handshake message expected in current state")
	}
}

// writeMsg1 implements XK's "-> e, es".
func (s *Session) writeMsg1(payload []byte) ([]byte, error) {
	eSk, ePk, err := genEphemeral()
	if err != nil {
		return nil, err
	}
	s.localEph = eSk
	s.mixHash(ePk[:])

	ss, err := dh(eSk, s.remoteStatic)
	if err != nil {
		return nil, err
	}
	s.mixKeyBlake2s(ss)

	var key [chacha20poly1305.KeySize]byte
	copy(key[:], s.ck[:])
	ct, err := s.encryptAndHash(key, payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, StaticKeySize+len(ct))
	out = append(out, ePk[:]...)
	out = append(out, ct...)
	s.step = stepWroteMsg1
	return out, nil
}

func (s *Session) readMsg1(msg []byte) ([]byte, error) {
	if len(msg) < StaticKeySize {
		return nil, errors.New("noisexk: message 1 too short")
	}
	copy(s.remoteEph[:], msg[:StaticKeySize])
	s.mixHash(s.remoteEph[:])

	ss, err := dh(s.device.sk, s.remoteEph)
	if err != nil {
		return nil, err
	}
	s.mixKeyBlake2s(ss)

	var key [chacha20poly1305.KeySize]byte
	copy(key[:], s.ck[:])
	pt, err := s.decryptAndHash(key, msg[StaticKeySize:])
	if err != nil {
		return nil, err
	}
	s.step = stepReadMsg1
	return pt, nil
}

// writeMsg2 implements XK's "<- e, ee".
func (s *Session) writeMsg2(payload []byte) ([]byte, error) {
	eSk, ePk, err := genEphemeral()
	if err != nil {
		return nil, err
	}
	s.localEph = eSk
	s.mixHash(ePk[:])

	ss, err := dh(eSk, s.remoteEph)
	if err != nil {
		return nil, err
	}
	s.mixKeyBlake2s(ss)

	var key [chacha20poly1305.KeySize]byte
	copy(key[:], s.ck[:])
	ct, err := s.encryptAndHash(key, payload)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, StaticKeySize+len(ct))
	out = append(out, ePk[:]...)
	out = append(out, ct...)
	s.step = stepWroteMsg2
	return out, nil
}

func (s *Session) readMsg2(msg []byte) ([]byte, error) {
	if len(msg) < StaticKeySize {
		return nil, errors.New("noisexk: message 2 too short")
	}
	copy(s.remoteEph[:], msg[:StaticKeySize])
	s.mixHash(s.remoteEph[:])

	ss, err := dh(s.localEph, s.remoteEph)
	if err != nil {
		return nil, err
	}
	s.mixKeyBlake2s(ss)

	var key [chacha20poly1305.KeySize]byte
	copy(key[:], s.ck[:])
	pt, err := s.decryptAndHash(key, msg[StaticKeySize:])
	if err != nil {
		return nil, err
	}
	s.step = stepReadMsg2
	return pt, nil
}

// writeMsg3 implements XK's final "-> s, se": the initiator reveals its own
// static key, encrypted under the current transcript, then mixes in the
// static-ephemeral DH before deriving transport keys.
func (s *Session) writeMsg3(payload []byte) ([]byte, error) {
	var key [chacha20poly1305.KeySize]byte
	copy(key[:], s.ck[:])
	sCt, err := s.encryptAndHash(key, s.device.pk[:])
	if err != nil {
		return nil, err
	}

	ss, err := dh(s.device.sk, s.remoteEph)
	if err != nil {
		return nil, err
	}
	s.mixKeyBlake2s(ss)

	copy(key[:], s.ck[:])
	payloadCt, err := s.encryptAndHash(key, payload)
	if err != nil {
		return nil, err
	}

	s.split()
	s.step = stepDone
	s.established = true

	out := make([]byte, 0, len(sCt)+len(payloadCt))
	out = append(out, sCt...)
	out = append(out, payloadCt...)
	return out, nil
}

func (s *Session) readMsg3(msg []byte) ([]byte, error) {
	staticCtLen := StaticKeySize + chacha20poly1305.Overhead
	if len(msg) < staticCtLen {
		return nil, errors.New("noisexk: message 3 too short")
	}
	var key [chacha20poly1305.KeySize]byte
	copy(key[:], s.ck[:])
	remoteStatic, err := s.decryptAndHash(key, msg[:staticCtLen])
	if err != nil {
		return nil, err
	}
	copy(s.remoteStatic[:], remoteStatic)

	ss, err := dh(s.localEph, s.remoteStatic)
	if err != nil {
		return nil, err
	}
	s.mixKeyBlake2s(ss)

	copy(key[:], s.ck[:])
	pt, err := s.decryptAndHash(key, msg[staticCtLen:])
	if err != nil {
		return nil, err
	}

	s.split()
	s.step = stepDone
	s.established = true
	return pt, nil
}

// split derives independent send/receive transport keys from the final
// chaining key via HKDF expansion, rather than one more mixKey step, so
// that each direction's AEAD nonce space is fully independent.
func (s *Session) split() {
	expander := hkdf.Expand(blake2sNew, s.ck[:], []byte("noisexk transport split"))
	var k1, k2 [chacha20poly1305.KeySize]byte
	io.ReadFull(expander, k1[:])
	io.ReadFull(expander, k2[:])
	if s.role == roleInitiator {
		s.sendKey, s.recvKey = k1, k2
	} else {
		s.sendKey, s.recvKey = k2, k1
	}
}

func (s *Session) encryptTransport(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.sendKey[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	putCounter(nonce, s.sendCtr)
	s.sendCtr++
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (s *Session) decryptTransport(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.recvKey[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	putCounter(nonce, s.recvCtr)
	s.recvCtr++
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("noisexk: transport decrypt: %w", err)
	}
	return pt, nil
}

func putCounter(nonce []byte, ctr uint64) {
	for i := 0; i < 8; i++ {
		nonce[4+i] = byte(ctr >> (8 * i))
	}
}

// TransportKeys returns the session's derived send and receive keys, valid
// only once Established reports true. tpdkg's key-reveal discipline uses
// this to let an accused peer publish the one session key a complaint turns
// on, without exposing any other session's keys (spec §4.6 "Key-reveal
// discipline").
func (s *Session) TransportKeys() (send, recv [chacha20poly1305.KeySize]byte, err error) {
	if !s.established {
		return send, recv, errors.New("noisexk: transport keys not yet derived")
	}
	return s.sendKey, s.recvKey, nil
}

// DecryptWithKey decrypts a single transport message (counter 0) using a
// raw key rather than a live Session, the shape a revealed session key
// takes during tpdkg's complaint resolution (spec §4.6 "Key-reveal
// discipline"): the resolver never reconstructs the whole session, only
// replays the one AEAD open the revealed key authorizes.
func DecryptWithKey(key [chacha20poly1305.KeySize]byte, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	pt, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("noisexk: revealed-key decrypt: %w", err)
	}
	return pt, nil
}

// Close zeroizes the session's secret material. The caller must invoke this
// for every session before the owning peer state is dropped (spec §4
// "Lifecycle": Noise-XK sessions carry heap-allocated material and MUST be
// explicitly released by the peer before its state is dropped).
func (s *Session) Close() {
	for i := range s.localEph {
		s.localEph[i] = 0
	}
	for i := range s.sendKey {
		s.sendKey[i] = 0
	}
	for i := range s.recvKey {
		s.recvKey[i] = 0
	}
	for i := range s.ck {
		s.ck[i] = 0
	}
}
