// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// primitive provides the low level cryptographic operations used by the
// conversation core: X25519 key agreement, HKDF-SHA256 session key
// derivation, AES-128 in counter mode and HMAC-SHA256.
//
// The core only talks to the Provider interface.  Default is the
// implementation used outside of tests.
package primitive

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"io"
	"runtime"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize    = curve25519.ScalarSize
	AESKeySize = 16
	MACKeySize = 32
	MACSize    = sha256.Size

	sessionInfo = "zkotr session keys"
)

var (
	ErrKeySize  = errors.New("invalid key size")
	ErrLowOrder = errors.New("low order point")
)

// PublicKey is an X25519 public value.
type PublicKey [KeySize]byte

// PrivateKey is a clamped X25519 scalar.
type PrivateKey [KeySize]byte

// KeyPair is a Diffie-Hellman key pair.
type KeyPair struct {
	Private PrivateKey
	Public  PublicKey
}

// Zero wipes both halves of the key pair.
func (kp *KeyPair) Zero() {
	Zero(kp.Private[:])
	Zero(kp.Public[:])
}

// SessionKeys are the symmetric keys derived from one DH shared secret.  Send
// and receive halves are swapped between the two peers.
type SessionKeys struct {
	SendAES [AESKeySize]byte
	RecvAES [AESKeySize]byte
	SendMAC [MACKeySize]byte
	RecvMAC [MACKeySize]byte
}

// Zero wipes all derived keys.
func (k *SessionKeys) Zero() {
	Zero(k.SendAES[:])
	Zero(k.RecvAES[:])
	Zero(k.SendMAC[:])
	Zero(k.RecvMAC[:])
}

// Provider is the set of primitives the ratchet and the data message protocol
// depend on.
type Provider interface {
	GenerateKeyPair() (KeyPair, error)
	SharedSecret(priv PrivateKey, pub PublicKey) ([KeySize]byte, error)
	DeriveKeys(secret [KeySize]byte, ours, theirs PublicKey) (SessionKeys, error)
	EncryptCTR(key [AESKeySize]byte, counter uint64, data []byte) ([]byte, error)
	DecryptCTR(key [AESKeySize]byte, counter uint64, data []byte) ([]byte, error)
	MAC(key [MACKeySize]byte, data []byte) [MACSize]byte
}

// Default implements Provider with X25519, HKDF-SHA256, AES-CTR and
// HMAC-SHA256.
type Default struct {
	rand io.Reader
}

var _ Provider = (*Default)(nil)

// New returns a Default provider that draws key material from rand.
func New(rand io.Reader) *Default {
	return &Default{rand: rand}
}

// GenerateKeyPair returns a fresh clamped X25519 key pair.
func (d *Default) GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(d.rand, kp.Private[:]); err != nil {
		return KeyPair{}, err
	}
	kp.Private[0] &= 248
	kp.Private[31] &= 127
	kp.Private[31] |= 64

	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		kp.Zero()
		return KeyPair{}, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// SharedSecret computes the X25519 shared secret.  Low order public values
// are rejected.
func (d *Default) SharedSecret(priv PrivateKey, pub PublicKey) ([KeySize]byte, error) {
	var s [KeySize]byte
	out, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return s, ErrLowOrder
	}
	copy(s[:], out)
	Zero(out)
	return s, nil
}

// DeriveKeys expands secret into session keys.  The peer holding the larger
// public value is the "high" end; its send keys are the other side's receive
// keys.
func (d *Default) DeriveKeys(secret [KeySize]byte, ours, theirs PublicKey) (SessionKeys, error) {
	send, recv := byte(0x02), byte(0x01)
	if bytes.Compare(ours[:], theirs[:]) > 0 {
		send, recv = 0x01, 0x02
	}

	var k SessionKeys
	if err := expand(secret[:], send, k.SendAES[:], k.SendMAC[:]); err != nil {
		return SessionKeys{}, err
	}
	if err := expand(secret[:], recv, k.RecvAES[:], k.RecvMAC[:]); err != nil {
		k.Zero()
		return SessionKeys{}, err
	}
	return k, nil
}

func expand(secret []byte, direction byte, aesKey, macKey []byte) error {
	r := hkdf.New(sha256.New, secret, nil, append([]byte(sessionInfo), direction))
	if _, err := io.ReadFull(r, aesKey); err != nil {
		return err
	}
	_, err := io.ReadFull(r, macKey)
	return err
}

// EncryptCTR encrypts data with AES-128-CTR.  The counter occupies the top
// half of the initial counter block.
func (d *Default) EncryptCTR(key [AESKeySize]byte, counter uint64, data []byte) ([]byte, error) {
	return CTR(key[:], counter, data)
}

// DecryptCTR is the inverse of EncryptCTR.
func (d *Default) DecryptCTR(key [AESKeySize]byte, counter uint64, data []byte) ([]byte, error) {
	return CTR(key[:], counter, data)
}

// MAC returns HMAC-SHA256 of data.
func (d *Default) MAC(key [MACKeySize]byte, data []byte) [MACSize]byte {
	var sum [MACSize]byte
	m := hmac.New(sha256.New, key[:])
	m.Write(data)
	copy(sum[:], m.Sum(nil))
	return sum
}

// CTR runs AES in counter mode over data.  It is exported for the key
// exchange, which encrypts with ad hoc keys.
func CTR(key []byte, counter uint64, data []byte) ([]byte, error) {
	if len(key) != AESKeySize {
		return nil, ErrKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	var iv [aes.BlockSize]byte
	binary.BigEndian.PutUint64(iv[:8], counter)

	out := make([]byte, len(data))
	cipher.NewCTR(block, iv[:]).XORKeyStream(out, data)
	return out, nil
}

// Zero out a byte slice.
//
//go:noinline
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(&b)
}
