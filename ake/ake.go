// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// ake implements the authenticated key exchange that bootstraps a
// conversation.  The process is as follows:
//	1. Initiator commits to its ephemeral key by sending it encrypted under
//	   a random key r along with its hash (dh-commit)
//	2. Responder replies with its ephemeral key (dh-key)
//	3. Initiator reveals r and sends its identity and a signature over both
//	   ephemeral keys, encrypted and MACed with keys derived from the shared
//	   secret (reveal-signature)
//	4. Responder checks the commitment and the signature and replies with
//	   its own encrypted, signed identity (signature)
//
// Both sides then hold the same shared secret, each other's ephemeral key
// and each other's identity.  The ephemeral keys become key id 1 of the
// conversation ratchet.
package ake

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"io"

	"github.com/companyzero/zkotr/identity"
	"github.com/companyzero/zkotr/policy"
	"github.com/companyzero/zkotr/primitive"
	"github.com/companyzero/zkotr/wire"
	"github.com/davecgh/go-xdr/xdr2"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrVerify     = errors.New("identity verification failed")
	ErrHash       = errors.New("committed key does not match its hash")
	ErrUnexpected = errors.New("unexpected key exchange message")
	ErrVersion    = errors.New("no common protocol version")
)

// KeyID is the ratchet key id of the exchanged ephemeral keys.
const KeyID = 1

const commitKeySize = 16

var keyScheduleInfo = []byte("zkotr ake\x00")

type state int

const (
	stateNone state = iota
	stateAwaitingDHKey
	stateAwaitingRevealSig
	stateAwaitingSig
	stateEstablished
)

var stateNames = map[state]string{
	stateNone:              "none",
	stateAwaitingDHKey:     "awaiting dh-key",
	stateAwaitingRevealSig: "awaiting reveal-signature",
	stateAwaitingSig:       "awaiting signature",
	stateEstablished:       "established",
}

func (s state) String() string {
	return stateNames[s]
}

// schedule holds the keys derived from the shared secret.  c and m1, m2
// protect the initiator identity, cp and m1p, m2p the responder identity.
type schedule struct {
	c, cp            [primitive.AESKeySize]byte
	m1, m2, m1p, m2p [primitive.MACKeySize]byte
}

func (s *schedule) zero() {
	primitive.Zero(s.c[:])
	primitive.Zero(s.cp[:])
	primitive.Zero(s.m1[:])
	primitive.Zero(s.m2[:])
	primitive.Zero(s.m1p[:])
	primitive.Zero(s.m2p[:])
}

// signedIdentity is the encrypted content of reveal-signature and signature
// messages.
type signedIdentity struct {
	Identity  identity.PublicIdentity
	KeyID     uint32
	Signature [identity.SignatureSize]byte
}

// AKE is the key exchange state of one conversation.  It is not safe for
// concurrent use.
type AKE struct {
	id      *identity.FullIdentity
	p       primitive.Provider
	rand    io.Reader
	maxSize uint

	state       state
	ours        primitive.KeyPair
	theirs      primitive.PublicKey
	r           [commitKeySize]byte
	encryptedGx []byte
	hashedGx    [sha256.Size]byte
	secret      [primitive.KeySize]byte
	keys        schedule
	lastReply   string
	remote      *identity.PublicIdentity
}

// New returns a key exchange context that authenticates as id.
func New(id *identity.FullIdentity, p primitive.Provider, rand io.Reader, maxSize uint) *AKE {
	return &AKE{
		id:      id,
		p:       p,
		rand:    rand,
		maxSize: maxSize,
	}
}

// Process handles one inbound message and returns the replies that must be
// sent to the peer.  Queries and whitespace tagged plaintext start a new
// exchange; the four exchange messages advance it.
func (a *AKE) Process(text string, flags policy.Flags) ([]string, error) {
	switch wire.Classify(text) {
	case wire.KindQuery:
		if !common(wire.ParseQuery(text), flags) {
			return nil, ErrVersion
		}
		return a.commit()
	case wire.KindPlaintext:
		_, versions := wire.ParsePlaintext(text)
		if !common(versions, flags) {
			return nil, nil
		}
		return a.commit()
	case wire.KindDHCommit:
		return a.onDHCommit(text)
	case wire.KindDHKey:
		return a.onDHKey(text)
	case wire.KindRevealSignature:
		return a.onRevealSignature(text)
	case wire.KindSignature:
		return a.onSignature(text)
	}
	return nil, ErrUnexpected
}

// IsEstablished reports whether the exchange completed.
func (a *AKE) IsEstablished() bool {
	return a.state == stateEstablished
}

// LocalKeyPair returns our ephemeral key pair.
func (a *AKE) LocalKeyPair() primitive.KeyPair {
	return a.ours
}

// RemotePublicKey returns the peer's ephemeral public key.
func (a *AKE) RemotePublicKey() primitive.PublicKey {
	return a.theirs
}

// SharedSecret returns the negotiated Diffie-Hellman secret.
func (a *AKE) SharedSecret() [primitive.KeySize]byte {
	return a.secret
}

// RemoteIdentity returns the verified identity of the peer, or nil.
func (a *AKE) RemoteIdentity() *identity.PublicIdentity {
	return a.remote
}

// Reset wipes all exchange secrets and returns to the initial state.
func (a *AKE) Reset() {
	a.ours.Zero()
	primitive.Zero(a.theirs[:])
	primitive.Zero(a.r[:])
	primitive.Zero(a.encryptedGx)
	primitive.Zero(a.hashedGx[:])
	primitive.Zero(a.secret[:])
	a.keys.zero()
	a.encryptedGx = nil
	a.lastReply = ""
	a.remote = nil
	a.state = stateNone
}

func common(versions []int, flags policy.Flags) bool {
	for _, v := range versions {
		if v == wire.Version && flags.Allows(v) {
			return true
		}
	}
	return false
}

// commit starts a new exchange as the initiator.
func (a *AKE) commit() ([]string, error) {
	a.Reset()

	kp, err := a.p.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(a.rand, a.r[:]); err != nil {
		kp.Zero()
		return nil, err
	}
	encrypted, err := primitive.CTR(a.r[:], 0, kp.Public[:])
	if err != nil {
		kp.Zero()
		return nil, err
	}

	m := wire.DHCommit{
		EncryptedGx: encrypted,
		HashedGx:    sha256.Sum256(kp.Public[:]),
	}
	reply, err := wire.Encode(wire.KindDHCommit, &m)
	if err != nil {
		kp.Zero()
		return nil, err
	}

	a.ours = kp
	a.encryptedGx = encrypted
	a.hashedGx = m.HashedGx
	a.state = stateAwaitingDHKey
	a.lastReply = reply
	return []string{reply}, nil
}

func (a *AKE) onDHCommit(text string) ([]string, error) {
	var m wire.DHCommit
	if err := wire.Decode(text, wire.KindDHCommit, &m, a.maxSize); err != nil {
		return nil, err
	}

	switch a.state {
	case stateAwaitingDHKey:
		// both sides sent a commitment; the larger hash stays initiator
		if bytes.Compare(a.hashedGx[:], m.HashedGx[:]) > 0 {
			return []string{a.lastReply}, nil
		}
	case stateAwaitingRevealSig:
		// peer restarted, keep our key and answer the new commitment
		a.encryptedGx = append([]byte{}, m.EncryptedGx...)
		a.hashedGx = m.HashedGx
		return []string{a.lastReply}, nil
	}

	a.Reset()
	kp, err := a.p.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	reply, err := wire.Encode(wire.KindDHKey, &wire.DHKey{Gy: kp.Public})
	if err != nil {
		kp.Zero()
		return nil, err
	}

	a.ours = kp
	a.encryptedGx = append([]byte{}, m.EncryptedGx...)
	a.hashedGx = m.HashedGx
	a.state = stateAwaitingRevealSig
	a.lastReply = reply
	return []string{reply}, nil
}

func (a *AKE) onDHKey(text string) ([]string, error) {
	var m wire.DHKey
	if err := wire.Decode(text, wire.KindDHKey, &m, a.maxSize); err != nil {
		return nil, err
	}

	switch a.state {
	case stateAwaitingDHKey:
	case stateAwaitingSig:
		// a retransmitted dh-key gets our reveal again
		if primitive.PublicKey(m.Gy) == a.theirs {
			return []string{a.lastReply}, nil
		}
		return nil, nil
	default:
		return nil, ErrUnexpected
	}

	theirs := primitive.PublicKey(m.Gy)
	if err := a.derive(theirs); err != nil {
		return nil, err
	}
	encrypted, mac, err := a.seal(a.keys.c, a.keys.m1, a.keys.m2,
		a.ours.Public, a.theirs)
	if err != nil {
		return nil, err
	}
	reply, err := wire.Encode(wire.KindRevealSignature,
		&wire.RevealSignature{
			Key:          a.r,
			EncryptedSig: encrypted,
			MAC:          mac,
		})
	if err != nil {
		return nil, err
	}

	a.state = stateAwaitingSig
	a.lastReply = reply
	return []string{reply}, nil
}

func (a *AKE) onRevealSignature(text string) ([]string, error) {
	if a.state != stateAwaitingRevealSig {
		return nil, ErrUnexpected
	}
	var m wire.RevealSignature
	err := wire.Decode(text, wire.KindRevealSignature, &m, a.maxSize)
	if err != nil {
		return nil, err
	}

	gx, err := primitive.CTR(m.Key[:], 0, a.encryptedGx)
	if err != nil {
		return nil, err
	}
	defer primitive.Zero(gx)
	hashed := sha256.Sum256(gx)
	if len(gx) != primitive.KeySize ||
		subtle.ConstantTimeCompare(hashed[:], a.hashedGx[:]) != 1 {
		return nil, ErrHash
	}

	var theirs primitive.PublicKey
	copy(theirs[:], gx)
	if err := a.derive(theirs); err != nil {
		return nil, err
	}
	remote, err := a.open(a.keys.c, a.keys.m1, a.keys.m2, a.theirs,
		a.ours.Public, m.EncryptedSig, m.MAC)
	if err != nil {
		return nil, err
	}

	encrypted, mac, err := a.seal(a.keys.cp, a.keys.m1p, a.keys.m2p,
		a.ours.Public, a.theirs)
	if err != nil {
		return nil, err
	}
	reply, err := wire.Encode(wire.KindSignature, &wire.Signature{
		EncryptedSig: encrypted,
		MAC:          mac,
	})
	if err != nil {
		return nil, err
	}

	a.remote = remote
	a.state = stateEstablished
	a.lastReply = ""
	return []string{reply}, nil
}

func (a *AKE) onSignature(text string) ([]string, error) {
	if a.state != stateAwaitingSig {
		return nil, ErrUnexpected
	}
	var m wire.Signature
	if err := wire.Decode(text, wire.KindSignature, &m, a.maxSize); err != nil {
		return nil, err
	}

	remote, err := a.open(a.keys.cp, a.keys.m1p, a.keys.m2p, a.theirs,
		a.ours.Public, m.EncryptedSig, m.MAC)
	if err != nil {
		return nil, err
	}

	a.remote = remote
	a.state = stateEstablished
	a.lastReply = ""
	return nil, nil
}

// derive computes the shared secret with theirs and the key schedule.
func (a *AKE) derive(theirs primitive.PublicKey) error {
	secret, err := a.p.SharedSecret(a.ours.Private, theirs)
	if err != nil {
		return err
	}

	var k schedule
	kdf := hkdf.New(sha256.New, secret[:], nil, keyScheduleInfo)
	for _, b := range [][]byte{k.c[:], k.cp[:], k.m1[:], k.m2[:], k.m1p[:],
		k.m2p[:]} {
		if _, err := io.ReadFull(kdf, b); err != nil {
			primitive.Zero(secret[:])
			k.zero()
			return err
		}
	}

	a.keys.zero()
	a.theirs = theirs
	a.secret = secret
	a.keys = k
	k.zero()
	return nil
}

// proof binds an identity to both ephemeral keys.  first is the key of the
// side that signs.
func (a *AKE) proof(key [primitive.MACKeySize]byte, first, second primitive.PublicKey, id *identity.PublicIdentity, keyID uint32) ([primitive.MACSize]byte, error) {
	b := &bytes.Buffer{}
	b.Write(first[:])
	b.Write(second[:])
	if _, err := xdr.Marshal(b, id); err != nil {
		return [primitive.MACSize]byte{}, err
	}
	var kid [4]byte
	binary.BigEndian.PutUint32(kid[:], keyID)
	b.Write(kid[:])
	return a.p.MAC(key, b.Bytes()), nil
}

// seal signs our identity over the ephemeral keys and encrypts it with c.
// The returned MAC covers the ciphertext.
func (a *AKE) seal(c [primitive.AESKeySize]byte, m1, m2 [primitive.MACKeySize]byte, ours, theirs primitive.PublicKey) ([]byte, [primitive.MACSize]byte, error) {
	var mac [primitive.MACSize]byte

	proof, err := a.proof(m1, ours, theirs, &a.id.Public, KeyID)
	if err != nil {
		return nil, mac, err
	}
	x := signedIdentity{
		Identity:  a.id.Public,
		KeyID:     KeyID,
		Signature: a.id.SignMessage(proof[:]),
	}
	b := &bytes.Buffer{}
	if _, err := xdr.Marshal(b, &x); err != nil {
		return nil, mac, err
	}
	encrypted, err := primitive.CTR(c[:], 0, b.Bytes())
	if err != nil {
		return nil, mac, err
	}
	return encrypted, a.p.MAC(m2, encrypted), nil
}

// open reverses seal for the peer's identity.
func (a *AKE) open(c [primitive.AESKeySize]byte, m1, m2 [primitive.MACKeySize]byte, theirs, ours primitive.PublicKey, encrypted []byte, mac [primitive.MACSize]byte) (*identity.PublicIdentity, error) {
	want := a.p.MAC(m2, encrypted)
	if subtle.ConstantTimeCompare(want[:], mac[:]) != 1 {
		return nil, ErrVerify
	}
	plain, err := primitive.CTR(c[:], 0, encrypted)
	if err != nil {
		return nil, err
	}

	var x signedIdentity
	_, err = xdr.UnmarshalLimited(bytes.NewReader(plain), &x, a.maxSize)
	if err != nil {
		return nil, ErrVerify
	}
	if x.KeyID != KeyID || !x.Identity.Verify() {
		return nil, ErrVerify
	}
	proof, err := a.proof(m1, theirs, ours, &x.Identity, x.KeyID)
	if err != nil {
		return nil, err
	}
	if !x.Identity.VerifyMessage(proof[:], x.Signature) {
		return nil, ErrVerify
	}
	return &x.Identity, nil
}
