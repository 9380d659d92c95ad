// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package conversation

import (
	"crypto/subtle"

	"github.com/companyzero/zkotr/primitive"
	"github.com/companyzero/zkotr/ratchet"
	"github.com/companyzero/zkotr/wire"
)

// seal encrypts payload with the encryption slot of r and returns the encoded
// data message.  Retired MAC keys are attached and forgotten.  On failure r
// is left untouched.
func seal(r *ratchet.Ratchet, p primitive.Provider, payload []byte) (string, error) {
	s := r.EncryptionSlot()
	if !s.Ready() {
		return "", ErrNotEncrypted
	}
	ctr, err := s.NextSendCounter()
	if err != nil {
		return "", &CryptoError{Op: "counter", Err: err}
	}
	ciphertext, err := p.EncryptCTR(s.Keys().SendAES, ctr, payload)
	if err != nil {
		return "", &CryptoError{Op: "encrypt", Err: err}
	}

	m := wire.Data{
		T: wire.DataT{
			ProtocolMajor:  wire.ProtocolMajor,
			ProtocolMinor:  wire.ProtocolMinor,
			SenderKeyID:    s.LocalKeyID(),
			RecipientKeyID: s.RemoteKeyID(),
			NextDH:         r.MostRecent().LocalPublic(),
			Counter:        ctr,
			Payload:        ciphertext,
		},
	}
	authenticated, err := m.T.Bytes()
	if err != nil {
		return "", err
	}
	m.MAC = p.MAC(s.Keys().SendMAC, authenticated)

	cp := r.Checkpoint()
	defer cp.Release()

	m.OldMACKeys = r.DrainRetiredMACKeys()
	text, err := wire.Encode(wire.KindData, &m)
	primitive.Zero(m.OldMACKeys)
	if err != nil {
		cp.Restore()
		return "", err
	}
	s.CommitSend(ctr)

	return text, nil
}

// open authenticates and decrypts a data message, then advances r when the
// message acknowledges our newest key or was sent with the peer's newest
// key.  The MAC is verified before anything else happens.  On failure r is
// left untouched.
func open(r *ratchet.Ratchet, p primitive.Provider, text string, maxSize uint) (string, []wire.TLV, error) {
	var m wire.Data
	if err := wire.Decode(text, wire.KindData, &m, maxSize); err != nil {
		return "", nil, err
	}
	if m.T.ProtocolMajor != wire.ProtocolMajor {
		return "", nil, ErrUnsupportedProtocol
	}

	s := r.Find(m.T.RecipientKeyID, m.T.SenderKeyID)
	if s == nil {
		return "", nil, ErrUnknownKeys
	}
	authenticated, err := m.T.Bytes()
	if err != nil {
		return "", nil, err
	}
	mac := p.MAC(s.Keys().RecvMAC, authenticated)
	if subtle.ConstantTimeCompare(mac[:], m.MAC[:]) != 1 {
		return "", nil, ErrMACMismatch
	}
	if m.T.Counter <= s.RecvCounter() {
		return "", nil, ErrCounterRegression
	}
	if _, err := m.RevealedKeys(); err != nil {
		return "", nil, err
	}

	// both triggers look at the ratchet as it was before either rotation
	mostRecent := r.MostRecent()
	rotateLocal := mostRecent.LocalKeyID() == m.T.RecipientKeyID
	rotateRemote := mostRecent.RemoteKeyID() == m.T.SenderKeyID

	cp := r.Checkpoint()
	defer cp.Release()

	s.MarkReceived(m.T.Counter)
	payload, err := p.DecryptCTR(s.Keys().RecvAES, m.T.Counter, m.T.Payload)
	if err != nil {
		cp.Restore()
		return "", nil, &CryptoError{Op: "decrypt", Err: err}
	}
	defer primitive.Zero(payload)
	plain, tlvs, err := wire.DecodePayload(payload)
	if err != nil {
		cp.Restore()
		return "", nil, err
	}

	if rotateLocal {
		if err := r.RotateLocal(); err != nil {
			cp.Restore()
			return "", nil, &CryptoError{Op: "rotate local", Err: err}
		}
	}
	if rotateRemote {
		err := r.RotateRemote(primitive.PublicKey(m.T.NextDH))
		if err != nil {
			cp.Restore()
			return "", nil, &CryptoError{Op: "rotate remote", Err: err}
		}
	}

	return plain, tlvs, nil
}
