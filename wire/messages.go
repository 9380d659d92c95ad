// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"

	"github.com/davecgh/go-xdr/xdr2"
)

const (
	ProtocolMajor = 2
	ProtocolMinor = 0

	MACKeySize = 32
)

// DHCommit opens a key exchange.  The sender commits to its public key by
// sending it encrypted together with its hash.
type DHCommit struct {
	EncryptedGx []byte
	HashedGx    [32]byte
}

// DHKey answers a DHCommit with the responder public key.
type DHKey struct {
	Gy [32]byte
}

// RevealSignature reveals the key that decrypts the committed public key and
// carries the encrypted, authenticated identity of the initiator.
type RevealSignature struct {
	Key          [16]byte
	EncryptedSig []byte
	MAC          [32]byte
}

// Signature carries the encrypted, authenticated identity of the responder.
type Signature struct {
	EncryptedSig []byte
	MAC          [32]byte
}

// DataT is the authenticated portion of a data message.
type DataT struct {
	ProtocolMajor  uint32
	ProtocolMinor  uint32
	SenderKeyID    uint32
	RecipientKeyID uint32
	NextDH         [32]byte
	Counter        uint64
	Payload        []byte
}

// Bytes returns the canonical encoding of t that the MAC is computed over.
func (t *DataT) Bytes() ([]byte, error) {
	b := &bytes.Buffer{}
	if _, err := xdr.Marshal(b, t); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Data is an encrypted message.  OldMACKeys is the concatenation of receive
// MAC keys the sender no longer uses.
type Data struct {
	T          DataT
	MAC        [32]byte
	OldMACKeys []byte
}

// RevealedKeys splits OldMACKeys into individual keys.
func (d *Data) RevealedKeys() ([][MACKeySize]byte, error) {
	if len(d.OldMACKeys)%MACKeySize != 0 {
		return nil, ErrMalformed
	}
	keys := make([][MACKeySize]byte, len(d.OldMACKeys)/MACKeySize)
	for i := range keys {
		copy(keys[i][:], d.OldMACKeys[i*MACKeySize:])
	}
	return keys, nil
}
