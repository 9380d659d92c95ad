// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// ratchet manages the 2x2 matrix of session keys of one conversation.
//
// Each axis of the matrix holds two generations of Diffie-Hellman keys: the
// local axis our own key pairs and the remote axis the peer's public keys.
// Every cell (a Slot) combines one local and one remote key and carries the
// symmetric keys derived from their shared secret.  Receiving a message that
// acknowledges our newest key rotates the local axis; receiving a message
// sent with the peer's newest key rotates the remote axis.  Receive MAC keys
// that were used and then rotated out are collected for disclosure.
package ratchet

import (
	"errors"
	"fmt"

	"github.com/companyzero/zkotr/primitive"
)

var (
	ErrNotInstalled = errors.New("ratchet not installed")
	ErrCounter      = errors.New("send counter exhausted")
)

// Generation is the role of a key along one axis of the ratchet.
type Generation int

const (
	Current Generation = iota
	Previous
)

func (g Generation) String() string {
	switch g {
	case Current:
		return "current"
	case Previous:
		return "previous"
	}
	return fmt.Sprintf("generation(%d)", int(g))
}

var generations = [...]Generation{Current, Previous}

// Slot is one cell of the ratchet.  All key material is held in fixed size
// arrays so that copying a slot never shares a buffer with another slot.
type Slot struct {
	local, remote Generation

	localKeyID  uint32
	remoteKeyID uint32
	localKey    primitive.KeyPair
	remoteKey   primitive.PublicKey

	secret [primitive.KeySize]byte
	keys   primitive.SessionKeys

	sendCounter uint64
	recvCounter uint64
	recvMACUsed bool
	ready       bool
}

// Position returns the local and remote generation of the slot.
func (s *Slot) Position() (local, remote Generation) {
	return s.local, s.remote
}

func (s *Slot) LocalKeyID() uint32                { return s.localKeyID }
func (s *Slot) RemoteKeyID() uint32               { return s.remoteKeyID }
func (s *Slot) LocalPublic() primitive.PublicKey  { return s.localKey.Public }
func (s *Slot) RemotePublic() primitive.PublicKey { return s.remoteKey }
func (s *Slot) SendCounter() uint64               { return s.sendCounter }
func (s *Slot) RecvCounter() uint64               { return s.recvCounter }
func (s *Slot) RecvMACUsed() bool                 { return s.recvMACUsed }

// Ready reports whether the slot holds derived key material.
func (s *Slot) Ready() bool { return s.ready }

// Keys returns the derived symmetric keys.  The returned value points into
// the slot and must not be retained across rotations.
func (s *Slot) Keys() *primitive.SessionKeys { return &s.keys }

// NextSendCounter returns the counter the next outbound message must use.
// The slot is not modified; see CommitSend.
func (s *Slot) NextSendCounter() (uint64, error) {
	if s.sendCounter == ^uint64(0) {
		return 0, ErrCounter
	}
	return s.sendCounter + 1, nil
}

// CommitSend records ctr as the last counter sent.
func (s *Slot) CommitSend(ctr uint64) {
	s.sendCounter = ctr
}

// MarkReceived records that a message with counter ctr was authenticated with
// this slot's receive MAC key.
func (s *Slot) MarkReceived(ctr uint64) {
	s.recvCounter = ctr
	s.recvMACUsed = true
}

// derive fills s with a key pair, a remote key and the keys derived from their
// shared secret.  Counters and the MAC usage flag start over.
func (s *Slot) derive(p primitive.Provider, kp primitive.KeyPair, localID uint32, pub primitive.PublicKey, remoteID uint32) error {
	secret, err := p.SharedSecret(kp.Private, pub)
	if err != nil {
		return err
	}
	defer primitive.Zero(secret[:])
	return s.seed(p, kp, localID, pub, remoteID, secret)
}

// seed is derive with a known shared secret.
func (s *Slot) seed(p primitive.Provider, kp primitive.KeyPair, localID uint32, pub primitive.PublicKey, remoteID uint32, secret [primitive.KeySize]byte) error {
	keys, err := p.DeriveKeys(secret, kp.Public, pub)
	if err != nil {
		return err
	}
	s.wipe()
	s.localKey = kp
	s.localKeyID = localID
	s.remoteKey = pub
	s.remoteKeyID = remoteID
	s.secret = secret
	s.keys = keys
	s.ready = true
	keys.Zero()
	return nil
}

// wipe zeroes all key material and resets the slot, keeping its position.
func (s *Slot) wipe() {
	local, remote := s.local, s.remote
	s.localKey.Zero()
	primitive.Zero(s.remoteKey[:])
	primitive.Zero(s.secret[:])
	s.keys.Zero()
	*s = Slot{local: local, remote: remote}
}

// Ratchet is the 2x2 session key matrix of one conversation.  It is not safe
// for concurrent use.
type Ratchet struct {
	p       primitive.Provider
	slots   [2][2]Slot
	retired [][primitive.MACKeySize]byte
}

// New returns an empty ratchet using primitive provider p.
func New(p primitive.Provider) *Ratchet {
	r := &Ratchet{p: p}
	for _, l := range generations {
		for _, g := range generations {
			r.slots[l][g] = Slot{local: l, remote: g}
		}
	}
	return r
}

// Slot returns the slot at (local, remote).
func (r *Ratchet) Slot(local, remote Generation) *Slot {
	return &r.slots[local][remote]
}

// MostRecent returns the (Current, Current) slot, the reference point for the
// rotation triggers.
func (r *Ratchet) MostRecent() *Slot {
	return r.Slot(Current, Current)
}

// EncryptionSlot returns the slot outbound messages are sent with.  Our
// current key is still unacknowledged by the peer, so we send with the
// previous local key and the peer's current key.
func (r *Ratchet) EncryptionSlot() *Slot {
	return r.Slot(Previous, Current)
}

// Ready reports whether both current-remote slots hold key material.
func (r *Ratchet) Ready() bool {
	for _, l := range generations {
		if !r.slots[l][Current].ready {
			return false
		}
	}
	return true
}

// Find returns the first ready slot matching the key ids, scanning the local
// axis in the outer loop.  It returns nil if nothing matches.
func (r *Ratchet) Find(localKeyID, remoteKeyID uint32) *Slot {
	for _, l := range generations {
		for _, g := range generations {
			s := &r.slots[l][g]
			if s.ready && s.localKeyID == localKeyID &&
				s.remoteKeyID == remoteKeyID {
				return s
			}
		}
	}
	return nil
}

// Install seeds the ratchet once a key exchange completes.  The exchanged key
// pair becomes the previous local key with id 1, a fresh pair becomes the
// current local key with id 2 and the peer's exchanged key is installed with
// id 1 on both remote generations.  Used receive MAC keys of a previous
// session are retired, not dropped.
func (r *Ratchet) Install(local primitive.KeyPair, remote primitive.PublicKey, secret [primitive.KeySize]byte) error {
	next, err := r.p.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer next.Zero()

	var staged [2][2]Slot
	for _, g := range generations {
		if err := staged[Previous][g].seed(r.p, local, 1, remote, 1, secret); err != nil {
			wipeSlots(&staged)
			return err
		}
		if err := staged[Current][g].derive(r.p, next, 2, remote, 1); err != nil {
			wipeSlots(&staged)
			return err
		}
	}

	// keys of the old session still await disclosure
	for _, l := range generations {
		for _, g := range generations {
			r.retire(l, g)
		}
	}
	wipeSlots(&r.slots)
	for _, l := range generations {
		for _, g := range generations {
			r.replace(l, g, &staged[l][g])
		}
	}
	return nil
}

// RotateRemote advances the remote axis to pub.  Previous-remote slots that
// are overwritten retire their receive MAC keys if they were used.
func (r *Ratchet) RotateRemote(pub primitive.PublicKey) error {
	if !r.Ready() {
		return ErrNotInstalled
	}
	cc, pc := r.Slot(Current, Current), r.Slot(Previous, Current)

	var nextCC, nextPC Slot
	err := nextCC.derive(r.p, cc.localKey, cc.localKeyID, pub, cc.remoteKeyID+1)
	if err != nil {
		return err
	}
	err = nextPC.derive(r.p, pc.localKey, pc.localKeyID, pub, pc.remoteKeyID+1)
	if err != nil {
		nextCC.wipe()
		return err
	}

	r.retire(Current, Previous)
	r.retire(Previous, Previous)
	r.shift(Current, Previous, cc)
	r.shift(Previous, Previous, pc)
	r.replace(Current, Current, &nextCC)
	r.replace(Previous, Current, &nextPC)
	return nil
}

// RotateLocal generates a new local key pair and advances the local axis.
// Previous-local slots that are overwritten retire their receive MAC keys if
// they were used.
func (r *Ratchet) RotateLocal() error {
	if !r.Ready() {
		return ErrNotInstalled
	}
	kp, err := r.p.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer kp.Zero()

	cc, cp := r.Slot(Current, Current), r.Slot(Current, Previous)

	var nextCC, nextCP Slot
	err = nextCC.derive(r.p, kp, cc.localKeyID+1, cc.remoteKey, cc.remoteKeyID)
	if err != nil {
		return err
	}
	if cp.ready {
		err = nextCP.derive(r.p, kp, cp.localKeyID+1, cp.remoteKey,
			cp.remoteKeyID)
		if err != nil {
			nextCC.wipe()
			return err
		}
	}

	r.retire(Previous, Current)
	r.retire(Previous, Previous)
	r.shift(Previous, Current, cc)
	r.shift(Previous, Previous, cp)
	r.replace(Current, Current, &nextCC)
	r.replace(Current, Previous, &nextCP)
	return nil
}

// DrainRetiredMACKeys returns the concatenation of all retired receive MAC
// keys and forgets them.
func (r *Ratchet) DrainRetiredMACKeys() []byte {
	if len(r.retired) == 0 {
		return nil
	}
	out := make([]byte, 0, len(r.retired)*primitive.MACKeySize)
	for i := range r.retired {
		out = append(out, r.retired[i][:]...)
		primitive.Zero(r.retired[i][:])
	}
	r.retired = r.retired[:0]
	return out
}

// Retired returns the number of MAC keys waiting for disclosure.
func (r *Ratchet) Retired() int {
	return len(r.retired)
}

// Wipe zeroes all key material and pending MAC keys.
func (r *Ratchet) Wipe() {
	wipeSlots(&r.slots)
	for i := range r.retired {
		primitive.Zero(r.retired[i][:])
	}
	r.retired = nil
}

func (r *Ratchet) retire(local, remote Generation) {
	s := r.Slot(local, remote)
	if !s.ready || !s.recvMACUsed {
		return
	}
	for i := range r.retired {
		if r.retired[i] == s.keys.RecvMAC {
			return
		}
	}
	r.retired = append(r.retired, s.keys.RecvMAC)
}

// shift overwrites slot (local, remote) with a copy of src.  The copy keeps
// counters and the MAC usage flag since the key pair it describes is the
// same.
func (r *Ratchet) shift(local, remote Generation, src *Slot) {
	dst := r.Slot(local, remote)
	dst.wipe()
	*dst = *src
	dst.local, dst.remote = local, remote
}

// replace moves next into slot (local, remote) and wipes next.
func (r *Ratchet) replace(local, remote Generation, next *Slot) {
	r.shift(local, remote, next)
	next.wipe()
}

func wipeSlots(slots *[2][2]Slot) {
	for l := range slots {
		for g := range slots[l] {
			slots[l][g].wipe()
		}
	}
}

// Checkpoint is a snapshot of a ratchet that can be restored if a multi step
// operation fails halfway.
type Checkpoint struct {
	r       *Ratchet
	slots   [2][2]Slot
	retired [][primitive.MACKeySize]byte
}

// Checkpoint snapshots the ratchet.  The caller must Release the checkpoint.
func (r *Ratchet) Checkpoint() *Checkpoint {
	cp := &Checkpoint{
		r:     r,
		slots: r.slots,
	}
	cp.retired = append(cp.retired, r.retired...)
	return cp
}

// Restore rolls the ratchet back to the snapshot.
func (cp *Checkpoint) Restore() {
	cp.r.Wipe()
	cp.r.slots = cp.slots
	cp.r.retired = append(cp.r.retired, cp.retired...)
}

// Release wipes the snapshot.
func (cp *Checkpoint) Release() {
	wipeSlots(&cp.slots)
	for i := range cp.retired {
		primitive.Zero(cp.retired[i][:])
	}
	cp.retired = nil
}
