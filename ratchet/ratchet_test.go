// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package ratchet

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/companyzero/zkotr/primitive"
	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

func diff(before, after interface{}) string {
	d := difflib.UnifiedDiff{
		A:        difflib.SplitLines(spew.Sdump(before)),
		B:        difflib.SplitLines(spew.Sdump(after)),
		FromFile: "before",
		ToFile:   "after",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(d)
	if err != nil {
		panic(err)
	}
	return text
}

// pairedRatchet returns two ratchets installed as if a key exchange between
// them had just completed.
func pairedRatchet(t *testing.T) (a, b *Ratchet) {
	p := primitive.New(rand.Reader)
	kpA, err := p.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	kpB, err := p.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	s, err := p.SharedSecret(kpA.Private, kpB.Public)
	if err != nil {
		t.Fatal(err)
	}

	a, b = New(p), New(p)
	if err := a.Install(kpA, kpB.Public, s); err != nil {
		t.Fatal(err)
	}
	if err := b.Install(kpB, kpA.Public, s); err != nil {
		t.Fatal(err)
	}
	return a, b
}

type ids struct {
	local, remote uint32
}

func keyIDs(r *Ratchet) [2][2]ids {
	var out [2][2]ids
	for _, l := range generations {
		for _, g := range generations {
			s := r.Slot(l, g)
			out[l][g] = ids{s.LocalKeyID(), s.RemoteKeyID()}
		}
	}
	return out
}

func TestInstall(t *testing.T) {
	a, _ := pairedRatchet(t)

	if !a.Ready() {
		t.Fatalf("ratchet not ready after install")
	}
	want := [2][2]ids{
		{{2, 1}, {2, 1}}, // current local
		{{1, 1}, {1, 1}}, // previous local
	}
	if got := keyIDs(a); got != want {
		t.Fatalf("unexpected key ids: %v", diff(want, got))
	}

	enc := a.EncryptionSlot()
	if enc.LocalKeyID() != 1 || enc.RemoteKeyID() != 1 {
		t.Fatalf("encryption slot uses (%v,%v)", enc.LocalKeyID(),
			enc.RemoteKeyID())
	}
	if enc.SendCounter() != 0 {
		t.Fatalf("fresh slot counter %v", enc.SendCounter())
	}
	if a.MostRecent().LocalPublic() == enc.LocalPublic() {
		t.Fatalf("current and previous local keys are identical")
	}
}

func TestInstalledKeysMirror(t *testing.T) {
	a, b := pairedRatchet(t)

	sa := a.EncryptionSlot()
	sb := b.Find(sa.RemoteKeyID(), sa.LocalKeyID())
	if sb == nil {
		t.Fatalf("peer has no matching slot")
	}
	if sa.Keys().SendAES != sb.Keys().RecvAES ||
		sa.Keys().SendMAC != sb.Keys().RecvMAC {
		t.Fatalf("send keys do not match peer receive keys")
	}
}

func TestFind(t *testing.T) {
	a, _ := pairedRatchet(t)

	s := a.Find(1, 1)
	if s == nil {
		t.Fatalf("no slot for (1,1)")
	}
	if l, g := s.Position(); l != Previous || g != Current {
		t.Fatalf("found (%v,%v), want (previous,current)", l, g)
	}
	if s := a.Find(2, 1); s != a.MostRecent() {
		t.Fatalf("(2,1) is not the most recent slot")
	}
	if a.Find(3, 1) != nil {
		t.Fatalf("found slot for unknown ids")
	}
	if New(primitive.New(rand.Reader)).Find(0, 0) != nil {
		t.Fatalf("empty slot matched")
	}
}

func TestRotateRemote(t *testing.T) {
	a, b := pairedRatchet(t)

	before := a.MostRecent().Keys().RecvMAC
	next := b.MostRecent().LocalPublic()
	if err := a.RotateRemote(next); err != nil {
		t.Fatal(err)
	}

	want := [2][2]ids{
		{{2, 2}, {2, 1}},
		{{1, 2}, {1, 1}},
	}
	if got := keyIDs(a); got != want {
		t.Fatalf("unexpected key ids: %v", diff(want, got))
	}
	for _, l := range generations {
		if a.Slot(l, Current).RemotePublic() != next {
			t.Fatalf("%v local slot did not adopt new remote key", l)
		}
	}
	// the old current remote key moved to the previous generation intact
	if a.Slot(Current, Previous).Keys().RecvMAC != before {
		t.Fatalf("shifted slot lost its keys")
	}
}

func TestRotateLocal(t *testing.T) {
	a, _ := pairedRatchet(t)

	oldCurrent := a.MostRecent().LocalPublic()
	if err := a.RotateLocal(); err != nil {
		t.Fatal(err)
	}

	want := [2][2]ids{
		{{3, 1}, {3, 1}},
		{{2, 1}, {2, 1}},
	}
	if got := keyIDs(a); got != want {
		t.Fatalf("unexpected key ids: %v", diff(want, got))
	}
	if a.EncryptionSlot().LocalPublic() != oldCurrent {
		t.Fatalf("old current key did not become previous")
	}
	if a.MostRecent().LocalPublic() == oldCurrent {
		t.Fatalf("no new local key generated")
	}
	if a.MostRecent().LocalPublic() != a.Slot(Current, Previous).LocalPublic() {
		t.Fatalf("current local slots use different keys")
	}
}

func TestRetireUsedOnly(t *testing.T) {
	a, b := pairedRatchet(t)

	// nothing used, nothing retired
	if err := a.RotateLocal(); err != nil {
		t.Fatal(err)
	}
	if a.Retired() != 0 {
		t.Fatalf("unused keys retired")
	}

	// use the (previous, current) slot, then rotate it out
	used := a.EncryptionSlot()
	used.MarkReceived(1)
	mac := used.Keys().RecvMAC
	if err := a.RotateRemote(b.MostRecent().LocalPublic()); err != nil {
		t.Fatal(err)
	}
	if a.Retired() != 0 {
		t.Fatalf("key retired while still reachable")
	}
	// it now lives in (previous, previous) and leaves on the next local
	// rotation
	if !a.Slot(Previous, Previous).RecvMACUsed() {
		t.Fatalf("usage flag lost on shift")
	}
	if err := a.RotateLocal(); err != nil {
		t.Fatal(err)
	}
	drained := a.DrainRetiredMACKeys()
	if !bytes.Equal(drained, mac[:]) {
		t.Fatalf("got %x want %x", drained, mac)
	}
	if again := a.DrainRetiredMACKeys(); len(again) != 0 {
		t.Fatalf("retired keys disclosed twice")
	}
}

func TestInstallKeepsRetired(t *testing.T) {
	a, _ := pairedRatchet(t)
	used := a.Find(1, 1)
	used.MarkReceived(1)
	mac := used.Keys().RecvMAC

	c, _ := pairedRatchet(t)
	local, err := a.p.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	defer local.Zero()
	remote := c.MostRecent().LocalPublic()
	secret, err := a.p.SharedSecret(local.Private, remote)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Install(local, remote, secret); err != nil {
		t.Fatal(err)
	}

	if a.Retired() != 1 {
		t.Fatalf("retired %v want 1", a.Retired())
	}
	if drained := a.DrainRetiredMACKeys(); !bytes.Equal(drained, mac[:]) {
		t.Fatalf("got %x want %x", drained, mac)
	}
	if a.Slot(Previous, Current).RecvMACUsed() {
		t.Fatalf("usage flag survived install")
	}
}

func TestRotateRemoteLowOrder(t *testing.T) {
	a, _ := pairedRatchet(t)

	before := a.slots
	var bad primitive.PublicKey
	if err := a.RotateRemote(bad); err != primitive.ErrLowOrder {
		t.Fatalf("expected ErrLowOrder, got %v", err)
	}
	if before != a.slots {
		t.Fatalf("failed rotation changed state: %v",
			diff(before, a.slots))
	}
}

func TestRotateNotInstalled(t *testing.T) {
	r := New(primitive.New(rand.Reader))
	if err := r.RotateLocal(); err != ErrNotInstalled {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
	if err := r.RotateRemote(primitive.PublicKey{9}); err != ErrNotInstalled {
		t.Fatalf("expected ErrNotInstalled, got %v", err)
	}
}

func TestCheckpoint(t *testing.T) {
	a, b := pairedRatchet(t)
	a.EncryptionSlot().MarkReceived(5)

	before := a.slots
	cp := a.Checkpoint()
	defer cp.Release()

	if err := a.RotateRemote(b.MostRecent().LocalPublic()); err != nil {
		t.Fatal(err)
	}
	if err := a.RotateLocal(); err != nil {
		t.Fatal(err)
	}
	if a.Retired() == 0 {
		t.Fatalf("expected a retired key")
	}
	cp.Restore()

	if before != a.slots {
		t.Fatalf("restore mismatch: %v", diff(before, a.slots))
	}
	if a.Retired() != 0 {
		t.Fatalf("retired keys survived restore")
	}
}

func TestSendCounter(t *testing.T) {
	a, _ := pairedRatchet(t)
	s := a.EncryptionSlot()

	ctr, err := s.NextSendCounter()
	if err != nil {
		t.Fatal(err)
	}
	if ctr != 1 || s.SendCounter() != 0 {
		t.Fatalf("NextSendCounter modified slot or returned %v", ctr)
	}
	s.CommitSend(^uint64(0))
	if _, err := s.NextSendCounter(); err != ErrCounter {
		t.Fatalf("expected ErrCounter, got %v", err)
	}
}

func TestWipe(t *testing.T) {
	a, _ := pairedRatchet(t)
	a.EncryptionSlot().MarkReceived(1)
	if err := a.RotateLocal(); err != nil {
		t.Fatal(err)
	}
	if err := a.RotateLocal(); err != nil {
		t.Fatal(err)
	}
	a.Wipe()

	empty := New(primitive.New(rand.Reader))
	if a.slots != empty.slots {
		t.Fatalf("slots not wiped: %v", diff(empty.slots, a.slots))
	}
	if a.Retired() != 0 || a.Ready() {
		t.Fatalf("ratchet still holds keys")
	}
}
