// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package identity

import (
	"encoding/hex"
	"fmt"
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

var (
	alice *FullIdentity
	bob   *FullIdentity
)

func init() {
	var err error
	alice, err = New("alice mcmoo", "alice")
	if err != nil {
		panic(err)
	}

	bob, err = New("bob laroo", "bob")
	if err != nil {
		panic(err)
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	am, err := alice.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	a, err := UnmarshalFullIdentity(am)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(a, alice) {
		t.Fatalf("marshal/unmarshal failed")
	}
}

func TestMarshalUnmarshalChanged(t *testing.T) {
	fi, err := New("chris mordor", "chris")
	if err != nil {
		t.Fatal(err)
	}
	fi.Public.Nick = "c"
	err = fi.RecalculateDigest()
	if err != nil {
		t.Fatal(err)
	}

	m, err := fi.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	c, err := UnmarshalFullIdentity(m)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(c, fi) {
		t.Fatalf("marshal/unmarshal failed")
	}
}

func TestMarshalUnmarshalPublic(t *testing.T) {
	am, err := alice.Public.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	a, err := UnmarshalPublicIdentity(am)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(*a, alice.Public) {
		d := difflib.UnifiedDiff{
			A:        difflib.SplitLines(spew.Sdump(*a)),
			B:        difflib.SplitLines(spew.Sdump(alice.Public)),
			FromFile: "original",
			ToFile:   "current",
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(d)
		if err != nil {
			panic(err)
		}
		t.Fatalf("marshal/unmarshal failed %v", text)
	}
}

func TestUnmarshalForged(t *testing.T) {
	// bob's key under alice's name
	forged := alice.Public
	forged.SigKey = bob.Public.SigKey
	m, err := forged.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalPublicIdentity(m); err != ErrVerify {
		t.Fatalf("expected ErrVerify, got %v", err)
	}

	renamed := alice.Public
	renamed.Name = "mallory"
	m, err = renamed.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := UnmarshalPublicIdentity(m); err != ErrVerify {
		t.Fatalf("expected ErrVerify, got %v", err)
	}
}

func TestString(t *testing.T) {
	s := fmt.Sprintf("%v", alice.Public)
	ss := hex.EncodeToString(alice.Public.Identity[:])
	if s != ss {
		t.Fatalf("stringer not working")
	}
}

func TestFingerprint(t *testing.T) {
	if alice.Public.Fingerprint() == bob.Public.Fingerprint() {
		t.Fatalf("distinct identities share a fingerprint")
	}
	if alice.Public.Fingerprint() != Fingerprint(alice.Public.Identity) {
		t.Fatalf("fingerprint mismatch")
	}
}

func TestSign(t *testing.T) {
	message := []byte("this is a message")
	signature := alice.SignMessage(message)
	if !alice.Public.VerifyMessage(message, signature) {
		t.Fatalf("corrupt signature")
	}
	if bob.Public.VerifyMessage(message, signature) {
		t.Fatalf("signature verified under wrong key")
	}
}
