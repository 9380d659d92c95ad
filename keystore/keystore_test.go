// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keystore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/companyzero/zkotr/identity"
)

const passphrase = "mysekritpassword"

// cheap parameters keep the tests fast
var testParams = Params{N: 1024, R: 8, P: 1}

func newIdentity(t *testing.T) *identity.FullIdentity {
	id, err := identity.New("alice", "a")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestSealOpen(t *testing.T) {
	id := newIdentity(t)
	sealed, err := Seal(id, passphrase, testParams)
	if err != nil {
		t.Fatal(err)
	}

	opened, err := Open(sealed, passphrase)
	if err != nil {
		t.Fatal(err)
	}
	if *opened != *id {
		t.Fatalf("corrupted identity")
	}
}

func TestWrongPassphrase(t *testing.T) {
	sealed, err := Seal(newIdentity(t), passphrase, testParams)
	if err != nil {
		t.Fatal(err)
	}
	_, err = Open(sealed, "nope")
	if !errors.Is(err, ErrDecrypt) {
		t.Fatalf("got %v want %v", err, ErrDecrypt)
	}
}

func TestCorrupt(t *testing.T) {
	sealed, err := Seal(newIdentity(t), passphrase, testParams)
	if err != nil {
		t.Fatal(err)
	}
	sealed[len(sealed)-8] ^= 0x01
	if _, err := Open(sealed, passphrase); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("got %v want %v", err, ErrDecrypt)
	}
	if _, err := Open(sealed[:10], passphrase); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("short: got %v want %v", err, ErrDecrypt)
	}
}

func TestInvalidParams(t *testing.T) {
	_, err := Seal(newIdentity(t), passphrase, Params{N: 1000, R: 8, P: 1})
	if !errors.Is(err, ErrParams) {
		t.Fatalf("got %v want %v", err, ErrParams)
	}
}

// Two seals of the same identity never share salt or nonce.
func TestFreshSalt(t *testing.T) {
	id := newIdentity(t)
	s1, err := Seal(id, passphrase, testParams)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := Seal(id, passphrase, testParams)
	if err != nil {
		t.Fatal(err)
	}
	if string(s1) == string(s2) {
		t.Fatalf("identical seals")
	}
}

func TestSaveLoad(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "alice.id")
	id := newIdentity(t)
	if err := Save(filename, id, passphrase, testParams); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(filename)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0600 {
		t.Fatalf("mode %v", fi.Mode().Perm())
	}

	loaded, err := Load(filename, passphrase)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Public.Fingerprint() != id.Public.Fingerprint() {
		t.Fatalf("fingerprint changed")
	}
	if _, err := Load(filename+".missing", passphrase); !os.IsNotExist(err) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

func TestPublic(t *testing.T) {
	dir := t.TempDir()
	id := newIdentity(t)
	filename := filepath.Join(dir, "alice.pub")
	if err := SavePublic(filename, &id.Public); err != nil {
		t.Fatal(err)
	}
	pub, err := LoadPublic(filename)
	if err != nil {
		t.Fatal(err)
	}
	if *pub != id.Public {
		t.Fatalf("corrupted public identity")
	}

	// a renamed identity no longer matches its signature
	forged := id.Public
	forged.Name = "mallory"
	if err := SavePublic(filename, &forged); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPublic(filename); !errors.Is(err, identity.ErrVerify) {
		t.Fatalf("got %v want %v", err, identity.ErrVerify)
	}
}
