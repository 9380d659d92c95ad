// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// keystore seals identities at rest with a passphrase.  The key is derived
// with scrypt and the identity is sealed with secretbox.
package keystore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/companyzero/zkotr/identity"
	"github.com/davecgh/go-xdr/xdr2"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const maxBlobSize = 64 * 1024

var (
	ErrDecrypt = errors.New("could not decrypt")
	ErrParams  = errors.New("invalid scrypt parameters")
)

// Params are the scrypt cost parameters.
type Params struct {
	N uint32
	R uint32
	P uint32
}

// DefaultParams are used when sealing with a zero Params.
var DefaultParams = Params{N: 16384, R: 8, P: 1}

func (p Params) valid() bool {
	return p.N > 1 && p.N&(p.N-1) == 0 && p.R > 0 && p.P > 0
}

// blob is the on disk form.  The parameters travel with the ciphertext so
// that older blobs open after the defaults change.
type blob struct {
	Params Params
	Salt   [32]byte
	Nonce  [24]byte
	Sealed []byte
}

func zero(b []byte) {
	for i := 0; i < len(b); i++ {
		b[i] = 0
	}
}

func deriveKey(passphrase string, salt *[32]byte, p Params) (*[32]byte, error) {
	if !p.valid() {
		return nil, ErrParams
	}
	var key [32]byte
	dk, err := scrypt.Key([]byte(passphrase), salt[:], int(p.N), int(p.R),
		int(p.P), len(key))
	if err != nil {
		return nil, err
	}
	copy(key[:], dk)
	zero(dk)

	return &key, nil
}

// Seal encrypts id under passphrase.
func Seal(id *identity.FullIdentity, passphrase string, p Params) ([]byte, error) {
	if p == (Params{}) {
		p = DefaultParams
	}
	b := blob{Params: p}

	// random salt and nonce
	if _, err := io.ReadFull(rand.Reader, b.Salt[:]); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(rand.Reader, b.Nonce[:]); err != nil {
		return nil, err
	}

	key, err := deriveKey(passphrase, &b.Salt, p)
	if err != nil {
		return nil, err
	}
	defer zero(key[:])

	plain, err := id.Marshal()
	if err != nil {
		return nil, err
	}
	defer zero(plain)
	b.Sealed = secretbox.Seal(nil, plain, &b.Nonce, key)

	out := &bytes.Buffer{}
	if _, err := xdr.Marshal(out, b); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// Open decrypts a blob produced by Seal.  A wrong passphrase and a corrupt
// blob both return ErrDecrypt.
func Open(data []byte, passphrase string) (*identity.FullIdentity, error) {
	var b blob
	_, err := xdr.UnmarshalLimited(bytes.NewReader(data), &b, maxBlobSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	key, err := deriveKey(passphrase, &b.Salt, b.Params)
	if err != nil {
		return nil, err
	}
	defer zero(key[:])

	plain, ok := secretbox.Open(nil, b.Sealed, &b.Nonce, key)
	if !ok {
		return nil, ErrDecrypt
	}
	defer zero(plain)

	return identity.UnmarshalFullIdentity(plain)
}

// Save seals id into filename.
func Save(filename string, id *identity.FullIdentity, passphrase string, p Params) error {
	data, err := Seal(id, passphrase, p)
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0600)
}

// SavePublic writes the public part of an identity to filename.  Public
// identities are not secret and are stored in the clear.
func SavePublic(filename string, id *identity.PublicIdentity) error {
	data, err := id.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0600)
}

// LoadPublic reads a public identity and verifies its signature.
func LoadPublic(filename string) (*identity.PublicIdentity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return identity.UnmarshalPublicIdentity(data)
}

// Load opens the identity sealed in filename.
func Load(filename, passphrase string) (*identity.FullIdentity, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Open(data, passphrase)
}
