// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// wire contains the message formats exchanged by two conversation peers.
//
// Messages travel as text over an arbitrary transport.  There are four
// families:
//	1. plaintext, optionally carrying a whitespace tag that advertises the
//	   protocol versions the sender is willing to speak
//	2. query messages (?OTR?, ?OTRv2?, ?OTR?v2?) asking the peer to start a
//	   key exchange
//	3. error messages (?OTR Error:...)
//	4. encoded messages, ?OTR:<base64>. where the decoded bytes are a
//	   two byte protocol version, a one byte message type and an XDR body
//
// Encoded messages are either one of the four key exchange messages or a
// data message.
package wire

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/davecgh/go-xdr/xdr2"
)

const (
	// Version is the only encoded protocol version spoken.
	Version = 2

	// MaxMessageSizeDefault bounds the decoded size of an encoded message.
	MaxMessageSizeDefault = 256 * 1024

	prefixEncoded = "?OTR:"
	suffixEncoded = "."
	prefixError   = "?OTR Error:"
	prefixQuery   = "?OTR"

	headerSize = 3
)

var (
	ErrMalformed      = errors.New("malformed message")
	ErrOverflow       = errors.New("message too large")
	ErrUnexpectedKind = errors.New("unexpected message kind")
	ErrInvalidText    = errors.New("text contains a NUL byte")
	ErrTLVSize        = errors.New("TLV value too large")
)

// Kind classifies a message.
type Kind int

const (
	KindUnknown Kind = iota
	KindPlaintext
	KindError
	KindQuery
	KindDHCommit
	KindDHKey
	KindRevealSignature
	KindSignature
	KindData
	KindV1KeyExchange
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindPlaintext:       "plaintext",
	KindError:           "error",
	KindQuery:           "query",
	KindDHCommit:        "dh-commit",
	KindDHKey:           "dh-key",
	KindRevealSignature: "reveal-signature",
	KindSignature:       "signature",
	KindData:            "data",
	KindV1KeyExchange:   "v1-key-exchange",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsAKE reports whether messages of kind k are handled by the key exchange.
func (k Kind) IsAKE() bool {
	switch k {
	case KindQuery, KindDHCommit, KindDHKey, KindRevealSignature,
		KindSignature:
		return true
	}
	return false
}

// message type bytes of encoded messages
var types = map[Kind]byte{
	KindDHCommit:        0x02,
	KindData:            0x03,
	KindDHKey:           0x0a,
	KindRevealSignature: 0x11,
	KindSignature:       0x12,
}

const typeV1KeyExchange = 0x0a

// Classify returns the kind of text.  Encoded messages whose header cannot be
// read, or that carry an unknown version or type, are KindUnknown.  Only the
// header is decoded; size limits are enforced by Decode.
func Classify(text string) Kind {
	switch {
	case strings.HasPrefix(text, prefixEncoded):
		raw, err := header(text)
		if err != nil {
			return KindUnknown
		}
		version := uint16(raw[0])<<8 | uint16(raw[1])
		switch version {
		case 1:
			if raw[2] == typeV1KeyExchange {
				return KindV1KeyExchange
			}
		case Version:
			for k, t := range types {
				if t == raw[2] {
					return k
				}
			}
		}
		return KindUnknown
	case strings.HasPrefix(text, prefixError):
		return KindError
	case strings.Contains(text, prefixQuery+"?"),
		strings.Contains(text, prefixQuery+"v"):
		return KindQuery
	}
	return KindPlaintext
}

// Encode armors body as an encoded message of kind k.
func Encode(k Kind, body interface{}) (string, error) {
	t, ok := types[k]
	if !ok {
		return "", ErrUnexpectedKind
	}
	b := &bytes.Buffer{}
	b.Write([]byte{0, Version, t})
	if _, err := xdr.Marshal(b, body); err != nil {
		return "", err
	}

	return prefixEncoded + base64.StdEncoding.EncodeToString(b.Bytes()) +
		suffixEncoded, nil
}

// Decode unarmors text, which must be an encoded message of kind k, into
// body.  Messages larger than maxSize bytes once decoded are rejected.
func Decode(text string, k Kind, body interface{}, maxSize uint) error {
	t, ok := types[k]
	if !ok {
		return ErrUnexpectedKind
	}
	raw, err := unarmor(text, maxSize)
	if err != nil {
		return err
	}
	if len(raw) < headerSize {
		return ErrMalformed
	}
	if raw[0] != 0 || raw[1] != Version || raw[2] != t {
		return ErrUnexpectedKind
	}

	_, err = xdr.UnmarshalLimited(bytes.NewReader(raw[headerSize:]), body,
		maxSize)
	if err != nil {
		return fmt.Errorf("%v: %w", k, ErrMalformed)
	}
	return nil
}

// header decodes the version and type bytes of an encoded message, which are
// the first base64 quantum.
func header(text string) ([]byte, error) {
	end := strings.Index(text, suffixEncoded)
	if end < len(prefixEncoded)+4 {
		return nil, ErrMalformed
	}
	quantum := text[len(prefixEncoded) : len(prefixEncoded)+4]
	raw, err := base64.StdEncoding.DecodeString(quantum)
	if err != nil || len(raw) < headerSize {
		return nil, ErrMalformed
	}
	return raw, nil
}

func unarmor(text string, maxSize uint) ([]byte, error) {
	if !strings.HasPrefix(text, prefixEncoded) {
		return nil, ErrMalformed
	}
	end := strings.Index(text, suffixEncoded)
	if end < 0 {
		return nil, ErrMalformed
	}
	encoded := text[len(prefixEncoded):end]
	if uint(base64.StdEncoding.DecodedLen(len(encoded))) > maxSize+headerSize {
		return nil, ErrOverflow
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrMalformed
	}
	return raw, nil
}
