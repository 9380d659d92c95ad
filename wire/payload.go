// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
)

// TLV types carried after the human readable part of a data payload.
const (
	TLVPadding      uint16 = 0
	TLVDisconnected uint16 = 1
)

// TLV is a type-length-value record.  The length is implied by Value.
type TLV struct {
	Type  uint16
	Value []byte
}

// MaxTLVSize is the largest value a TLV record can carry.
const MaxTLVSize = math.MaxUint16

// EncodePayload returns text followed, when tlvs is not empty, by a NUL byte
// and the records.  text must not contain a NUL byte since that starts the
// records.
func EncodePayload(text string, tlvs []TLV) ([]byte, error) {
	if strings.IndexByte(text, 0) >= 0 {
		return nil, ErrInvalidText
	}
	for _, tlv := range tlvs {
		if len(tlv.Value) > MaxTLVSize {
			return nil, ErrTLVSize
		}
	}

	b := &bytes.Buffer{}
	b.WriteString(text)
	if len(tlvs) == 0 {
		return b.Bytes(), nil
	}
	b.WriteByte(0)
	for _, tlv := range tlvs {
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[0:], tlv.Type)
		binary.BigEndian.PutUint16(hdr[2:], uint16(len(tlv.Value)))
		b.Write(hdr[:])
		b.Write(tlv.Value)
	}
	return b.Bytes(), nil
}

// DecodePayload splits a decrypted payload into its text and records.
func DecodePayload(payload []byte) (string, []TLV, error) {
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return string(payload), nil, nil
	}

	text := string(payload[:i])
	rest := payload[i+1:]
	var tlvs []TLV
	for len(rest) > 0 {
		if len(rest) < 4 {
			return "", nil, ErrMalformed
		}
		t := binary.BigEndian.Uint16(rest[0:])
		l := int(binary.BigEndian.Uint16(rest[2:]))
		rest = rest[4:]
		if len(rest) < l {
			return "", nil, ErrMalformed
		}
		tlvs = append(tlvs, TLV{
			Type:  t,
			Value: append([]byte{}, rest[:l]...),
		})
		rest = rest[l:]
	}
	return text, tlvs, nil
}

// HasTLV reports whether tlvs contains a record of type t.
func HasTLV(tlvs []TLV, t uint16) bool {
	for _, tlv := range tlvs {
		if tlv.Type == t {
			return true
		}
	}
	return false
}
