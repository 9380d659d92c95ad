// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// policy describes how a conversation treats unencrypted traffic and which
// protocol versions it may negotiate.
package policy

import "strings"

// Flags is the policy of one conversation.  RequireEncryption only changes
// the warnings shown to the user; it never blocks delivery.
type Flags struct {
	AllowV1           bool
	AllowV2           bool
	RequireEncryption bool
	ErrorStartsAKE    bool
}

// Default allows version 2 and restarts the key exchange on error.
var Default = Flags{
	AllowV2:        true,
	ErrorStartsAKE: true,
}

// Versions returns the allowed protocol versions in ascending order.
func (f Flags) Versions() []int {
	var v []int
	if f.AllowV1 {
		v = append(v, 1)
	}
	if f.AllowV2 {
		v = append(v, 2)
	}
	return v
}

// Inert reports whether no version is allowed, in which case all traffic is
// passed through untouched.
func (f Flags) Inert() bool {
	return !f.AllowV1 && !f.AllowV2
}

// Allows reports whether version v may be negotiated.
func (f Flags) Allows(v int) bool {
	switch v {
	case 1:
		return f.AllowV1
	case 2:
		return f.AllowV2
	}
	return false
}

func (f Flags) String() string {
	var s []string
	if f.AllowV1 {
		s = append(s, "allowv1")
	}
	if f.AllowV2 {
		s = append(s, "allowv2")
	}
	if f.RequireEncryption {
		s = append(s, "requireencryption")
	}
	if f.ErrorStartsAKE {
		s = append(s, "errorstartsake")
	}
	if len(s) == 0 {
		return "none"
	}
	return strings.Join(s, ",")
}
