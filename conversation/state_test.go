// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package conversation

import (
	"testing"

	"github.com/companyzero/zkotr/policy"
	"github.com/companyzero/zkotr/wire"
)

func TestTransition(t *testing.T) {
	strict := policy.Flags{AllowV2: true, RequireEncryption: true}
	quiet := policy.Flags{AllowV2: true}

	tests := []struct {
		state State
		ev    event
		flags policy.Flags
		next  State
		eff   effect
	}{
		{Encrypted, evData, quiet, Encrypted, effDecrypt},
		{Plaintext, evData, quiet, Plaintext, effWarnUnreadable | effInjectError},
		{Finished, evData, quiet, Finished, effWarnUnreadable | effInjectError},
		{Plaintext, evError, policy.Default, Plaintext, effShowError | effSendQuery},
		{Encrypted, evError, quiet, Encrypted, effShowError},
		{Plaintext, evPlaintext, quiet, Plaintext, 0},
		{Plaintext, evPlaintext, strict, Plaintext, effWarnUnencrypted},
		{Plaintext, evTagged, quiet, Plaintext, effForwardAKE},
		{Plaintext, evTagged, strict, Plaintext, effWarnUnencrypted | effForwardAKE},
		{Encrypted, evPlaintext, quiet, Encrypted, effWarnUnencrypted},
		{Finished, evTagged, quiet, Finished, effWarnUnencrypted | effForwardAKE},
		{Finished, evAKE, quiet, Finished, effForwardAKE},
		{Plaintext, evEstablished, quiet, Encrypted, effInstall},
		{Finished, evEstablished, quiet, Encrypted, effInstall},
		{Plaintext, evOutgoing, strict, Plaintext, 0},
		{Encrypted, evOutgoing, quiet, Encrypted, effEncrypt},
		{Finished, evOutgoing, quiet, Finished, 0},
		{Encrypted, evDisconnected, quiet, Finished, effWipe},
		{Plaintext, evDisconnected, quiet, Plaintext, 0},
		{Encrypted, evEnd, quiet, Plaintext, effSendDisconnect | effWipe},
		{Finished, evEnd, quiet, Plaintext, 0},
		{Plaintext, evEnd, quiet, Plaintext, 0},
		{Encrypted, evUnsupported, quiet, Encrypted, effReject},
	}
	for i, test := range tests {
		next, eff := transition(test.state, test.ev, test.flags)
		if next != test.next || eff != test.eff {
			t.Errorf("%v: %v on %v: got (%v, %b) want (%v, %b)", i,
				test.ev, test.state, next, eff, test.next, test.eff)
		}
	}
}

// Encrypted and Finished treat unprotected traffic alike.
func TestSecureStatesAgree(t *testing.T) {
	for _, ev := range []event{evPlaintext, evTagged, evError, evAKE} {
		for _, f := range []policy.Flags{policy.Default, {AllowV1: true}} {
			_, e1 := transition(Encrypted, ev, f)
			_, e2 := transition(Finished, ev, f)
			if e1 != e2 {
				t.Fatalf("%v: encrypted %b finished %b", ev, e1, e2)
			}
		}
	}
}

func TestIncomingEvent(t *testing.T) {
	tests := []struct {
		text string
		want event
	}{
		{"hello", evPlaintext},
		{wire.Tag("hello", []int{2}), evTagged},
		{wire.Tag("hello", nil), evTagged},
		{"?OTRv2?", evAKE},
		{wire.ErrorMessage("x"), evError},
		{"?OTR:AAJ/.", evUnsupported},
	}
	for _, test := range tests {
		if got := incomingEvent(wire.Classify(test.text), test.text); got != test.want {
			t.Fatalf("%q: got %v want %v", test.text, got, test.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Plaintext.String() != "plaintext" || Encrypted.String() != "encrypted" ||
		Finished.String() != "finished" || State(7).String() != "state(7)" {
		t.Fatalf("unexpected state names")
	}
}
