// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package conversation

import (
	"fmt"

	"github.com/companyzero/zkotr/policy"
)

// State is the confidentiality state of a conversation.
type State int

const (
	Plaintext State = iota
	Encrypted
	Finished
)

func (s State) String() string {
	switch s {
	case Plaintext:
		return "plaintext"
	case Encrypted:
		return "encrypted"
	case Finished:
		return "finished"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// event is what happened to the conversation.
type event int

const (
	evData         event = iota // data message received
	evError                     // error message received
	evPlaintext                 // untagged plaintext received
	evTagged                    // whitespace tagged plaintext received
	evAKE                       // key exchange message received
	evUnsupported               // legacy or unknown message received
	evEstablished               // key exchange completed
	evOutgoing                  // user sends text
	evDisconnected              // peer ended the private conversation
	evEnd                       // user ends the private conversation
)

// effect is a set of actions the caller of transition must carry out.
type effect uint

const (
	effDecrypt effect = 1 << iota
	effEncrypt
	effWarnUnencrypted
	effWarnUnreadable
	effInjectError
	effShowError
	effSendQuery
	effForwardAKE
	effInstall
	effSendDisconnect
	effWipe
	effReject
)

func (e effect) has(f effect) bool {
	return e&f != 0
}

// transition is the conversation state machine.  It is pure; the handlers
// perform the returned effects.
func transition(s State, ev event, flags policy.Flags) (State, effect) {
	switch ev {
	case evData:
		if s == Encrypted {
			return s, effDecrypt
		}
		return s, effWarnUnreadable | effInjectError

	case evError:
		if flags.ErrorStartsAKE {
			return s, effShowError | effSendQuery
		}
		return s, effShowError

	case evPlaintext, evTagged:
		var e effect
		switch {
		case s == Encrypted, s == Finished:
			// both secure states warn alike about unprotected text
			e |= effWarnUnencrypted
		case flags.RequireEncryption:
			e |= effWarnUnencrypted
		}
		if ev == evTagged {
			e |= effForwardAKE
		}
		return s, e

	case evAKE:
		return s, effForwardAKE

	case evEstablished:
		return Encrypted, effInstall

	case evOutgoing:
		if s == Encrypted {
			return s, effEncrypt
		}
		return s, 0

	case evDisconnected:
		if s == Encrypted {
			return Finished, effWipe
		}
		return s, 0

	case evEnd:
		switch s {
		case Encrypted:
			return Plaintext, effSendDisconnect | effWipe
		case Finished:
			return Plaintext, 0
		}
		return s, 0
	}

	return s, effReject
}
