// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// conversation is the per peer cryptographic core.  A Conversation classifies
// every message that crosses it, drives the key exchange, and once the
// exchange completes encrypts outbound and decrypts inbound text with a
// rotating set of session keys.
package conversation

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/companyzero/zkotr/ake"
	"github.com/companyzero/zkotr/identity"
	"github.com/companyzero/zkotr/policy"
	"github.com/companyzero/zkotr/primitive"
	"github.com/companyzero/zkotr/ratchet"
	"github.com/companyzero/zkotr/wire"
)

const (
	msgUnreadable   = "unreadable encrypted message was received"
	msgUnencrypted  = "message was received unencrypted"
	msgDisconnected = "private conversation was ended by the peer"
	msgErrorReply   = "You sent me an unreadable encrypted message."
)

var (
	ErrNoListener = errors.New("no listener")
	ErrNoAKE      = errors.New("no identity or key exchange")
	ErrNoVersion  = errors.New("policy allows no protocol version")
)

// Listener connects a conversation to its transport and user interface.  All
// calls are synchronous.
type Listener interface {
	PolicyFor(c *Conversation) policy.Flags
	Inject(text string)
	ShowWarning(text string)
	ShowError(text string)
}

// AKE is the key exchange a conversation delegates handshake messages to.
type AKE interface {
	Process(text string, flags policy.Flags) ([]string, error)
	IsEstablished() bool
	LocalKeyPair() primitive.KeyPair
	RemotePublicKey() primitive.PublicKey
	SharedSecret() [primitive.KeySize]byte
	RemoteIdentity() *identity.PublicIdentity
	Reset()
}

// Logger is satisfied by *debug.Debug.
type Logger interface {
	Log(id int, format string, args ...interface{})
	Info(id int, format string, args ...interface{})
	Warn(id int, format string, args ...interface{})
	Dbg(id int, format string, args ...interface{})
	T(id int, format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Log(int, string, ...interface{})  {}
func (nopLogger) Info(int, string, ...interface{}) {}
func (nopLogger) Warn(int, string, ...interface{}) {}
func (nopLogger) Dbg(int, string, ...interface{})  {}
func (nopLogger) T(int, string, ...interface{})    {}

// Config describes a conversation.  Listener is required; so is either
// Identity or NewAKE.
type Config struct {
	User     string
	Account  string
	Protocol string

	Listener Listener
	Provider primitive.Provider // defaults to primitive.New(rand.Reader)

	Identity *identity.FullIdentity
	NewAKE   func() AKE // defaults to ake.New with Identity

	Log   Logger
	LogID int

	MaxMessageSize uint // defaults to wire.MaxMessageSizeDefault
}

// Conversation is the state of one user, account and protocol triple.  It is
// not safe for concurrent use; callers serialize calls.
type Conversation struct {
	cfg     Config
	log     Logger
	state   State
	ratchet *ratchet.Ratchet
	auth    AKE
	remote  *identity.PublicIdentity
	closed  bool
}

// New returns a conversation in the Plaintext state.
func New(cfg Config) (*Conversation, error) {
	if cfg.Listener == nil {
		return nil, ErrNoListener
	}
	if cfg.Provider == nil {
		cfg.Provider = primitive.New(rand.Reader)
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = wire.MaxMessageSizeDefault
	}
	if cfg.NewAKE == nil {
		if cfg.Identity == nil {
			return nil, ErrNoAKE
		}
		id, p, size := cfg.Identity, cfg.Provider, cfg.MaxMessageSize
		cfg.NewAKE = func() AKE {
			return ake.New(id, p, rand.Reader, size)
		}
	}

	c := &Conversation{
		cfg:     cfg,
		log:     cfg.Log,
		ratchet: ratchet.New(cfg.Provider),
	}
	if c.log == nil {
		c.log = nopLogger{}
	}
	return c, nil
}

func (c *Conversation) String() string {
	return fmt.Sprintf("%v/%v/%v", c.cfg.Account, c.cfg.User,
		c.cfg.Protocol)
}

func (c *Conversation) User() string     { return c.cfg.User }
func (c *Conversation) Account() string  { return c.cfg.Account }
func (c *Conversation) Protocol() string { return c.cfg.Protocol }
func (c *Conversation) State() State     { return c.state }

// RemoteFingerprint returns the fingerprint of the peer identity verified by
// the last completed key exchange, or "" if there was none.
func (c *Conversation) RemoteFingerprint() string {
	if c.remote == nil {
		return ""
	}
	return c.remote.Fingerprint()
}

// RemoteIdentity returns the peer identity verified by the last completed
// key exchange.
func (c *Conversation) RemoteIdentity() *identity.PublicIdentity {
	return c.remote
}

// HandleIncoming processes text received from the peer.  ok is false when
// nothing must be shown to the user.
func (c *Conversation) HandleIncoming(text string) (plain string, ok bool, err error) {
	if c.closed {
		return "", false, ErrClosed
	}
	flags := c.cfg.Listener.PolicyFor(c)
	if flags.Inert() {
		return text, true, nil
	}

	kind := wire.Classify(text)
	ev := incomingEvent(kind, text)
	next, eff := transition(c.state, ev, flags)
	c.log.T(c.cfg.LogID, "%v: %v received in state %v", c, kind, c.state)

	switch {
	case eff.has(effReject):
		c.log.Warn(c.cfg.LogID, "%v: rejected %v message", c, kind)
		return "", false, fmt.Errorf("%v: %w", kind, ErrUnsupportedProtocol)
	case eff.has(effDecrypt):
		return c.receiveData(text, flags)
	}

	if eff.has(effWarnUnreadable) {
		c.cfg.Listener.ShowWarning(msgUnreadable)
	}
	if eff.has(effInjectError) {
		c.cfg.Listener.Inject(wire.ErrorMessage(msgErrorReply))
	}
	if eff.has(effShowError) {
		c.log.Log(c.cfg.LogID, "%v: peer error: %v", c,
			wire.ParseError(text))
		c.cfg.Listener.ShowError(wire.ParseError(text))
	}
	if eff.has(effSendQuery) {
		c.cfg.Listener.Inject(wire.QueryMessage(flags.Versions()))
	}
	if eff.has(effWarnUnencrypted) {
		c.cfg.Listener.ShowWarning(msgUnencrypted)
	}
	c.state = next

	if kind == wire.KindPlaintext {
		clean, _ := wire.ParsePlaintext(text)
		if eff.has(effForwardAKE) {
			err = c.negotiate(text, flags)
		}
		return clean, true, err
	}
	if eff.has(effForwardAKE) {
		return "", false, c.negotiate(text, flags)
	}
	return "", false, nil
}

// HandleOutgoing returns the text to transmit for user text.  Outside the
// Encrypted state text is returned unchanged.  Encrypted text must not
// contain a NUL byte; such text fails with ErrInvalidText and nothing is
// sent.
func (c *Conversation) HandleOutgoing(text string) (string, error) {
	if c.closed {
		return "", ErrClosed
	}
	_, eff := transition(c.state, evOutgoing, c.cfg.Listener.PolicyFor(c))
	if !eff.has(effEncrypt) {
		return text, nil
	}

	payload, err := wire.EncodePayload(text, nil)
	if err != nil {
		c.log.Warn(c.cfg.LogID, "%v: outgoing text: %v", c, err)
		return "", err
	}
	defer primitive.Zero(payload)
	msg, err := seal(c.ratchet, c.cfg.Provider, payload)
	if err != nil {
		c.log.Warn(c.cfg.LogID, "%v: encrypt: %v", c, err)
		return "", err
	}
	c.log.T(c.cfg.LogID, "%v: sent data with key ids (%v,%v)", c,
		c.ratchet.EncryptionSlot().LocalKeyID(),
		c.ratchet.EncryptionSlot().RemoteKeyID())
	return msg, nil
}

// StartAKE asks the peer to start a key exchange.
func (c *Conversation) StartAKE() error {
	if c.closed {
		return ErrClosed
	}
	flags := c.cfg.Listener.PolicyFor(c)
	if flags.Inert() {
		return ErrNoVersion
	}
	c.cfg.Listener.Inject(wire.QueryMessage(flags.Versions()))
	return nil
}

// End leaves the private conversation.  When encrypted the peer is told so
// and all session keys are wiped.
func (c *Conversation) End() error {
	if c.closed {
		return ErrClosed
	}
	next, eff := transition(c.state, evEnd, c.cfg.Listener.PolicyFor(c))

	var err error
	if eff.has(effSendDisconnect) {
		var payload []byte
		payload, err = wire.EncodePayload("", []wire.TLV{{
			Type: wire.TLVDisconnected,
		}})
		if err == nil {
			var msg string
			msg, err = seal(c.ratchet, c.cfg.Provider, payload)
			if err == nil {
				c.cfg.Listener.Inject(msg)
			}
		}
	}
	if eff.has(effWipe) {
		c.ratchet.Wipe()
	}
	c.log.Info(c.cfg.LogID, "%v: %v -> %v", c, c.state, next)
	c.state = next
	return err
}

// Close wipes all key material.  The conversation cannot be used afterwards.
func (c *Conversation) Close() {
	c.ratchet.Wipe()
	if c.auth != nil {
		c.auth.Reset()
	}
	c.closed = true
}

func incomingEvent(kind wire.Kind, text string) event {
	switch kind {
	case wire.KindData:
		return evData
	case wire.KindError:
		return evError
	case wire.KindPlaintext:
		if _, versions := wire.ParsePlaintext(text); versions != nil {
			return evTagged
		}
		return evPlaintext
	}
	if kind.IsAKE() {
		return evAKE
	}
	return evUnsupported
}

func (c *Conversation) receiveData(text string, flags policy.Flags) (string, bool, error) {
	plain, tlvs, err := open(c.ratchet, c.cfg.Provider, text,
		c.cfg.MaxMessageSize)
	if err != nil {
		c.log.Warn(c.cfg.LogID, "%v: decrypt: %v", c, err)
		return "", false, err
	}
	c.log.T(c.cfg.LogID, "%v: most recent key ids now (%v,%v)", c,
		c.ratchet.MostRecent().LocalKeyID(),
		c.ratchet.MostRecent().RemoteKeyID())

	if wire.HasTLV(tlvs, wire.TLVDisconnected) {
		next, eff := transition(c.state, evDisconnected, flags)
		if eff.has(effWipe) {
			c.ratchet.Wipe()
		}
		c.log.Info(c.cfg.LogID, "%v: %v -> %v", c, c.state, next)
		c.state = next
		c.cfg.Listener.ShowWarning(msgDisconnected)
	}
	if plain == "" && len(tlvs) != 0 {
		return "", false, nil
	}
	return plain, true, nil
}

// negotiate forwards text to the key exchange, sends its replies and
// installs the session keys once the exchange completes.
func (c *Conversation) negotiate(text string, flags policy.Flags) error {
	if c.auth == nil {
		c.auth = c.cfg.NewAKE()
	}
	replies, err := c.auth.Process(text, flags)
	for _, reply := range replies {
		c.cfg.Listener.Inject(reply)
	}
	if err != nil {
		c.log.Warn(c.cfg.LogID, "%v: key exchange: %v", c, err)
		return err
	}
	if !c.auth.IsEstablished() {
		return nil
	}

	next, eff := transition(c.state, evEstablished, flags)
	if eff.has(effInstall) {
		if err := c.install(); err != nil {
			return err
		}
	}
	c.log.Info(c.cfg.LogID, "%v: %v -> %v, peer %v", c, c.state, next,
		c.RemoteFingerprint())
	c.state = next
	return nil
}

// install seeds the ratchet from the completed key exchange and resets it.
func (c *Conversation) install() error {
	defer c.auth.Reset()

	local := c.auth.LocalKeyPair()
	defer local.Zero()
	secret := c.auth.SharedSecret()
	defer primitive.Zero(secret[:])

	err := c.ratchet.Install(local, c.auth.RemotePublicKey(), secret)
	if err != nil {
		return &CryptoError{Op: "install", Err: err}
	}
	if id := c.auth.RemoteIdentity(); id != nil {
		remote := *id
		c.remote = &remote
	}
	return nil
}
