// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/companyzero/zkotr/conversation"
	"github.com/companyzero/zkotr/debug"
	"github.com/companyzero/zkotr/identity"
	"github.com/companyzero/zkotr/keystore"
	"github.com/companyzero/zkotr/policy"
	"github.com/companyzero/zkotr/wire"
)

var (
	errUnsettled = errors.New("key exchange did not settle")
	errPinned    = errors.New("peer identity does not match pinned identity")
)

// peer is one side of a simulated link.  Injected messages are queued until
// the link delivers them.
type peer struct {
	name   string
	c       *conversation.Conversation
	flags   policy.Flags
	maxSize uint
	log     *debug.Debug
	outbox  []string

	disclosed int // MAC keys disclosed by this side
}

func (p *peer) PolicyFor(*conversation.Conversation) policy.Flags {
	return p.flags
}

func (p *peer) Inject(text string) {
	p.outbox = append(p.outbox, text)
}

func (p *peer) ShowWarning(text string) {
	p.log.Warn(idLink, "%v: %v", p.name, text)
}

func (p *peer) ShowError(text string) {
	p.log.Log(idLink, "%v: peer error: %v", p.name, text)
}

func newPeer(name, remote string, s *settingsView, log *debug.Debug) (*peer, error) {
	id, err := s.identity(name)
	if err != nil {
		return nil, err
	}
	p := &peer{
		name:    name,
		flags:   s.policy,
		maxSize: s.maxMessageSize,
		log:     log,
	}
	p.c, err = conversation.New(conversation.Config{
		User:           remote,
		Account:        name,
		Protocol:       "demo",
		Listener:       p,
		Identity:       id,
		Log:            log,
		LogID:          idConversation,
		MaxMessageSize: s.maxMessageSize,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// identity returns the identity of name.  With a key store directory it is
// loaded from, or created and saved into, name.id in that directory and its
// public part is pinned in name.pub.
func (s *settingsView) identity(name string) (*identity.FullIdentity, error) {
	if s.keyDir == "" {
		return identity.New(name, name)
	}
	filename := filepath.Join(s.keyDir, name+".id")
	id, err := keystore.Load(filename, s.passphrase)
	switch {
	case err == nil:
		s.log.Dbg(idMain, "loaded identity %v from %v", name, filename)
	case os.IsNotExist(err):
		id, err = identity.New(name, name)
		if err != nil {
			return nil, err
		}
		err = keystore.Save(filename, id, s.passphrase,
			keystore.DefaultParams)
		if err != nil {
			return nil, err
		}
		s.log.Info(idMain, "created identity %v in %v", name, filename)
	default:
		return nil, fmt.Errorf("%v: %w", filename, err)
	}

	pubFilename := filepath.Join(s.keyDir, name+".pub")
	if _, err := os.Stat(pubFilename); os.IsNotExist(err) {
		if err := keystore.SavePublic(pubFilename, &id.Public); err != nil {
			return nil, err
		}
	}
	return id, nil
}

// verify compares the identity a peer proved in the key exchange with the one
// pinned for name.  Without a key store directory nothing is pinned.
func (s *settingsView) verify(name string, id *identity.PublicIdentity) error {
	if s.keyDir == "" {
		return nil
	}
	if id == nil {
		return errPinned
	}
	pinned, err := keystore.LoadPublic(filepath.Join(s.keyDir, name+".pub"))
	if err != nil {
		return err
	}
	if pinned.Identity != id.Identity {
		s.log.Warn(idMain, "%v: pinned %v, got %v", name,
			pinned.Fingerprint(), id.Fingerprint())
		return fmt.Errorf("%v: %w", name, errPinned)
	}
	return nil
}

// link is a lossless in memory transport between two peers.
type link struct {
	a, b *peer
}

// settle delivers queued messages until both peers are quiet.
func (l *link) settle() error {
	for i := 0; i < 16; i++ {
		if len(l.a.outbox) == 0 && len(l.b.outbox) == 0 {
			return nil
		}
		if err := l.flush(l.a, l.b); err != nil {
			return err
		}
		if err := l.flush(l.b, l.a); err != nil {
			return err
		}
	}
	return errUnsettled
}

func (l *link) flush(from, to *peer) error {
	msgs := from.outbox
	from.outbox = nil
	for _, m := range msgs {
		if wire.Classify(m) == wire.KindData {
			from.count(m)
		}
		if _, _, err := to.c.HandleIncoming(m); err != nil {
			return fmt.Errorf("%v: %w", to.name, err)
		}
	}
	return nil
}

// send transmits text from one peer to the other and checks it arrives
// intact.
func (l *link) send(from, to *peer, text string) error {
	out, err := from.c.HandleOutgoing(text)
	if err != nil {
		return fmt.Errorf("%v: %w", from.name, err)
	}
	from.count(out)
	plain, ok, err := to.c.HandleIncoming(out)
	if err != nil {
		return fmt.Errorf("%v: %w", to.name, err)
	}
	if !ok || plain != text {
		return fmt.Errorf("%v: got %q want %q", to.name, plain, text)
	}
	return nil
}

// count tallies the MAC keys disclosed by a data message.
func (p *peer) count(text string) {
	var m wire.Data
	err := wire.Decode(text, wire.KindData, &m, p.maxSize)
	if err != nil {
		return
	}
	if keys, err := m.RevealedKeys(); err == nil {
		p.disclosed += len(keys)
	}
}
