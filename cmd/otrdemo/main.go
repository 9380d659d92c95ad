// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// otrdemo runs simulated conversation pairs through a key exchange, a run of
// encrypted messages and a disconnect, all in memory.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/companyzero/zkotr/conversation"
	"github.com/companyzero/zkotr/debug"
	"github.com/companyzero/zkotr/policy"
	"github.com/companyzero/zkotr/settings"
	"github.com/companyzero/zkotr/wire"
	"github.com/companyzero/zkotr/zkutil"
	"golang.org/x/sync/errgroup"
)

const (
	idMain = iota
	idLink
	idConversation
)

// settingsView is the part of the settings a pair needs.
type settingsView struct {
	policy         policy.Flags
	maxMessageSize uint
	keyDir         string
	passphrase     string
	log            *debug.Debug
}

type options struct {
	settings   *settings.Settings
	pairs      int
	messages   int
	keyDir     string
	passphrase string
}

func obtainSettings() (*options, error) {
	s := settings.New()

	defaultConfFile, err := zkutil.DefaultConfPath()
	if err != nil {
		return nil, err
	}
	filename := flag.String("cfg", defaultConfFile, "config file")
	export := flag.String("export", "", "export config file")
	version := flag.Bool("version", false, "show version")
	pairs := flag.Int("pairs", 4, "number of conversation pairs")
	messages := flag.Int("messages", 32, "messages per pair")
	keyDir := flag.String("identities", "", "directory of sealed identities")
	passphrase := flag.String("passphrase", "", "identity passphrase")
	flag.Parse()

	if *version {
		fmt.Fprintf(os.Stderr, "otrdemo %s (%s) protocol version %d\n",
			zkutil.Version(), runtime.Version(), wire.Version)
		os.Exit(0)
	}

	if *export != "" {
		fmt.Printf("exporting config file to: %v\n", *export)
		err = os.WriteFile(*export,
			[]byte(settings.DefaultConfigFileContent), 0600)
		if err != nil {
			return nil, err
		}
		os.Exit(0)
	}

	// a missing default config means defaults
	err = s.Load(*filename)
	if err != nil {
		if !os.IsNotExist(err) || *filename != defaultConfFile {
			return nil, err
		}
		if err := s.Parse(""); err != nil {
			return nil, err
		}
	}

	if *pairs < 1 || *messages < 0 {
		return nil, fmt.Errorf("invalid pairs %v or messages %v", *pairs,
			*messages)
	}

	if *keyDir != "" {
		if *passphrase == "" {
			return nil, fmt.Errorf("-identities requires -passphrase")
		}
		if err := os.MkdirAll(*keyDir, 0700); err != nil {
			return nil, err
		}
	}

	return &options{
		settings:   s,
		pairs:      *pairs,
		messages:   *messages,
		keyDir:     *keyDir,
		passphrase: *passphrase,
	}, nil
}

func newLogger(s *settings.Settings) (*debug.Debug, error) {
	if err := os.MkdirAll(filepath.Dir(s.LogFile), 0700); err != nil {
		return nil, err
	}
	d, err := debug.New(s.LogFile, s.TimeFormat)
	if err != nil {
		return nil, err
	}
	err = d.RegisterAll(map[int]string{
		idMain:         "MAIN",
		idLink:         "LINK",
		idConversation: "CONV",
	})
	if err != nil {
		return nil, err
	}
	if s.Debug {
		d.EnableDebug()
	}
	if s.Trace {
		d.EnableTrace()
	}
	return d, nil
}

type result struct {
	pair      int
	messages  int
	disclosed int
	a, b      string // fingerprints as seen by the other side
}

func runPair(ctx context.Context, n int, o *options, log *debug.Debug) (*result, error) {
	view := &settingsView{
		policy:         o.settings.Policy,
		maxMessageSize: o.settings.MaxMessageSize,
		keyDir:         o.keyDir,
		passphrase:     o.passphrase,
		log:            log,
	}
	a, err := newPeer(fmt.Sprintf("alice%v", n), fmt.Sprintf("bob%v", n),
		view, log)
	if err != nil {
		return nil, err
	}
	b, err := newPeer(fmt.Sprintf("bob%v", n), fmt.Sprintf("alice%v", n),
		view, log)
	if err != nil {
		return nil, err
	}
	defer a.c.Close()
	defer b.c.Close()
	l := &link{a: a, b: b}

	if err := a.c.StartAKE(); err != nil {
		return nil, err
	}
	if err := l.settle(); err != nil {
		return nil, err
	}
	if a.c.State() != conversation.Encrypted ||
		b.c.State() != conversation.Encrypted {
		return nil, fmt.Errorf("pair %v: not encrypted: %v %v", n,
			a.c.State(), b.c.State())
	}
	if err := view.verify(b.name, a.c.RemoteIdentity()); err != nil {
		return nil, err
	}
	if err := view.verify(a.name, b.c.RemoteIdentity()); err != nil {
		return nil, err
	}
	log.Dbg(idMain, "pair %v: encrypted", n)

	for i := 0; i < o.messages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		from, to := a, b
		if i%3 == 1 {
			from, to = b, a
		}
		err := l.send(from, to, fmt.Sprintf("%v message %v", from.name, i))
		if err != nil {
			return nil, fmt.Errorf("pair %v: %w", n, err)
		}
	}

	if err := a.c.End(); err != nil {
		return nil, err
	}
	if err := l.settle(); err != nil {
		return nil, err
	}
	if b.c.State() != conversation.Finished {
		return nil, fmt.Errorf("pair %v: peer is %v after end", n,
			b.c.State())
	}

	return &result{
		pair:      n,
		messages:  o.messages,
		disclosed: a.disclosed + b.disclosed,
		a:         b.c.RemoteFingerprint(),
		b:         a.c.RemoteFingerprint(),
	}, nil
}

func _main() error {
	o, err := obtainSettings()
	if err != nil {
		return err
	}
	log, err := newLogger(o.settings)
	if err != nil {
		return err
	}
	log.Info(idMain, "otrdemo %v: %v pairs, %v messages, policy %v",
		zkutil.Version(), o.pairs, o.messages, o.settings.Policy)

	results := make([]*result, o.pairs)
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < o.pairs; i++ {
		i := i
		g.Go(func() error {
			r, err := runPair(ctx, i, o, log)
			if err != nil {
				log.Error(idMain, "pair %v: %v", i, err)
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, r := range results {
		fmt.Printf("pair %v: %v messages, %v MAC keys disclosed\n"+
			"\talice %v\n\tbob   %v\n", r.pair, r.messages,
			r.disclosed, r.a, r.b)
	}
	return nil
}

func main() {
	if err := _main(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
