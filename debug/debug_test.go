// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package debug

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const (
	idConversation = iota
	idAKE
)

func TestLevels(t *testing.T) {
	b := &bytes.Buffer{}
	d := NewWriter(b, "15:04:05")
	if err := d.Register(idConversation, "CONV"); err != nil {
		t.Fatal(err)
	}

	d.Info(idConversation, "hello %v", 1)
	d.Dbg(idConversation, "hidden")
	d.T(idConversation, "hidden")
	d.EnableDebug()
	d.EnableTrace()
	d.Dbg(idConversation, "shown")
	d.T(idAKE, "unknown")
	d.DisableDebug()
	d.Dbg(idConversation, "hidden")

	out := b.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("disabled level logged: %q", out)
	}
	for _, want := range []string{
		"[CONV][INF] hello 1",
		"[CONV][DBG] shown",
		"[UNK][TRC] unknown",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestRegister(t *testing.T) {
	d := NewWriter(&bytes.Buffer{}, "")
	if err := d.RegisterAll(nil); err != ErrNoSubystems {
		t.Fatalf("expected ErrNoSubystems, got %v", err)
	}
	err := d.RegisterAll(map[int]string{idConversation: "CONV", idAKE: "AKE"})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Register(idAKE, "AKE"); err != ErrDuplicateSubsystem {
		t.Fatalf("expected ErrDuplicateSubsystem, got %v", err)
	}
}

func TestLogVerbatim(t *testing.T) {
	b := &bytes.Buffer{}
	d := NewWriter(b, "")
	d.Log(idConversation, "peer said %v%%d", "red")
	if !strings.Contains(b.String(), "[LOG] peer said red%d") {
		t.Fatalf("peer text reformatted: %q", b.String())
	}
}

func TestFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "zkotr.log")
	d, err := New(filename, "2006")
	if err != nil {
		t.Fatal(err)
	}
	d.Warn(idConversation, "on disk")
	d.Error(idConversation, "twice")

	out, err := os.ReadFile(filename)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "[WAR] on disk") ||
		!strings.Contains(string(out), "[ERR] twice") {
		t.Fatalf("unexpected log %q", out)
	}

	if _, err := New(filepath.Join(filename, "nope"), ""); err == nil {
		t.Fatalf("expected error opening log below a file")
	}
}
