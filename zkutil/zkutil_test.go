// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zkutil

import (
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	root, err := DefaultRootPath()
	if err != nil {
		t.Fatal(err)
	}
	conf, err := DefaultConfPath()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Dir(conf) != root || filepath.Base(root) != DefaultDir {
		t.Fatalf("unexpected paths %v %v", root, conf)
	}
}

func TestVersion(t *testing.T) {
	if Version() != "0.1.0" {
		t.Fatalf("got %v", Version())
	}
}
