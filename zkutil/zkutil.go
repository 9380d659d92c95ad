// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zkutil

import (
	"fmt"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
)

const (
	DefaultDir  = ".zkotr"
	DefaultConf = "zkotr.conf"
	DefaultLog  = "zkotr.log"
)

func DefaultRootPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", fmt.Errorf("homedir.Dir: %v", err)
	}
	return filepath.Join(home, DefaultDir), nil
}

func DefaultConfPath() (string, error) {
	root, err := DefaultRootPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, DefaultConf), nil
}
