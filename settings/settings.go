// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// settings loads the ini configuration shared by all zkotr tools.
package settings

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/companyzero/zkotr/policy"
	"github.com/companyzero/zkotr/wire"
	"github.com/companyzero/zkotr/zkutil"
	"github.com/mitchellh/go-homedir"
	"github.com/vaughan0/go-ini"
)

var (
	ErrIniNotFound = errors.New("not found")
)

// Settings is the collection of all zkotr settings.  This is separated out
// in order to be able to reuse in various tests.
type Settings struct {
	// default section
	Root           string // root directory
	MaxMessageSize uint   // largest decoded protocol message

	// policy section
	Policy policy.Flags

	// log section
	LogFile    string // log filename
	TimeFormat string // debug file time stamp format
	Debug      bool   // enable debug
	Trace      bool   // enable tracing
}

// New returns a default settings structure.
func New() *Settings {
	return &Settings{
		// default
		Root:           filepath.Join("~", zkutil.DefaultDir),
		MaxMessageSize: wire.MaxMessageSizeDefault,

		// policy
		Policy: policy.Default,

		// log
		LogFile:    filepath.Join("~", zkutil.DefaultDir, zkutil.DefaultLog),
		TimeFormat: "2006-01-02 15:04:05",
		Debug:      false,
		Trace:      false,
	}
}

// Load retrieves settings from an ini file.  Additionally it expands all ~ to
// the current user home directory.
func (s *Settings) Load(filename string) error {
	// parse file
	cfg, err := ini.LoadFile(filename)
	if err != nil {
		return err
	}
	return s.load(cfg)
}

// Parse is Load for configuration text.
func (s *Settings) Parse(text string) error {
	cfg, err := ini.Load(strings.NewReader(text))
	if err != nil {
		return err
	}
	return s.load(cfg)
}

func (s *Settings) load(cfg ini.File) error {
	var err error

	// root directory
	root, ok := cfg.Get("", "root")
	if ok {
		s.Root = root
	}
	s.Root, err = homedir.Expand(s.Root)
	if err != nil {
		return err
	}

	// maxmessagesize
	msz, ok := cfg.Get("", "maxmessagesize")
	if ok {
		size, err := strconv.ParseUint(msz, 10, 32)
		if err != nil {
			return fmt.Errorf("maxmessagesize invalid: %v", err)
		}
		if size == 0 {
			return fmt.Errorf("maxmessagesize must not be 0")
		}
		s.MaxMessageSize = uint(size)
	}

	// policy
	for _, b := range []struct {
		p   *bool
		key string
	}{
		{&s.Policy.AllowV1, "allowv1"},
		{&s.Policy.AllowV2, "allowv2"},
		{&s.Policy.RequireEncryption, "requireencryption"},
		{&s.Policy.ErrorStartsAKE, "errorstartsake"},
	} {
		err = iniBool(cfg, b.p, "policy", b.key)
		if err != nil && !errors.Is(err, ErrIniNotFound) {
			return err
		}
	}

	// logging and debug
	logFile, ok := cfg.Get("log", "logfile")
	if ok {
		s.LogFile = logFile
	}
	s.LogFile, err = homedir.Expand(s.LogFile)
	if err != nil {
		return err
	}

	timeFormat, ok := cfg.Get("log", "timeformat")
	if ok {
		s.TimeFormat = timeFormat
	}

	err = iniBool(cfg, &s.Debug, "log", "debug")
	if err != nil && !errors.Is(err, ErrIniNotFound) {
		return err
	}

	err = iniBool(cfg, &s.Trace, "log", "trace")
	if err != nil && !errors.Is(err, ErrIniNotFound) {
		return err
	}

	return nil
}

func iniBool(cfg ini.File, p *bool, section, key string) error {

	v, ok := cfg.Get(section, key)
	if ok {
		switch strings.ToLower(v) {
		case "yes":
			*p = true
			return nil
		case "no":
			*p = false
			return nil
		default:
			return fmt.Errorf("[%v]%v must be yes or no",
				section, key)
		}
	}
	return ErrIniNotFound
}
