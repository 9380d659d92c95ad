// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// debug is a subsystem aware logger.  Every line is prefixed with a time
// stamp, the subsystem name and the severity.  Lines go either to a file that
// is reopened for every write or to an arbitrary writer.
package debug

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/companyzero/ttk"
)

var (
	ErrNoSubystems        = errors.New("no subsystems specified")
	ErrDuplicateSubsystem = errors.New("duplicate subsystem")
)

type Debug struct {
	sync.Mutex
	filename   string
	w          io.Writer
	format     string
	subsystems map[int]string
	debug      atomic.Bool // debug enabled?
	trace      atomic.Bool // trace enabled?
}

// Log records text that originates from a peer.  Terminal escapes are
// neutralized before the line is written.
func (d *Debug) Log(id int, format string, args ...interface{}) {
	s := ttk.Unescape(fmt.Sprintf(format, args...))
	d.log(id, "[LOG] ", "%v", s)
}

func (d *Debug) Info(id int, format string, args ...interface{}) {
	d.log(id, "[INF] ", format, args...)
}

func (d *Debug) Warn(id int, format string, args ...interface{}) {
	d.log(id, "[WAR] ", format, args...)
}

func (d *Debug) Error(id int, format string, args ...interface{}) {
	d.log(id, "[ERR] ", format, args...)
}

func (d *Debug) Dbg(id int, format string, args ...interface{}) {
	if !d.debug.Load() {
		return
	}

	d.log(id, "[DBG] ", format, args...)
}

func (d *Debug) T(id int, format string, args ...interface{}) {
	if !d.trace.Load() {
		return
	}

	d.log(id, "[TRC] ", format, args...)
}

func (d *Debug) log(id int, prefix string, format string, args ...interface{}) {
	d.Lock()
	defer d.Unlock()

	s, found := d.subsystems[id]
	if !found {
		s = "[UNK]"
	}

	w := d.w
	if w == nil {
		f, err := os.OpenFile(d.filename,
			os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log error: %v", err)
			return
		}
		defer f.Close()
		w = f
	}

	t := time.Now().Format(d.format)
	fmt.Fprintf(w, t+" "+s+prefix+format+"\n", args...)
}

// New returns a logger appending to filename.
func New(filename, format string) (*Debug, error) {
	// make sure we can open file
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	f.Close()

	d := Debug{
		subsystems: make(map[int]string),
		format:     format,
		filename:   filename,
	}

	return &d, nil
}

// NewWriter returns a logger writing to w.  Writes to w are serialized.
func NewWriter(w io.Writer, format string) *Debug {
	return &Debug{
		subsystems: make(map[int]string),
		format:     format,
		w:          w,
	}
}

func (d *Debug) Register(id int, name string) error {
	d.Lock()
	defer d.Unlock()

	_, found := d.subsystems[id]
	if found {
		return ErrDuplicateSubsystem
	}
	d.subsystems[id] = "[" + name + "]"
	return nil
}

// RegisterAll registers subsystems in one go.
func (d *Debug) RegisterAll(subsystems map[int]string) error {
	if len(subsystems) == 0 {
		return ErrNoSubystems
	}
	for id, name := range subsystems {
		if err := d.Register(id, name); err != nil {
			return err
		}
	}
	return nil
}

func (d *Debug) EnableDebug() {
	d.debug.Store(true)
}

func (d *Debug) DisableDebug() {
	d.debug.Store(false)
}

func (d *Debug) EnableTrace() {
	d.trace.Store(true)
}
