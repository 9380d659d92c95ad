// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package conversation

import (
	"errors"
	"fmt"

	"github.com/companyzero/zkotr/wire"
)

var (
	ErrUnsupportedProtocol = errors.New("unsupported protocol message")
	ErrUnknownKeys         = errors.New("no matching keys found")
	ErrMACMismatch         = errors.New("MAC verification failed")
	ErrCounterRegression   = errors.New("counter did not increase")
	ErrNotEncrypted        = errors.New("conversation is not encrypted")
	ErrClosed              = errors.New("conversation closed")

	// ErrInvalidText is returned for outbound text that contains a NUL byte.
	ErrInvalidText = wire.ErrInvalidText
)

// CryptoError reports a failure of the primitive provider while performing
// Op.  The failure affects only the message being processed.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%v: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}
