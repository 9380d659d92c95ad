// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package zkutil

import "fmt"

const (
	versionMajor = 0
	versionMinor = 1
	versionPatch = 0
)

// Version returns the semantic version of the zkotr tools.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", versionMajor, versionMinor, versionPatch)
}
