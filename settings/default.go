// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package settings

// DefaultConfigFileContent is written by -export.
const DefaultConfigFileContent = `# zkotr configuration

# root directory
# root = ~/.zkotr

# largest accepted protocol message in bytes once decoded
# maxmessagesize = 262144

[policy]
# allow protocol version 1; it is advertised but never negotiated
# allowv1 = no

# allow protocol version 2
# allowv2 = yes

# warn about every unencrypted message
# requireencryption = no

# answer error messages with a new key exchange
# errorstartsake = yes

[log]
# log file
# logfile = ~/.zkotr/zkotr.log

# time stamp format
# timeformat = 2006-01-02 15:04:05

# debug and trace output
# debug = no
# trace = no
`
