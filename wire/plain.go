// Copyright (c) 2016 Company 0, LLC.
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"sort"
	"strings"
)

const (
	tagBase = " \t  \t\t\t\t \t \t \t  "
	tagV1   = " \t \t  \t "
	tagV2   = "  \t\t  \t "

	tagSize = 8
)

// QueryMessage returns a query advertising versions.  Versions other than 1
// and 2 are ignored.
func QueryMessage(versions []int) string {
	var v1, v2 bool
	for _, v := range versions {
		switch v {
		case 1:
			v1 = true
		case 2:
			v2 = true
		}
	}
	switch {
	case v1 && v2:
		return prefixQuery + "?v2?"
	case v2:
		return prefixQuery + "v2?"
	}
	return prefixQuery + "?"
}

// ParseQuery returns the versions advertised by a query message, in
// ascending order.
func ParseQuery(text string) []int {
	i := strings.Index(text, prefixQuery)
	if i < 0 {
		return nil
	}
	rest := text[i+len(prefixQuery):]

	seen := make(map[int]bool)
	if strings.HasPrefix(rest, "?") {
		seen[1] = true
		rest = rest[1:]
	}
	if strings.HasPrefix(rest, "v") {
		end := strings.Index(rest, "?")
		if end < 0 {
			end = len(rest)
		}
		for _, c := range rest[1:end] {
			if c >= '0' && c <= '9' {
				seen[int(c-'0')] = true
			}
		}
	}

	versions := make([]int, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions
}

// ErrorMessage wraps text in an error message.
func ErrorMessage(text string) string {
	return prefixError + text
}

// ParseError returns the human readable part of an error message.
func ParseError(text string) string {
	return strings.TrimSpace(strings.TrimPrefix(text, prefixError))
}

// Tag appends a whitespace tag advertising versions to text.
func Tag(text string, versions []int) string {
	b := &strings.Builder{}
	b.WriteString(text)
	b.WriteString(tagBase)
	for _, v := range versions {
		switch v {
		case 1:
			b.WriteString(tagV1)
		case 2:
			b.WriteString(tagV2)
		}
	}
	return b.String()
}

// ParsePlaintext strips a whitespace tag from text and returns the versions
// it advertised.  Text without a tag is returned as is with nil versions.
func ParsePlaintext(text string) (string, []int) {
	i := strings.Index(text, tagBase)
	if i < 0 {
		return text, nil
	}

	versions := []int{}
	end := i + len(tagBase)
	for end+tagSize <= len(text) {
		chunk := text[end : end+tagSize]
		if strings.Trim(chunk, " \t") != "" {
			break
		}
		switch chunk {
		case tagV1:
			versions = append(versions, 1)
		case tagV2:
			versions = append(versions, 2)
		}
		end += tagSize
	}

	return text[:i] + text[end:], versions
}
