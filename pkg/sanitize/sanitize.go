// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package sanitize

import (
	"html"
	"strings"
)

// Content returns text with markup neutralized and disallowed control
// characters removed. Entities already present are decoded first so that
// Content(Content(x)) == Content(x).
func Content(text string) string {
	if text == "" {
		return ""
	}
	return html.EscapeString(stripControl(html.UnescapeString(text), false))
}

// Header is Content for a single header line: TAB, CR and LF are removed as
// well, including any produced by decoding entities such as &#13;.
func Header(value string) string {
	if value == "" {
		return ""
	}
	return html.EscapeString(stripControl(html.UnescapeString(value), true))
}

// stripControl drops C0 controls except TAB, LF and CR, DEL and the C1 block.
// In header mode TAB, LF and CR go too.
func stripControl(s string, header bool) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t', r == '\n', r == '\r':
			if header {
				return -1
			}
			return r
		case r < 0x20, r == 0x7f, r >= 0x80 && r <= 0x9f:
			return -1
		}
		return r
	}, s)
}
