// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strconv"
	"unicode/utf8"
)

// FormatBytes formats a byte count as a human-readable size.
func FormatBytes(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case bytes >= gb:
		return strconv.Itoa(int(bytes/gb)) + "GB"
	case bytes >= mb:
		return strconv.Itoa(int(bytes/mb)) + "MB"
	case bytes >= kb:
		return strconv.Itoa(int(bytes/kb)) + "KB"
	default:
		return strconv.Itoa(int(bytes)) + "B"
	}
}

// ClipBytes truncates s to at most max bytes without splitting a UTF-8
// sequence. max <= 0 returns the empty string.
func ClipBytes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	clipped := s[:max]
	// Back off a partial rune at the cut point.
	for len(clipped) > 0 && !utf8.ValidString(clipped) {
		clipped = clipped[:len(clipped)-1]
	}
	return clipped
}
