// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the sandbox.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//
// Formatting:
//   - FormatBytes: Human-readable byte sizes
//   - ClipBytes: UTF-8 safe byte-capped truncation
//
// # Usage
//
//	// Write files atomically to prevent partial writes
//	err := util.AtomicWriteFile(path, data, 0644)
//
//	// Cap a preview without splitting a rune
//	preview := util.ClipBytes(content, 500)
package util
