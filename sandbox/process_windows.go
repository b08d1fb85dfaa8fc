// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package sandbox

import "os/exec"

// setProcessGroup is a no-op on Windows; job objects are not wired up,
// so cancellation falls back to killing the direct child.
func setProcessGroup(cmd *exec.Cmd) {}

// killProcess kills the direct child.
func killProcess(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
