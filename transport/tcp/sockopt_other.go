//go:build !linux
// +build !linux

// Copyright (c) 2025
// License: Apache-2.0

package tcp

import "syscall"

// socketControl is a no-op outside linux; the runtime defaults apply.
func socketControl(cfg *listenConfig) func(network, address string, c syscall.RawConn) error {
	return nil
}
