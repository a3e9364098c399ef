//go:build linux
// +build linux

// Copyright (c) 2025
// License: Apache-2.0

// Package tcp - Linux-specific socket options for listening sockets.

package tcp

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func socketControl(cfg *listenConfig) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			s := int(fd)
			if serr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); serr != nil {
				return
			}
			if cfg.reusePort {
				if serr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); serr != nil {
					return
				}
			}
			if cfg.recvBuffer > 0 {
				if serr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.recvBuffer); serr != nil {
					return
				}
			}
			if cfg.sendBuffer > 0 {
				serr = unix.SetsockoptInt(s, unix.SOL_SOCKET, unix.SO_SNDBUF, cfg.sendBuffer)
			}
		})
		if err != nil {
			return err
		}
		return serr
	}
}
