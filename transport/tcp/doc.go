// Copyright (c) 2025
// License: Apache-2.0

// Package tcp implements the plaintext byte stream over TCP: a deadline
// aware Stream, a Listener that yields Streams and a Dialer for clients.
// Socket options are applied through x/sys on linux.
package tcp
