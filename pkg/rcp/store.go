// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

// Store persists pairing records and the last-connection flag across power
// cycles. Missing records are reported as ErrNoRecord.
type Store interface {
	SavePeerAddress(peer Address) error
	LoadPeerAddress() (Address, error)

	// SaveSettings stores the encoded settings blob received from peer.
	SaveSettings(peer Address, blob []byte) error
	// LoadSettings returns the blob saved for peer. It doubles as the
	// check-if-paired query.
	LoadSettings(peer Address) ([]byte, error)

	Connected() (bool, error)
	SetConnected(connected bool) error
}
