// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"errors"
	"fmt"
)

// ReceiverLink drives a Receiver with its persistence collaborator. It is
// the form applications use: the peer address and the connected flag
// survive restarts through the Store.
type ReceiverLink struct {
	Receiver *Receiver
	Store    Store
}

// NewReceiverLink binds r to store.
func NewReceiverLink(r *Receiver, store Store) *ReceiverLink {
	return &ReceiverLink{Receiver: r, Store: store}
}

// Begin applies settings. When the store says the receiver was connected
// before it restarted, the session is resumed with the stored peer and
// reconnected is true.
func (l *ReceiverLink) Begin(settings Settings) (reconnected bool, err error) {
	if err := l.Receiver.Begin(settings); err != nil {
		return false, err
	}

	connected, err := l.Store.Connected()
	if err != nil || !connected {
		return false, err
	}
	peer, err := l.Store.LoadPeerAddress()
	if err != nil {
		return false, l.forget(err)
	}
	if err := l.Receiver.Resume(peer); err != nil {
		return false, l.forget(err)
	}
	return true, nil
}

// Pair pairs with a transmitter and saves its address.
func (l *ReceiverLink) Pair() error {
	return l.Receiver.Pair(l.Store.SavePeerAddress)
}

// Connect connects to the stored peer and records the connected flag.
func (l *ReceiverLink) Connect() error {
	peer, err := l.Store.LoadPeerAddress()
	if err != nil {
		return fmt.Errorf("load paired transmitter: %w", err)
	}
	if err := l.Receiver.Connect(peer); err != nil {
		return l.forget(err)
	}
	return l.Store.SetConnected(true)
}

// Update runs one receiver update and clears the connected flag when the
// transmitter disconnected.
func (l *ReceiverLink) Update(channels []uint16, telemetry []byte) (Result, error) {
	wasConnected := l.Receiver.IsConnected()
	result, err := l.Receiver.Update(channels, telemetry)
	if wasConnected && !l.Receiver.IsConnected() {
		if serr := l.Store.SetConnected(false); serr != nil {
			return result, serr
		}
	}
	return result, err
}

func (l *ReceiverLink) forget(err error) error {
	if serr := l.Store.SetConnected(false); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

// TransmitterLink drives a Transmitter with its persistence collaborator.
type TransmitterLink struct {
	Transmitter *Transmitter
	Store       Store
}

// NewTransmitterLink binds t to store.
func NewTransmitterLink(t *Transmitter, store Store) *TransmitterLink {
	return &TransmitterLink{Transmitter: t, Store: store}
}

// Begin powers up the radio. When the store says a session was live before
// the restart, the stored peer is probed and reconnected reports whether it
// answered.
func (l *TransmitterLink) Begin() (reconnected bool, err error) {
	if err := l.Transmitter.Begin(); err != nil {
		return false, err
	}

	connected, err := l.Store.Connected()
	if err != nil || !connected {
		return false, err
	}
	peer, err := l.Store.LoadPeerAddress()
	if err != nil {
		return false, l.forget(err)
	}
	blob, err := l.Store.LoadSettings(peer)
	if err != nil {
		return false, l.forget(err)
	}
	settings, err := DecodeSettings(blob)
	if err != nil {
		return false, l.forget(err)
	}
	if err := l.Transmitter.Resume(peer, settings); err != nil {
		return false, l.forget(err)
	}
	return true, nil
}

// Pair pairs with a receiver and saves its settings.
func (l *TransmitterLink) Pair() (Address, error) {
	return l.Transmitter.Pair(l.Store.SaveSettings)
}

// Connect accepts a paired receiver, then saves it as the last connection.
func (l *TransmitterLink) Connect() (Address, error) {
	peer, err := l.Transmitter.Connect(l.Store.LoadSettings)
	if err != nil {
		return peer, err
	}
	if err := l.Store.SavePeerAddress(peer); err != nil {
		return peer, err
	}
	return peer, l.Store.SetConnected(true)
}

// Update runs one transmitter tick.
func (l *TransmitterLink) Update(channels []uint16, telemetry []byte) (Result, error) {
	return l.Transmitter.Update(channels, telemetry)
}

// Disconnect ends the session and clears the connected flag.
func (l *TransmitterLink) Disconnect() error {
	err := l.Transmitter.Disconnect()
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	if serr := l.Store.SetConnected(false); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}

func (l *TransmitterLink) forget(err error) error {
	if serr := l.Store.SetConnected(false); serr != nil {
		return errors.Join(err, serr)
	}
	return err
}
