// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package pairstore persists pairing records and the last-connection flag
// for rcp sessions.
package pairstore

import (
	"sync"

	"github.com/Thermoquad/rclink/pkg/rcp"
)

// Memory is an in-process rcp.Store.
type Memory struct {
	mu     sync.Mutex
	record record
}

var _ rcp.Store = (*Memory)(nil)

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{record: newRecord()}
}

func (m *Memory) SavePeerAddress(peer rcp.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record.setPeer(peer)
	return nil
}

func (m *Memory) LoadPeerAddress() (rcp.Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.peer()
}

func (m *Memory) SaveSettings(peer rcp.Address, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.setSettings(peer, blob)
}

func (m *Memory) LoadSettings(peer rcp.Address) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.settings(peer)
}

func (m *Memory) Connected() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.Connected, nil
}

func (m *Memory) SetConnected(connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record.Connected = connected
	return nil
}
