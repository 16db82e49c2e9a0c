// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pairstore

import (
	"fmt"

	"github.com/Thermoquad/rclink/pkg/rcp"
)

// record is the persisted state. Field keys are CBOR integers so the file
// stays compact and stable across renames.
type record struct {
	Peer      []byte            `cbor:"1,keyasint,omitempty"`
	Connected bool              `cbor:"2,keyasint"`
	Pairings  map[string][]byte `cbor:"3,keyasint,omitempty"` // peer hex -> settings blob
}

func newRecord() record {
	return record{Pairings: map[string][]byte{}}
}

// clone returns a copy sharing no slices or maps with r.
func (r record) clone() record {
	c := record{
		Peer:      append([]byte(nil), r.Peer...),
		Connected: r.Connected,
		Pairings:  make(map[string][]byte, len(r.Pairings)),
	}
	for k, v := range r.Pairings {
		c.Pairings[k] = append([]byte(nil), v...)
	}
	return c
}

func pairingKey(peer rcp.Address) string {
	return fmt.Sprintf("%X", peer[:])
}

func (r *record) setPeer(peer rcp.Address) {
	r.Peer = append([]byte(nil), peer[:]...)
}

func (r *record) peer() (rcp.Address, error) {
	if len(r.Peer) != rcp.AddressSize {
		return rcp.Address{}, rcp.ErrNoRecord
	}
	return rcp.AddressFrom(r.Peer), nil
}

func (r *record) setSettings(peer rcp.Address, blob []byte) error {
	if len(blob) != rcp.SettingsSize {
		return fmt.Errorf("settings blob for %s: %d bytes (expected %d)", peer, len(blob), rcp.SettingsSize)
	}
	if r.Pairings == nil {
		r.Pairings = map[string][]byte{}
	}
	r.Pairings[pairingKey(peer)] = append([]byte(nil), blob...)
	return nil
}

func (r *record) settings(peer rcp.Address) ([]byte, error) {
	blob, ok := r.Pairings[pairingKey(peer)]
	if !ok {
		return nil, rcp.ErrNoRecord
	}
	return append([]byte(nil), blob...), nil
}
