// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package pairstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Thermoquad/rclink/pkg/rcp"
	"github.com/fxamacker/cbor/v2"
)

// File is an rcp.Store backed by a CBOR file. Every mutation rewrites the
// file through a temporary file and rename.
type File struct {
	mu     sync.Mutex
	path   string
	record record
}

var _ rcp.Store = (*File)(nil)

// OpenFile loads the store at path. A missing file is an empty store.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, record: newRecord()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pairing store: %w", err)
	}
	if err := cbor.Unmarshal(data, &f.record); err != nil {
		return nil, fmt.Errorf("decode pairing store %s: %w", path, err)
	}
	if f.record.Pairings == nil {
		f.record.Pairings = map[string][]byte{}
	}
	return f, nil
}

// Path returns the backing file path.
func (f *File) Path() string { return f.path }

func (f *File) SavePeerAddress(peer rcp.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.record.clone()
	next.setPeer(peer)
	return f.commit(next)
}

func (f *File) LoadPeerAddress() (rcp.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.peer()
}

func (f *File) SaveSettings(peer rcp.Address, blob []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	next := f.record.clone()
	if err := next.setSettings(peer, blob); err != nil {
		return err
	}
	return f.commit(next)
}

func (f *File) LoadSettings(peer rcp.Address) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.settings(peer)
}

func (f *File) Connected() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record.Connected, nil
}

func (f *File) SetConnected(connected bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.record.Connected == connected {
		return nil
	}
	next := f.record.clone()
	next.Connected = connected
	return f.commit(next)
}

// commit writes next and adopts it only once it is on disk, so a failed
// write leaves memory agreeing with the file. Callers hold f.mu.
func (f *File) commit(next record) error {
	if err := f.flush(next); err != nil {
		return err
	}
	f.record = next
	return nil
}

// flush writes rec atomically.
func (f *File) flush(rec record) error {
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode pairing store: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pairstore-*")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace pairing store: %w", err)
	}
	return nil
}
