// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp_test

import (
	"errors"
	"testing"

	"github.com/Thermoquad/rclink/pkg/pairstore"
	"github.com/Thermoquad/rclink/pkg/radiosim"
	"github.com/Thermoquad/rclink/pkg/rcp"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Store-Backed Link Tests
// ============================================================

func TestLinks_PairConnectRestart(t *testing.T) {
	ether := radiosim.NewEther()
	rxStore := pairstore.NewMemory()
	txStore := pairstore.NewMemory()
	settings := rcp.DefaultSettings()

	rxRadio := ether.NewRadio("rx")
	txRadio := ether.NewRadio("tx")
	rxLink := rcp.NewReceiverLink(rcp.NewReceiver(rxRadio, rxID, rcp.WithTiming(fastTiming())), rxStore)
	txLink := rcp.NewTransmitterLink(rcp.NewTransmitter(txRadio, txID, rcp.WithTiming(fastTiming())), txStore)

	if reconnected, err := rxLink.Begin(settings); err != nil || reconnected {
		t.Fatalf("receiver Begin: %v / %v", reconnected, err)
	}
	if reconnected, err := txLink.Begin(); err != nil || reconnected {
		t.Fatalf("transmitter Begin: %v / %v", reconnected, err)
	}

	var g errgroup.Group
	g.Go(rxLink.Pair)
	g.Go(func() error { _, err := txLink.Pair(); return err })
	if err := g.Wait(); err != nil {
		t.Fatalf("pairing failed: %v", err)
	}
	if peer, err := rxStore.LoadPeerAddress(); err != nil || peer != txID {
		t.Fatalf("receiver store peer %v, %v", peer, err)
	}
	if _, err := txStore.LoadSettings(rxID); err != nil {
		t.Fatalf("transmitter store has no settings for receiver: %v", err)
	}

	var cg errgroup.Group
	cg.Go(rxLink.Connect)
	cg.Go(func() error { _, err := txLink.Connect(); return err })
	if err := cg.Wait(); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	for name, s := range map[string]rcp.Store{"receiver": rxStore, "transmitter": txStore} {
		if connected, _ := s.Connected(); !connected {
			t.Errorf("%s store should be flagged connected", name)
		}
	}
	if peer, _ := txStore.LoadPeerAddress(); peer != rxID {
		t.Errorf("transmitter store should remember %v, got %v", rxID, peer)
	}

	// Both sides restart on fresh radios and resume from their stores
	ether.Detach(rxRadio)
	ether.Detach(txRadio)
	rxLink = rcp.NewReceiverLink(rcp.NewReceiver(ether.NewRadio("rx2"), rxID, rcp.WithTiming(fastTiming())), rxStore)
	txLink = rcp.NewTransmitterLink(rcp.NewTransmitter(ether.NewRadio("tx2"), txID, rcp.WithTiming(fastTiming())), txStore)

	reconnected, err := rxLink.Begin(settings)
	if err != nil || !reconnected {
		t.Fatalf("receiver resume: %v / %v", reconnected, err)
	}
	reconnected, err = txLink.Begin()
	if err != nil || !reconnected {
		t.Fatalf("transmitter resume: %v / %v", reconnected, err)
	}

	sent := []uint16{7, 6, 5, 4, 3, 2, 1, 0}
	if _, err := txLink.Update(sent, nil); err != nil {
		t.Fatalf("Update after resume failed: %v", err)
	}
	got := make([]uint16, 8)
	if result, err := rxLink.Update(got, nil); err != nil || result != rcp.ResultUpdated {
		t.Fatalf("receiver Update: %s / %v", rcp.FormatResult(result), err)
	}
	if got[0] != 7 || got[7] != 0 {
		t.Errorf("unexpected channels %v", got)
	}

	if err := txLink.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if _, err := rxLink.Update(got, nil); err != nil {
		t.Fatalf("receiver Update failed: %v", err)
	}
	for name, s := range map[string]rcp.Store{"receiver": rxStore, "transmitter": txStore} {
		if connected, _ := s.Connected(); connected {
			t.Errorf("%s store should be cleared after disconnect", name)
		}
	}
}

func TestReceiverLink_ConnectUnpaired(t *testing.T) {
	ether := radiosim.NewEther()
	link := rcp.NewReceiverLink(rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(newManualClock())), pairstore.NewMemory())
	if _, err := link.Begin(rcp.DefaultSettings()); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := link.Connect(); !errors.Is(err, rcp.ErrNoRecord) {
		t.Errorf("expected ErrNoRecord, got %v", err)
	}
}

func TestReceiverLink_FailedConnectClearsFlag(t *testing.T) {
	ether := radiosim.NewEther()
	store := pairstore.NewMemory()
	store.SavePeerAddress(txID)
	store.SetConnected(true)

	link := rcp.NewReceiverLink(rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(newManualClock())), store)
	reconnected, err := link.Begin(rcp.DefaultSettings())
	if err != nil || !reconnected {
		t.Fatalf("Begin: %v / %v", reconnected, err)
	}

	if err := link.Connect(); !errors.Is(err, rcp.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if connected, _ := store.Connected(); connected {
		t.Error("failed connect should clear the connected flag")
	}
}

func TestTransmitterLink_ResumeWithoutReceiver(t *testing.T) {
	ether := radiosim.NewEther()
	store := pairstore.NewMemory()
	blob, _ := rcp.EncodeSettings(rcp.DefaultSettings())
	store.SaveSettings(rxID, blob)
	store.SavePeerAddress(rxID)
	store.SetConnected(true)

	link := rcp.NewTransmitterLink(rcp.NewTransmitter(ether.NewRadio("tx"), txID, rcp.WithClock(newManualClock())), store)
	reconnected, err := link.Begin()
	if !errors.Is(err, rcp.ErrLostConnection) {
		t.Fatalf("expected ErrLostConnection, got %v", err)
	}
	if reconnected {
		t.Error("reconnected should be false")
	}
	if connected, _ := store.Connected(); connected {
		t.Error("failed resume should clear the connected flag")
	}
}

func TestTransmitterLink_ResumeMissingSettings(t *testing.T) {
	ether := radiosim.NewEther()
	store := pairstore.NewMemory()
	store.SavePeerAddress(rxID)
	store.SetConnected(true)

	link := rcp.NewTransmitterLink(rcp.NewTransmitter(ether.NewRadio("tx"), txID, rcp.WithClock(newManualClock())), store)
	if _, err := link.Begin(); !errors.Is(err, rcp.ErrNoRecord) {
		t.Fatalf("expected ErrNoRecord, got %v", err)
	}
	if connected, _ := store.Connected(); connected {
		t.Error("flag should be cleared")
	}
}

func TestTransmitterLink_DisconnectWhenIdle(t *testing.T) {
	ether := radiosim.NewEther()
	store := pairstore.NewMemory()
	store.SetConnected(true)

	// Flag left over from a crash is not touched by a rejected disconnect
	link := rcp.NewTransmitterLink(rcp.NewTransmitter(ether.NewRadio("tx"), txID), store)
	if err := link.Disconnect(); !errors.Is(err, rcp.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if connected, _ := store.Connected(); !connected {
		t.Error("rejected disconnect should leave the flag alone")
	}
}
