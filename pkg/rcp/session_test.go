// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/rclink/pkg/radiosim"
	"github.com/Thermoquad/rclink/pkg/rcp"
)

// ============================================================
// Test Helpers
// ============================================================

var (
	rxID = rcp.Address{'R', 'X', '0', '0', '1'}
	txID = rcp.Address{'T', 'X', '0', '0', '1'}
)

// manualClock advances only when slept on. onSleep lets a test act as the
// remote peer while a session is blocked in a bounded wait.
type manualClock struct {
	now     time.Time
	slept   time.Duration
	onSleep func()
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1000, 0)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.slept += d
	if c.onSleep != nil {
		c.onSleep()
	}
}

// peerRadio prepares a bare simulated radio to play the other side by hand.
func peerRadio(ether *radiosim.Ether, name string, s rcp.Settings) *radiosim.Radio {
	r := ether.NewRadio(name)
	r.Begin()
	r.Configure(s)
	r.SetPowerLevel(s.PowerLevel)
	return r
}

// readAll drains every payload currently buffered at r.
func readAll(r *radiosim.Radio) [][]byte {
	var out [][]byte
	for {
		if _, ok := r.Available(); !ok {
			return out
		}
		buf := make([]byte, rcp.MaxPayloadSize)
		n := r.Read(buf)
		out = append(out, buf[:n])
	}
}

func settingsWith(ack, ackPayload bool) rcp.Settings {
	s := rcp.DefaultSettings()
	s.EnableAck = ack
	s.EnableAckPayload = ackPayload
	return s
}

// connectedPair brings a receiver and transmitter into the connected state
// through Resume, each on its own manual clock. The transmitter clock drives
// the receiver's update while the transmitter waits for explicit ACKs.
func connectedPair(t *testing.T, s rcp.Settings) (*rcp.Receiver, *rcp.Transmitter, *radiosim.Ether, *manualClock) {
	t.Helper()
	ether := radiosim.NewEther()
	rxRadio := ether.NewRadio("rx")
	txRadio := ether.NewRadio("tx")

	rxClock := newManualClock()
	txClock := newManualClock()

	rx := rcp.NewReceiver(rxRadio, rxID, rcp.WithClock(rxClock))
	tx := rcp.NewTransmitter(txRadio, txID, rcp.WithClock(txClock))

	if err := rx.Begin(s); err != nil {
		t.Fatalf("receiver Begin failed: %v", err)
	}
	if err := tx.Begin(); err != nil {
		t.Fatalf("transmitter Begin failed: %v", err)
	}
	if err := rx.Resume(txID); err != nil {
		t.Fatalf("receiver Resume failed: %v", err)
	}

	txClock.onSleep = func() {
		if rx.IsConnected() {
			rx.Update(nil, nil)
		}
	}
	if err := tx.Resume(rxID, s); err != nil {
		t.Fatalf("transmitter Resume failed: %v", err)
	}
	txClock.onSleep = nil

	// Swallow the Reconnect probe in ack mode
	if _, err := rx.Update(nil, nil); err != nil {
		t.Fatalf("receiver Update after resume failed: %v", err)
	}
	return rx, tx, ether, txClock
}

// ============================================================
// Not-Connected Guard Tests
// ============================================================

func TestNotConnectedGuards(t *testing.T) {
	ether := radiosim.NewEther()
	rx := rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(newManualClock()))
	tx := rcp.NewTransmitter(ether.NewRadio("tx"), txID, rcp.WithClock(newManualClock()))
	if err := rx.Begin(rcp.DefaultSettings()); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	if _, err := rx.Update(make([]uint16, 8), nil); !errors.Is(err, rcp.ErrNotConnected) {
		t.Errorf("receiver Update: expected ErrNotConnected, got %v", err)
	}
	if _, err := tx.Update(make([]uint16, 8), nil); !errors.Is(err, rcp.ErrNotConnected) {
		t.Errorf("transmitter Update: expected ErrNotConnected, got %v", err)
	}
	if err := tx.Disconnect(); !errors.Is(err, rcp.ErrNotConnected) {
		t.Errorf("transmitter Disconnect: expected ErrNotConnected, got %v", err)
	}
	if rcp.CodeOf(rcp.ErrNotConnected) != -5 {
		t.Errorf("unexpected NotConnected code %d", rcp.CodeOf(rcp.ErrNotConnected))
	}
}

func TestReceiverBeginRejectsInvalidSettings(t *testing.T) {
	ether := radiosim.NewEther()
	rx := rcp.NewReceiver(ether.NewRadio("rx"), rxID)
	s := rcp.DefaultSettings()
	s.PayloadSize = 10 // 8 channels need 17
	if err := rx.Begin(s); !errors.Is(err, rcp.ErrBadData) {
		t.Errorf("expected ErrBadData, got %v", err)
	}
}

// ============================================================
// Receiver Pairing Tests
// ============================================================

func TestReceiverPair_Timeout(t *testing.T) {
	ether := radiosim.NewEther()
	clock := newManualClock()
	rx := rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(clock))
	rx.Begin(rcp.DefaultSettings())

	saved := false
	err := rx.Pair(func(rcp.Address) error { saved = true; return nil })
	if !errors.Is(err, rcp.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if saved {
		t.Error("save callback should not run on timeout")
	}
	if rx.State() != rcp.StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", rx.State())
	}
	if clock.slept < rcp.DefaultTiming().Timeout {
		t.Errorf("gave up after %v, before the %v timeout", clock.slept, rcp.DefaultTiming().Timeout)
	}
}

func TestReceiverPair_Success(t *testing.T) {
	ether := radiosim.NewEther()
	clock := newManualClock()
	rxRadio := ether.NewRadio("rx")
	rx := rcp.NewReceiver(rxRadio, rxID, rcp.WithClock(clock))
	settings := rcp.DefaultSettings()
	rx.Begin(settings)

	tx := peerRadio(ether, "tx", rcp.PairingSettings())
	tx.OpenWritingPipe(rcp.PairAddress)
	tx.OpenReadingPipe(1, txID)

	announced := false
	clock.onSleep = func() {
		if announced {
			return
		}
		if !tx.Write(txID[:]) {
			t.Error("announcement to listening receiver was not acked")
		}
		tx.StartListening()
		announced = true
	}

	var savedPeer rcp.Address
	err := rx.Pair(func(peer rcp.Address) error { savedPeer = peer; return nil })
	if err != nil {
		t.Fatalf("Pair failed: %v", err)
	}
	if savedPeer != txID {
		t.Errorf("saved peer %v, want %v", savedPeer, txID)
	}
	if rx.State() != rcp.StateDisconnected {
		t.Errorf("pairing must not connect, got %s", rx.State())
	}
	if rxRadio.PowerLevel() != rcp.PowerLow {
		t.Errorf("pairing should run at low power, got %d", rxRadio.PowerLevel())
	}

	got := readAll(tx)
	if len(got) != 2 {
		t.Fatalf("expected address and settings, got %d payloads", len(got))
	}
	if !bytes.Equal(got[0][:rcp.AddressSize], rxID[:]) {
		t.Errorf("expected receiver address, got % X", got[0][:rcp.AddressSize])
	}
	want, _ := rcp.EncodeSettings(settings)
	if !bytes.Equal(got[1], want) {
		t.Errorf("settings blob mismatch:\nwant % X\ngot  % X", want, got[1])
	}
}

func TestReceiverPair_LostConnection(t *testing.T) {
	ether := radiosim.NewEther()
	clock := newManualClock()
	rx := rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(clock))
	rx.Begin(rcp.DefaultSettings())

	// Announces but never listens for the reply
	tx := peerRadio(ether, "tx", rcp.PairingSettings())
	tx.OpenWritingPipe(rcp.PairAddress)
	clock.onSleep = func() {
		if clock.slept == time.Millisecond {
			tx.Write(txID[:])
		}
	}

	err := rx.Pair(func(rcp.Address) error { return nil })
	if !errors.Is(err, rcp.ErrLostConnection) {
		t.Fatalf("expected ErrLostConnection, got %v", err)
	}
	if rx.State() != rcp.StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", rx.State())
	}
}

func TestReceiverPair_SaveError(t *testing.T) {
	ether := radiosim.NewEther()
	clock := newManualClock()
	rx := rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(clock))
	rx.Begin(rcp.DefaultSettings())

	tx := peerRadio(ether, "tx", rcp.PairingSettings())
	tx.OpenWritingPipe(rcp.PairAddress)
	clock.onSleep = func() {
		if clock.slept == time.Millisecond {
			tx.Write(txID[:])
		}
	}

	boom := errors.New("flash full")
	if err := rx.Pair(func(rcp.Address) error { return boom }); !errors.Is(err, boom) {
		t.Errorf("expected save error, got %v", err)
	}
}

// ============================================================
// Receiver Connect Tests
// ============================================================

// listeningTransmitter is a hand-driven transmitter radio waiting for an
// announcement on txID.
func listeningTransmitter(ether *radiosim.Ether) *radiosim.Radio {
	tx := peerRadio(ether, "tx", rcp.PairingSettings())
	tx.OpenReadingPipe(1, txID)
	tx.StartListening()
	return tx
}

// replyOnce answers the first announcement seen by tx with b.
func replyOnce(tx *radiosim.Radio, b byte) func() {
	replied := false
	return func() {
		if replied {
			return
		}
		if _, ok := tx.Available(); !ok {
			return
		}
		readAll(tx)
		tx.StopListening()
		tx.OpenWritingPipe(rxID)
		tx.Write([]byte{b})
		replied = true
	}
}

func TestReceiverConnect_Timeout(t *testing.T) {
	ether := radiosim.NewEther()
	rx := rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(newManualClock()))
	rx.Begin(rcp.DefaultSettings())

	if err := rx.Connect(txID); !errors.Is(err, rcp.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if rx.State() != rcp.StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", rx.State())
	}
}

func TestReceiverConnect_Announcement(t *testing.T) {
	ether := radiosim.NewEther()
	rx := rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(newManualClock()))
	settings := rcp.DefaultSettings()
	rx.Begin(settings)
	tx := listeningTransmitter(ether)

	if err := rx.Connect(txID); !errors.Is(err, rcp.ErrLostConnection) {
		t.Fatalf("expected ErrLostConnection with a silent peer, got %v", err)
	}

	got := readAll(tx)
	if len(got) != 1 {
		t.Fatalf("expected one announcement, got %d", len(got))
	}
	if !bytes.Equal(got[0][:rcp.AddressSize], rxID[:]) {
		t.Errorf("announcement address % X, want % X", got[0][:rcp.AddressSize], rxID[:])
	}
	if fp := binary.BigEndian.Uint16(got[0][rcp.AddressSize:]); fp != settings.Fingerprint() {
		t.Errorf("announcement fingerprint 0x%04X, want 0x%04X", fp, settings.Fingerprint())
	}
}

func TestReceiverConnect_Replies(t *testing.T) {
	tests := []struct {
		name  string
		reply byte
		want  error
	}{
		{"nack", rcp.NACK, rcp.ErrConnectionRefused},
		{"mismatch", rcp.Mismatch, rcp.ErrBadData},
		{"garbage", 0x42, rcp.ErrBadData},
		{"ack without confirmation", rcp.ACK, rcp.ErrLostConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ether := radiosim.NewEther()
			clock := newManualClock()
			rxRadio := ether.NewRadio("rx")
			rx := rcp.NewReceiver(rxRadio, rxID, rcp.WithClock(clock))
			rx.Begin(rcp.DefaultSettings())

			tx := listeningTransmitter(ether)
			clock.onSleep = replyOnce(tx, tt.reply)

			if err := rx.Connect(txID); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if rx.State() != rcp.StateDisconnected {
				t.Errorf("expected DISCONNECTED, got %s", rx.State())
			}
			if rxRadio.Listening() {
				t.Error("radio left listening after failed connect")
			}
		})
	}
}

func TestReceiverConnect_FailedConfirmLeavesNoTestByte(t *testing.T) {
	s := rcp.DefaultSettings()
	ether := radiosim.NewEther()
	rxClock := newManualClock()
	rx := rcp.NewReceiver(ether.NewRadio("rx"), rxID, rcp.WithClock(rxClock))
	rx.Begin(s)

	// The peer ACKs the announcement, then never sends its test byte
	peer := listeningTransmitter(ether)
	rxClock.onSleep = replyOnce(peer, rcp.ACK)
	if err := rx.Connect(txID); !errors.Is(err, rcp.ErrLostConnection) {
		t.Fatalf("expected ErrLostConnection, got %v", err)
	}
	rxClock.onSleep = nil
	ether.Detach(peer)

	tx := rcp.NewTransmitter(ether.NewRadio("tx2"), txID, rcp.WithClock(newManualClock()))
	if err := tx.Begin(); err != nil {
		t.Fatalf("transmitter Begin failed: %v", err)
	}
	if err := rx.Resume(txID); err != nil {
		t.Fatalf("receiver Resume failed: %v", err)
	}
	if err := tx.Resume(rxID, s); err != nil {
		t.Fatalf("transmitter Resume failed: %v", err)
	}
	if _, err := rx.Update(nil, nil); err != nil {
		t.Fatalf("receiver Update failed: %v", err)
	}

	back := []byte{0xEE}
	result, err := tx.Update(make([]uint16, 8), back)
	if err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	if result != rcp.ResultIdle || back[0] != 0xEE {
		t.Errorf("first tick: result %s, telemetry 0x%02X; want IDLE, 0xEE",
			rcp.FormatResult(result), back[0])
	}
}

func TestReceiverConnect_TearsDownLiveSession(t *testing.T) {
	rx, _, _, _ := connectedPair(t, rcp.DefaultSettings())
	if !rx.IsConnected() {
		t.Fatal("setup: receiver should be connected")
	}
	// Nobody answers; the previous session is gone regardless
	if err := rx.Connect(txID); err == nil {
		t.Fatal("expected connect failure with no transmitter listening")
	}
	if rx.IsConnected() {
		t.Error("connect must tear down the previous session")
	}
	if _, ok := rx.Peer(); ok {
		t.Error("peer should be cleared")
	}
}

// ============================================================
// Transmitter Handshake Tests
// ============================================================

func TestTransmitterPair_Timeout(t *testing.T) {
	ether := radiosim.NewEther()
	tx := rcp.NewTransmitter(ether.NewRadio("tx"), txID, rcp.WithClock(newManualClock()))
	tx.Begin()

	_, err := tx.Pair(func(rcp.Address, []byte) error { return nil })
	if !errors.Is(err, rcp.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if tx.State() != rcp.StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", tx.State())
	}
}

func TestTransmitterPair_BadSettings(t *testing.T) {
	ether := radiosim.NewEther()
	clock := newManualClock()
	txRadio := ether.NewRadio("tx")
	tx := rcp.NewTransmitter(txRadio, txID, rcp.WithClock(clock))
	tx.Begin()

	rx := peerRadio(ether, "rx", rcp.PairingSettings())
	rx.OpenReadingPipe(1, rcp.PairAddress)
	rx.StartListening()

	sent := false
	clock.onSleep = func() {
		if sent || !txRadio.Listening() {
			return
		}
		readAll(rx)
		rx.StopListening()
		rx.OpenWritingPipe(txID)
		rx.Write(rxID[:])
		rx.Write(bytes.Repeat([]byte{0xAB}, rcp.SettingsSize))
		sent = true
	}

	saved := false
	_, err := tx.Pair(func(rcp.Address, []byte) error { saved = true; return nil })
	if !errors.Is(err, rcp.ErrBadData) {
		t.Fatalf("expected ErrBadData, got %v", err)
	}
	if saved {
		t.Error("corrupt settings must not be saved")
	}
}

func TestTransmitterConnect_Timeout(t *testing.T) {
	ether := radiosim.NewEther()
	tx := rcp.NewTransmitter(ether.NewRadio("tx"), txID, rcp.WithClock(newManualClock()))
	tx.Begin()

	_, err := tx.Connect(func(rcp.Address) ([]byte, error) { return nil, rcp.ErrNoRecord })
	if !errors.Is(err, rcp.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if tx.State() != rcp.StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", tx.State())
	}
}

func TestTransmitterConnect_RefusesUnpaired(t *testing.T) {
	ether := radiosim.NewEther()
	clock := newManualClock()
	tx := rcp.NewTransmitter(ether.NewRadio("tx"), txID, rcp.WithClock(clock))
	tx.Begin()

	rx := peerRadio(ether, "rx", rcp.PairingSettings())
	rx.OpenWritingPipe(txID)
	rx.OpenReadingPipe(1, rxID)

	announced := false
	clock.onSleep = func() {
		if announced {
			return
		}
		rx.Write(rxID[:])
		rx.StartListening()
		announced = true
	}

	var looked rcp.Address
	_, err := tx.Connect(func(peer rcp.Address) ([]byte, error) {
		looked = peer
		return nil, rcp.ErrNoRecord
	})
	if !errors.Is(err, rcp.ErrConnectionRefused) {
		t.Fatalf("expected ErrConnectionRefused, got %v", err)
	}
	if looked != rxID {
		t.Errorf("looked up %v, want %v", looked, rxID)
	}

	got := readAll(rx)
	if len(got) != 1 || got[0][0] != rcp.NACK {
		t.Errorf("expected a single NACK at the receiver, got %v", got)
	}
}

func TestTransmitterConnect_FingerprintMismatch(t *testing.T) {
	ether := radiosim.NewEther()
	clock := newManualClock()
	tx := rcp.NewTransmitter(ether.NewRadio("tx"), txID, rcp.WithClock(clock))
	tx.Begin()

	rx := peerRadio(ether, "rx", rcp.PairingSettings())
	rx.OpenWritingPipe(txID)
	rx.OpenReadingPipe(1, rxID)

	current := rcp.DefaultSettings()
	current.ChannelCount = 6
	announce := make([]byte, rcp.AddressSize+2)
	copy(announce, rxID[:])
	binary.BigEndian.PutUint16(announce[rcp.AddressSize:], current.Fingerprint())

	announced := false
	clock.onSleep = func() {
		if announced {
			return
		}
		rx.Write(announce)
		rx.StartListening()
		announced = true
	}

	stored, _ := rcp.EncodeSettings(rcp.DefaultSettings())
	_, err := tx.Connect(func(rcp.Address) ([]byte, error) { return stored, nil })
	if !errors.Is(err, rcp.ErrBadData) {
		t.Fatalf("expected ErrBadData, got %v", err)
	}
	got := readAll(rx)
	if len(got) != 1 || got[0][0] != rcp.Mismatch {
		t.Errorf("expected a single MISMATCH at the receiver, got %v", got)
	}
}

func TestTransmitterAlreadyConnected(t *testing.T) {
	_, tx, _, _ := connectedPair(t, rcp.DefaultSettings())

	if _, err := tx.Connect(func(rcp.Address) ([]byte, error) { return nil, nil }); !errors.Is(err, rcp.ErrAlreadyConnected) {
		t.Errorf("Connect: expected ErrAlreadyConnected, got %v", err)
	}
	if _, err := tx.Pair(func(rcp.Address, []byte) error { return nil }); !errors.Is(err, rcp.ErrAlreadyConnected) {
		t.Errorf("Pair: expected ErrAlreadyConnected, got %v", err)
	}
	if !tx.IsConnected() {
		t.Error("rejected calls must not drop the session")
	}
}

func TestTransmitterResume_NoReceiver(t *testing.T) {
	ether := radiosim.NewEther()
	tx := rcp.NewTransmitter(ether.NewRadio("tx"), txID, rcp.WithClock(newManualClock()))
	tx.Begin()

	if err := tx.Resume(rxID, rcp.DefaultSettings()); !errors.Is(err, rcp.ErrLostConnection) {
		t.Fatalf("expected ErrLostConnection, got %v", err)
	}
	if tx.IsConnected() {
		t.Error("transmitter should stay disconnected")
	}
}

// ============================================================
// Update Tests
// ============================================================

func TestReceiverIdleUpdate(t *testing.T) {
	rx, _, _, _ := connectedPair(t, rcp.DefaultSettings())

	channels := []uint16{1, 2, 3, 4, 5, 6, 7, 8}
	result, err := rx.Update(channels, nil)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if result != rcp.ResultIdle {
		t.Errorf("expected IDLE, got %s", rcp.FormatResult(result))
	}
	if !rx.IsConnected() {
		t.Error("idle update must not change state")
	}
	if channels[0] != 1 || channels[7] != 8 {
		t.Error("idle update must not touch channels")
	}
}

func TestUpdate_ChannelsAndTelemetry(t *testing.T) {
	rx, tx, _, _ := connectedPair(t, rcp.DefaultSettings())

	sent := []uint16{1000, 1500, 2000, 0, 65535, 1, 2, 3}
	telemetry := bytes.Repeat([]byte{0x77}, 32)

	// Nothing is queued at the receiver yet
	first := bytes.Repeat([]byte{0xEE}, 32)
	result, err := tx.Update(sent, first)
	if err != nil || result != rcp.ResultIdle {
		t.Fatalf("first tick: result %s, err %v", rcp.FormatResult(result), err)
	}
	if !bytes.Equal(first, bytes.Repeat([]byte{0xEE}, 32)) {
		t.Errorf("first tick wrote telemetry: % X", first)
	}

	got := make([]uint16, 8)
	result, err = rx.Update(got, telemetry)
	if err != nil || result != rcp.ResultUpdated {
		t.Fatalf("receiver update: result %s, err %v", rcp.FormatResult(result), err)
	}
	for i := range sent {
		if got[i] != sent[i] {
			t.Errorf("channel %d: want %d, got %d", i, sent[i], got[i])
		}
	}

	// Telemetry rides on the ack of the next packet
	back := make([]byte, 32)
	result, err = tx.Update(sent, back)
	if err != nil || result != rcp.ResultUpdated {
		t.Fatalf("second tick: result %s, err %v", rcp.FormatResult(result), err)
	}
	if !bytes.Equal(back, telemetry) {
		t.Errorf("telemetry mismatch: got % X", back)
	}
}

func TestUpdate_NoAckPayloadLeavesTelemetry(t *testing.T) {
	rx, tx, _, _ := connectedPair(t, settingsWith(true, false))

	for i := 0; i < 2; i++ {
		back := []byte{0xEE}
		result, err := tx.Update([]uint16{1, 2, 3, 4, 5, 6, 7, 8}, back)
		if err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
		if result != rcp.ResultIdle {
			t.Errorf("tick %d: expected IDLE without telemetry, got %s", i, rcp.FormatResult(result))
		}
		if back[0] != 0xEE {
			t.Errorf("tick %d: telemetry overwritten without ack payloads", i)
		}
		if _, err := rx.Update(make([]uint16, 8), []byte{0x11}); err != nil {
			t.Fatalf("receiver update failed: %v", err)
		}
	}
}

func TestTransmitterUpdate_IdleWithoutTelemetry(t *testing.T) {
	rx, tx, _, _ := connectedPair(t, rcp.DefaultSettings())

	for i := 0; i < 3; i++ {
		back := []byte{0xEE}
		result, err := tx.Update([]uint16{1, 2, 3, 4, 5, 6, 7, 8}, back)
		if err != nil {
			t.Fatalf("tick %d failed: %v", i, err)
		}
		if result != rcp.ResultIdle || back[0] != 0xEE {
			t.Errorf("tick %d: result %s, telemetry 0x%02X; want IDLE, 0xEE",
				i, rcp.FormatResult(result), back[0])
		}
		// The receiver drains without queuing telemetry
		if _, err := rx.Update(make([]uint16, 8), nil); err != nil {
			t.Fatalf("receiver update failed: %v", err)
		}
	}
}

func TestReceiverUpdate_DrainsAll(t *testing.T) {
	rx, _, ether, _ := connectedPair(t, rcp.DefaultSettings())

	// Three packets arrive before the receiver gets to run
	s := rx.Settings()
	radio := ether.NewRadio("extra")
	radio.Begin()
	radio.Configure(s)
	radio.OpenWritingPipe(rxID)
	for i := uint16(1); i <= 3; i++ {
		buf, _ := rcp.EncodePacket(rcp.NewChannelsPacket([]uint16{i, i, i, i, i, i, i, i}), int(s.PayloadSize))
		if !radio.Write(buf) {
			t.Fatalf("write %d not delivered", i)
		}
	}

	got := make([]uint16, 8)
	result, err := rx.Update(got, nil)
	if err != nil || result != rcp.ResultUpdated {
		t.Fatalf("result %s, err %v", rcp.FormatResult(result), err)
	}
	if got[0] != 3 {
		t.Errorf("expected the newest values after draining, got %d", got[0])
	}
	if result, _ := rx.Update(got, nil); result != rcp.ResultIdle {
		t.Errorf("expected queue empty after drain, got %s", rcp.FormatResult(result))
	}
}

func TestTransmitterUpdate_PacketNotSent(t *testing.T) {
	_, tx, ether, _ := connectedPair(t, rcp.DefaultSettings())
	ether.SetDrop(func(from, to *radiosim.Radio, payload []byte) bool { return true })

	_, err := tx.Update(make([]uint16, 8), nil)
	if !errors.Is(err, rcp.ErrPacketNotSent) {
		t.Fatalf("expected ErrPacketNotSent, got %v", err)
	}
	if rcp.CodeOf(err) != -22 {
		t.Errorf("expected code -22, got %d", rcp.CodeOf(err))
	}
	if !tx.IsConnected() {
		t.Error("a lost packet must not end the session")
	}
}

// ============================================================
// Tick Enforcement Tests
// ============================================================

func TestTransmitterUpdate_TickEnforcement(t *testing.T) {
	s := rcp.DefaultSettings()
	rx, tx, _, clock := connectedPair(t, s)
	channels := make([]uint16, 8)

	if _, err := tx.Update(channels, nil); err != nil {
		t.Fatalf("first tick failed: %v", err)
	}
	rx.Update(channels, nil)

	// Immediately again: must defer for the full period
	before := clock.Now()
	result, err := tx.Update(channels, nil)
	if err != nil {
		t.Fatalf("second tick failed: %v", err)
	}
	if result != rcp.ResultIdle {
		t.Errorf("expected IDLE, got %s", rcp.FormatResult(result))
	}
	if waited := clock.Now().Sub(before); waited != s.TickPeriod {
		t.Errorf("expected to wait %v, waited %v", s.TickPeriod, waited)
	}
	rx.Update(channels, nil)

	// Part of a period already spent by the caller
	clock.now = clock.now.Add(s.TickPeriod / 4)
	before = clock.Now()
	tx.Update(channels, nil)
	if waited := clock.Now().Sub(before); waited != s.TickPeriod*3/4 {
		t.Errorf("expected to wait %v, waited %v", s.TickPeriod*3/4, waited)
	}
	rx.Update(channels, nil)

	// Late by half a period: absorbed, no sleep and no report
	clock.now = clock.now.Add(s.TickPeriod * 3 / 2)
	before = clock.Now()
	result, err = tx.Update(channels, nil)
	if err != nil {
		t.Fatalf("jittered tick failed: %v", err)
	}
	if result != rcp.ResultIdle {
		t.Errorf("expected IDLE for a jittered tick, got %s", rcp.FormatResult(result))
	}
	if clock.Now() != before {
		t.Error("a late tick must not sleep")
	}
	rx.Update(channels, nil)

	// Exactly two periods: one tick slot went out empty
	clock.now = clock.now.Add(2 * s.TickPeriod)
	if result, _ := tx.Update(channels, nil); result != rcp.ResultTickTooShort {
		t.Errorf("expected TICK_TOO_SHORT at two periods, got %s", rcp.FormatResult(result))
	}
	rx.Update(channels, nil)

	// Caller fell behind by more than a whole period
	clock.now = clock.now.Add(3 * s.TickPeriod)
	before = clock.Now()
	result, err = tx.Update(channels, nil)
	if err != nil {
		t.Fatalf("late tick failed: %v", err)
	}
	if result != rcp.ResultTickTooShort {
		t.Errorf("expected TICK_TOO_SHORT, got %s", rcp.FormatResult(result))
	}
	if clock.Now() != before {
		t.Error("a late tick must not sleep")
	}
	got := make([]uint16, 8)
	if result, _ := rx.Update(got, nil); result != rcp.ResultUpdated {
		t.Error("a late tick must still deliver the packet")
	}
}

// ============================================================
// Disconnect Tests
// ============================================================

func TestDisconnect_AckMode(t *testing.T) {
	rx, tx, _, _ := connectedPair(t, rcp.DefaultSettings())

	if err := tx.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if tx.IsConnected() {
		t.Error("transmitter should be disconnected")
	}

	if !rx.IsConnected() {
		t.Fatal("receiver should not notice before its next update")
	}
	result, err := rx.Update(make([]uint16, 8), nil)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if result != rcp.ResultIdle {
		t.Errorf("expected IDLE, got %s", rcp.FormatResult(result))
	}
	if rx.State() != rcp.StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", rx.State())
	}
}

func TestDisconnect_NoAckModeSendsExplicitAck(t *testing.T) {
	s := settingsWith(false, false)
	rx, tx, _, clock := connectedPair(t, s)

	clock.onSleep = func() {
		if rx.IsConnected() {
			rx.Update(make([]uint16, 8), nil)
		}
	}
	if err := tx.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if rx.State() != rcp.StateDisconnected {
		t.Errorf("receiver expected DISCONNECTED, got %s", rx.State())
	}
}

func TestReceiverDisconnect_ExplicitAckOnlyWithoutAckMode(t *testing.T) {
	tests := []struct {
		name    string
		ack     bool
		wantAck bool
	}{
		{"ack mode", true, false},
		{"no ack mode", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ether := radiosim.NewEther()
			rxRadio := ether.NewRadio("rx")
			rx := rcp.NewReceiver(rxRadio, rxID, rcp.WithClock(newManualClock()))
			s := settingsWith(tt.ack, false)
			rx.Begin(s)
			rx.Resume(txID)

			tx := peerRadio(ether, "tx", s)
			tx.OpenWritingPipe(rxID)
			tx.OpenReadingPipe(1, txID)
			buf, _ := rcp.EncodePacket(rcp.NewDisconnectPacket(), int(s.PayloadSize))
			tx.Write(buf)
			tx.StartListening()

			if _, err := rx.Update(make([]uint16, 8), nil); err != nil {
				t.Fatalf("Update failed: %v", err)
			}
			if rx.State() != rcp.StateDisconnected {
				t.Errorf("expected DISCONNECTED, got %s", rx.State())
			}

			got := readAll(tx)
			gotAck := len(got) == 1 && got[0][0] == rcp.ACK
			if gotAck != tt.wantAck {
				t.Errorf("explicit ACK sent = %v, want %v (payloads %v)", gotAck, tt.wantAck, got)
			}
		})
	}
}

func TestDisconnect_UndeliveredStillTearsDown(t *testing.T) {
	_, tx, ether, _ := connectedPair(t, rcp.DefaultSettings())
	ether.SetDrop(func(from, to *radiosim.Radio, payload []byte) bool { return true })

	if err := tx.Disconnect(); !errors.Is(err, rcp.ErrPacketNotSent) {
		t.Fatalf("expected ErrPacketNotSent, got %v", err)
	}
	if tx.State() != rcp.StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", tx.State())
	}
	if _, ok := tx.Peer(); ok {
		t.Error("peer should be cleared")
	}
}

func TestReconnectKeepAlive(t *testing.T) {
	for _, ack := range []bool{true, false} {
		rx, _, ether, _ := connectedPair(t, settingsWith(ack, false))
		s := rx.Settings()

		tx := ether.NewRadio("probe")
		tx.Begin()
		tx.Configure(s)
		tx.OpenWritingPipe(rxID)
		tx.OpenReadingPipe(1, txID)
		buf, _ := rcp.EncodePacket(rcp.NewReconnectPacket(), int(s.PayloadSize))
		tx.Write(buf)
		tx.StartListening()

		result, err := rx.Update(make([]uint16, 8), nil)
		if err != nil || result != rcp.ResultIdle {
			t.Errorf("ack=%v: result %s, err %v", ack, rcp.FormatResult(result), err)
		}
		if !rx.IsConnected() {
			t.Errorf("ack=%v: reconnect must not change state", ack)
		}
		got := readAll(tx)
		if ack && len(got) != 0 {
			t.Errorf("ack mode should not send explicit ACK, got %v", got)
		}
		if !ack && (len(got) != 1 || got[0][0] != rcp.ACK) {
			t.Errorf("no-ack mode should send one ACK, got %v", got)
		}
	}
}
