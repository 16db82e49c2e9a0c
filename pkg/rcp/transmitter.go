// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// LookupFunc returns the settings blob stored for peer, or ErrNoRecord when
// the peer was never paired.
type LookupFunc func(peer Address) ([]byte, error)

// tickOverrunFactor is how many tick periods may pass between two Update
// calls before the late one reports ResultTickTooShort. Below it the call is
// late by less than a whole period, so the receiver still saw one packet per
// tick slot and the delay is treated as scheduler jitter. At or above it at
// least one tick slot went out empty.
const tickOverrunFactor = 2

// Transmitter is the controller side of the link. It initiates pairing,
// answers connect announcements and drives the update tick.
type Transmitter struct {
	session
	lastTick time.Time
}

// NewTransmitter creates a transmitter session identified by id.
func NewTransmitter(radio Radio, id Address, opts ...Option) *Transmitter {
	return &Transmitter{session: newSession(radio, id, "transmitter", opts)}
}

// Begin powers up the radio and leaves it idle.
func (t *Transmitter) Begin() error {
	if err := t.radio.Begin(); err != nil {
		return fmt.Errorf("radio begin: %w", err)
	}
	t.radio.StopListening()
	t.logger.Debug("transmitter ready")
	return nil
}

// Pair announces this transmitter on the pairing address, then receives the
// receiver's address and settings blob and passes both to save.
func (t *Transmitter) Pair(save func(peer Address, blob []byte) error) (Address, error) {
	if t.IsConnected() {
		return Address{}, ErrAlreadyConnected
	}
	defer t.enterHandshake(StatePairing)()

	t.useSettings(PairingSettings())
	t.radio.OpenWritingPipe(PairAddress)
	t.radio.OpenReadingPipe(sessionPipe, t.id)
	t.radio.StopListening()
	t.radio.FlushRx()

	if !t.forceSend(t.id[:], t.timing.Timeout) {
		return Address{}, fmt.Errorf("%w: no receiver on the pairing address", ErrTimeout)
	}

	t.radio.StartListening()
	defer t.radio.StopListening()

	if !t.waitAvailable(t.timing.ConnectTimeout) {
		return Address{}, fmt.Errorf("%w: receiver address not received", ErrLostConnection)
	}
	buf := make([]byte, AddressSize)
	t.radio.Read(buf)
	peer := AddressFrom(buf)

	if !t.waitAvailable(t.timing.ConnectTimeout) {
		return Address{}, fmt.Errorf("%w: settings not received", ErrLostConnection)
	}
	blob := make([]byte, SettingsSize)
	t.radio.Read(blob)

	settings, err := DecodeSettings(blob)
	if err != nil {
		return Address{}, err
	}
	if err := save(peer, blob); err != nil {
		return Address{}, fmt.Errorf("save settings: %w", err)
	}

	t.logger.Info("paired", "peer", peer.String(),
		"payload_size", settings.PayloadSize, "channels", settings.ChannelCount)
	return peer, nil
}

// Connect waits for a paired receiver to announce itself and completes the
// handshake. lookup supplies the settings saved for the announcing peer.
func (t *Transmitter) Connect(lookup LookupFunc) (Address, error) {
	if t.IsConnected() {
		return Address{}, ErrAlreadyConnected
	}
	defer t.enterHandshake(StateConnecting)()

	t.useSettings(PairingSettings())
	t.radio.OpenReadingPipe(sessionPipe, t.id)
	t.radio.FlushRx()
	t.radio.StartListening()

	if !t.waitAvailable(t.timing.Timeout) {
		t.radio.StopListening()
		return Address{}, fmt.Errorf("%w: no receiver announcement", ErrTimeout)
	}
	announce := make([]byte, AddressSize+2)
	t.radio.Read(announce)
	t.radio.StopListening()

	peer := AddressFrom(announce)
	t.radio.OpenWritingPipe(peer)
	t.logger.Debug("announcement", "peer", peer.String())

	blob, err := lookup(peer)
	if err != nil {
		t.clock.Sleep(t.timing.ReplySettle)
		t.forceSend([]byte{NACK}, t.timing.ConnectTimeout)
		if errors.Is(err, ErrNoRecord) {
			t.logger.Warn("refused unpaired receiver", "peer", peer.String())
			return Address{}, fmt.Errorf("%w: %s is not paired", ErrConnectionRefused, peer)
		}
		return Address{}, fmt.Errorf("%w: lookup %s: %v", ErrConnectionRefused, peer, err)
	}

	settings, err := DecodeSettings(blob)
	if err == nil && blobFingerprint(blob) != binary.BigEndian.Uint16(announce[AddressSize:]) {
		err = fmt.Errorf("%w: settings of %s changed since pairing", ErrBadData, peer)
	}
	if err != nil {
		t.clock.Sleep(t.timing.ReplySettle)
		t.forceSend([]byte{Mismatch}, t.timing.ConnectTimeout)
		return Address{}, err
	}

	t.clock.Sleep(t.timing.ReplySettle)
	if !t.forceSend([]byte{ACK}, t.timing.ConnectTimeout) {
		return Address{}, fmt.Errorf("%w: ACK not acknowledged", ErrLostConnection)
	}

	t.useSettings(settings)
	t.clock.Sleep(t.timing.ReplySettle)
	if err := t.confirm(settings); err != nil {
		t.radio.StopListening()
		return Address{}, err
	}

	// Acks of the handshake must not surface as telemetry on the first tick.
	t.radio.FlushRx()
	t.settings = settings
	t.peer = peer
	t.lastTick = time.Time{}
	t.state = StateConnected
	t.logger.Info("connected", "peer", peer.String())
	return peer, nil
}

// confirm exchanges the test byte under the negotiated ack mode.
func (t *Transmitter) confirm(s Settings) error {
	switch {
	case s.EnableAck && s.EnableAckPayload:
		if !t.forceSend([]byte{TestByte}, t.timing.ConnectTimeout) {
			return fmt.Errorf("%w: test byte not acknowledged", ErrLostConnection)
		}
		if _, ok := t.radio.Available(); !ok {
			return fmt.Errorf("%w: no test byte in ack payload", ErrLostConnection)
		}
		if b := t.readByte(); b != TestByte {
			return fmt.Errorf("%w: test byte 0x%02X", ErrBadData, b)
		}

	case s.EnableAck:
		if !t.forceSend([]byte{TestByte}, t.timing.ConnectTimeout) {
			return fmt.Errorf("%w: test byte not acknowledged", ErrLostConnection)
		}

	default:
		t.radio.Write([]byte{TestByte})
		t.radio.StartListening()
		defer t.radio.StopListening()
		if !t.waitAvailable(t.timing.ConnectTimeout) {
			return fmt.Errorf("%w: no test byte reply", ErrLostConnection)
		}
		if b := t.readByte(); b != TestByte {
			return fmt.Errorf("%w: test byte 0x%02X", ErrBadData, b)
		}
	}
	return nil
}

// Resume restores a session with a previously connected receiver after a
// restart and probes it with a Reconnect packet.
func (t *Transmitter) Resume(peer Address, settings Settings) error {
	if t.IsConnected() {
		return ErrAlreadyConnected
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	t.useSettings(settings)
	t.radio.OpenReadingPipe(sessionPipe, t.id)
	t.radio.OpenWritingPipe(peer)
	t.radio.StopListening()
	t.radio.FlushRx()
	t.settings = settings

	if !t.sendControl(NewReconnectPacket()) {
		return fmt.Errorf("%w: %s did not answer reconnect", ErrLostConnection, peer)
	}
	t.radio.FlushRx()

	t.peer = peer
	t.lastTick = time.Time{}
	t.state = StateConnected
	t.logger.Info("resumed", "peer", peer.String())
	return nil
}

// Update sends channels to the receiver once per tick period. It returns
// ResultUpdated only when telemetry came back on the ack and was copied into
// telemetry; a packet that went out without telemetry returns ResultIdle and
// leaves telemetry untouched.
//
// Calls arriving before the tick period has elapsed sleep for the remainder.
// Calls arriving tickOverrunFactor periods or more after the previous one
// report ResultTickTooShort (the exchange still happens).
func (t *Transmitter) Update(channels []uint16, telemetry []byte) (Result, error) {
	if !t.IsConnected() {
		return ResultIdle, ErrNotConnected
	}

	result := ResultIdle
	now := t.clock.Now()
	if !t.lastTick.IsZero() {
		elapsed := now.Sub(t.lastTick)
		switch {
		case elapsed < t.settings.TickPeriod:
			t.clock.Sleep(t.settings.TickPeriod - elapsed)
			now = t.clock.Now()
		case elapsed >= tickOverrunFactor*t.settings.TickPeriod:
			result = ResultTickTooShort
		}
	}
	t.lastTick = now

	if n := int(t.settings.ChannelCount); len(channels) > n {
		channels = channels[:n]
	}
	packet, err := EncodePacket(NewChannelsPacket(channels), int(t.settings.PayloadSize))
	if err != nil {
		return ResultIdle, err
	}

	if !t.radio.Write(packet) && t.settings.EnableAck {
		return result, ErrPacketNotSent
	}

	if t.settings.EnableAckPayload {
		if _, ok := t.radio.Available(); ok {
			t.radio.Read(telemetry)
			if result == ResultIdle {
				result = ResultUpdated
			}
		}
	}
	return result, nil
}

// Disconnect tells the receiver the session is over and tears down the
// local state. The session ends even when the Disconnect packet is not
// delivered, in which case ErrPacketNotSent is returned.
func (t *Transmitter) Disconnect() error {
	if !t.IsConnected() {
		return ErrNotConnected
	}

	sent := t.sendControl(NewDisconnectPacket())
	peer := t.peer
	t.teardown()
	t.radio.StopListening()

	if !sent {
		t.logger.Warn("disconnect not acknowledged", "peer", peer.String())
		return ErrPacketNotSent
	}
	t.logger.Info("disconnected", "peer", peer.String())
	return nil
}

// sendControl sends a Disconnect or Reconnect packet. Without hardware acks
// the receiver answers with an explicit ACK byte.
func (t *Transmitter) sendControl(p Packet) bool {
	packet, err := EncodePacket(p, int(t.settings.PayloadSize))
	if err != nil {
		return false
	}

	if t.settings.EnableAck {
		return t.forceSend(packet, t.timing.ConnectTimeout)
	}

	t.radio.FlushRx()
	t.radio.Write(packet)
	t.radio.StartListening()
	defer t.radio.StopListening()
	if !t.waitAvailable(t.timing.ConnectTimeout) {
		return false
	}
	return t.readByte() == ACK
}
