// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"encoding/binary"
	"fmt"
)

// Receiver is the controlled-device side of the link. It answers the
// handshake and listens passively once connected, optionally returning
// telemetry in ack payloads.
type Receiver struct {
	session
}

// NewReceiver creates a receiver session identified by id.
func NewReceiver(radio Radio, id Address, opts ...Option) *Receiver {
	return &Receiver{session: newSession(radio, id, "receiver", opts)}
}

// Begin applies settings and leaves the radio idle.
func (r *Receiver) Begin(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := r.radio.Begin(); err != nil {
		return fmt.Errorf("radio begin: %w", err)
	}
	r.settings = settings
	r.radio.StopListening()
	r.logger.Debug("receiver ready", "payload_size", settings.PayloadSize, "channels", settings.ChannelCount)
	return nil
}

// Pair waits on the pairing address for a transmitter to announce itself,
// passes its address to save, then replies with this receiver's address and
// the encoded settings. Pairing does not connect.
func (r *Receiver) Pair(save func(peer Address) error) error {
	if r.IsConnected() {
		return ErrAlreadyConnected
	}
	blob, err := EncodeSettings(r.settings)
	if err != nil {
		return err
	}
	defer r.enterHandshake(StatePairing)()

	r.useSettings(PairingSettings())
	r.radio.OpenReadingPipe(sessionPipe, PairAddress)
	r.radio.FlushRx()
	r.radio.StartListening()

	if !r.waitAvailable(r.timing.Timeout) {
		r.radio.StopListening()
		return fmt.Errorf("%w: no pairing announcement", ErrTimeout)
	}

	buf := make([]byte, AddressSize)
	r.radio.Read(buf)
	peer := AddressFrom(buf)
	r.radio.StopListening()
	r.logger.Info("pairing request", "peer", peer.String())

	if err := save(peer); err != nil {
		return fmt.Errorf("save peer address: %w", err)
	}

	r.radio.OpenWritingPipe(peer)
	r.clock.Sleep(r.timing.PairSettle)
	if !r.radio.Write(r.id[:]) {
		return fmt.Errorf("%w: address not acknowledged", ErrLostConnection)
	}

	r.clock.Sleep(r.timing.PairSettle)
	if !r.radio.Write(blob) {
		return fmt.Errorf("%w: settings not acknowledged", ErrLostConnection)
	}

	r.logger.Info("paired", "peer", peer.String())
	return nil
}

// Connect runs the responder side of the connect handshake with peer. Any
// live session is torn down first.
func (r *Receiver) Connect(peer Address) error {
	r.teardown()
	if err := r.settings.Validate(); err != nil {
		return err
	}
	defer r.enterHandshake(StateConnecting)()

	r.useSettings(PairingSettings())
	r.radio.OpenWritingPipe(peer)
	r.radio.OpenReadingPipe(sessionPipe, r.id)
	r.radio.FlushRx()
	r.radio.FlushTx()
	r.radio.StopListening()

	announce := make([]byte, AddressSize+2)
	copy(announce, r.id[:])
	binary.BigEndian.PutUint16(announce[AddressSize:], r.settings.Fingerprint())
	if !r.forceSend(announce, r.timing.Timeout) {
		return fmt.Errorf("%w: announcement to %s not acknowledged", ErrTimeout, peer)
	}

	r.radio.StartListening()
	if !r.waitAvailable(r.timing.ConnectTimeout) {
		r.radio.StopListening()
		return fmt.Errorf("%w: no reply to announcement", ErrLostConnection)
	}
	reply := r.readByte()
	r.radio.StopListening()

	switch reply {
	case ACK:
	case NACK:
		return ErrConnectionRefused
	default:
		return fmt.Errorf("%w: unexpected reply 0x%02X", ErrBadData, reply)
	}

	r.useSettings(r.settings)
	if err := r.confirm(); err != nil {
		r.radio.StopListening()
		// An unclaimed test byte would ride on the next session's first ack.
		r.radio.FlushTx()
		return err
	}

	r.peer = peer
	r.state = StateConnected
	r.logger.Info("connected", "peer", peer.String())
	return nil
}

// confirm exchanges the test byte under the negotiated ack mode and leaves
// the radio listening.
func (r *Receiver) confirm() error {
	ackPayload := r.settings.EnableAck && r.settings.EnableAckPayload
	if ackPayload {
		r.radio.WriteAckPayload(sessionPipe, []byte{TestByte})
	}
	r.radio.StartListening()

	if !r.waitAvailable(r.timing.ConnectTimeout) {
		return fmt.Errorf("%w: no test byte", ErrLostConnection)
	}
	if b := r.readByte(); b != TestByte {
		return fmt.Errorf("%w: test byte 0x%02X", ErrBadData, b)
	}

	if !r.settings.EnableAck {
		r.writeByte(TestByte, r.timing.ReplySettle)
	}
	return nil
}

// Resume re-enters the connected state with peer without a handshake, for a
// receiver that restarted while its transmitter stayed connected.
func (r *Receiver) Resume(peer Address) error {
	r.teardown()
	if err := r.settings.Validate(); err != nil {
		return err
	}
	r.useSettings(r.settings)
	r.radio.OpenWritingPipe(peer)
	r.radio.OpenReadingPipe(sessionPipe, r.id)
	r.radio.FlushRx()
	r.radio.FlushTx()
	r.radio.StartListening()

	r.peer = peer
	r.state = StateConnected
	r.logger.Info("resumed", "peer", peer.String())
	return nil
}

// Update drains every buffered packet. Channels packets are decoded into
// channels; telemetry rides on the ack of each packet when ack payloads are
// enabled. Returns ResultUpdated when at least one Channels packet arrived.
//
// A Disconnect packet ends the session and stops the drain.
func (r *Receiver) Update(channels []uint16, telemetry []byte) (Result, error) {
	if !r.IsConnected() {
		return ResultIdle, ErrNotConnected
	}

	result := ResultIdle
	packet := make([]byte, r.settings.PayloadSize)
	ackPayload := r.settings.EnableAck && r.settings.EnableAckPayload

	for {
		pipe, ok := r.radio.Available()
		if !ok {
			return result, nil
		}
		r.radio.Read(packet)
		if ackPayload && telemetry != nil {
			r.radio.WriteAckPayload(pipe, telemetry)
		}

		p, err := DecodePacket(packet, int(r.settings.ChannelCount))
		if err != nil {
			r.logger.Debug("dropped packet", "error", err)
			continue
		}

		switch p.Type {
		case PacketChannels:
			copy(channels, p.Channels)
			result = ResultUpdated

		case PacketDisconnect:
			if !r.settings.EnableAck {
				r.writeByte(ACK, r.timing.DisconnectSettle)
			}
			r.logger.Info("peer disconnected", "peer", r.peer.String())
			r.teardown()
			r.radio.StopListening()
			return result, nil

		case PacketReconnect:
			if !r.settings.EnableAck {
				r.writeByte(ACK, r.timing.ReconnectSettle)
			}
			r.logger.Debug("reconnect keep-alive", "peer", r.peer.String())
		}
	}
}
