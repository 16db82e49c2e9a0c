// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"encoding/binary"
	"fmt"
)

// PacketType is the tag carried in the high nibble of a packet's first byte.
type PacketType uint8

// Packet is a decoded session packet.
type Packet struct {
	Type     PacketType
	Channels []uint16 // Channels packets only
}

// NewChannelsPacket creates a Channels packet carrying values.
func NewChannelsPacket(values []uint16) Packet {
	return Packet{Type: PacketChannels, Channels: values}
}

// NewDisconnectPacket creates a Disconnect packet.
func NewDisconnectPacket() Packet {
	return Packet{Type: PacketDisconnect}
}

// NewReconnectPacket creates a Reconnect keep-alive packet.
func NewReconnectPacket() Packet {
	return Packet{Type: PacketReconnect}
}

// EncodePacket encodes p into exactly payloadSize bytes.
func EncodePacket(p Packet, payloadSize int) ([]byte, error) {
	if payloadSize < 1 || payloadSize > MaxPayloadSize {
		return nil, fmt.Errorf("payload size %d out of range (1-%d)", payloadSize, MaxPayloadSize)
	}

	buf := make([]byte, payloadSize)
	buf[0] = byte(p.Type)

	switch p.Type {
	case PacketChannels:
		if need := 1 + 2*len(p.Channels); need > payloadSize {
			return nil, fmt.Errorf("%d channels need %d bytes (payload size %d)", len(p.Channels), need, payloadSize)
		}
		for i, v := range p.Channels {
			binary.BigEndian.PutUint16(buf[1+2*i:], v)
		}
	case PacketDisconnect, PacketReconnect:
	default:
		return nil, fmt.Errorf("cannot encode packet type 0x%02X", byte(p.Type))
	}

	return buf, nil
}

// DecodePacket decodes a session packet. Channels packets yield exactly
// channelCount values read big-endian from byte 1.
func DecodePacket(buf []byte, channelCount int) (Packet, error) {
	if len(buf) == 0 {
		return Packet{}, fmt.Errorf("%w: empty packet", ErrBadData)
	}

	p := Packet{Type: PacketType(buf[0] & packetTypeMask)}
	switch p.Type {
	case PacketChannels:
		if need := 1 + 2*channelCount; len(buf) < need {
			return Packet{}, fmt.Errorf("%w: channels packet too short: %d bytes (need %d)", ErrBadData, len(buf), need)
		}
		p.Channels = make([]uint16, channelCount)
		for i := range p.Channels {
			p.Channels[i] = binary.BigEndian.Uint16(buf[1+2*i:])
		}
	case PacketDisconnect, PacketReconnect:
	default:
		return Packet{}, fmt.Errorf("%w: unknown packet type 0x%02X", ErrBadData, buf[0])
	}

	return p, nil
}
