// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package rcp implements the RC link protocol: a point-to-point control link
// between a transmitter (controller) and a receiver (controlled device) over
// an nRF24-style packet radio.
//
// The package provides the 32-byte session settings record, the packet
// codec, and the two session state machines. The radio and the persistence
// layer are collaborators supplied by the caller through the Radio and Store
// interfaces.
package rcp

// Size limits
const (
	AddressSize    = 5
	SettingsSize   = 32
	MaxPayloadSize = 32
)

// Control bytes exchanged during the handshake
const (
	ACK      = 0x06
	NACK     = 0x15
	TestByte = 0x5A
	Mismatch = 0x1A // stored settings differ from the receiver's
)

// PairAddress is the well-known reading pipe address used while pairing.
var PairAddress = Address{'R', 'C', 'P', 'A', 'R'}

// Packet type tags (high nibble of byte 0)
const (
	PacketData       PacketType = 0x00
	PacketChannels   PacketType = 0x10
	PacketDisconnect PacketType = 0x20
	PacketReconnect  PacketType = 0x30

	packetTypeMask = 0xF0
)

// Reading pipe used for session traffic. Pipe 0 is reserved for acks.
const sessionPipe = 1

// CRC-16-CCITT configuration
const (
	crcPolynomial = 0x1021
	crcInitial    = 0xFFFF
)

// Settings blob layout
const (
	settingsVersion = 1

	offVersion      = 0
	offPayloadSize  = 1
	offChannelCount = 2
	offFlags        = 3
	offTickPeriod   = 4
	offPowerLevel   = 8
	offRFChannel    = 9
	offDataRate     = 10
	offRetryDelay   = 11
	offRetryCount   = 12
	offCRC          = 30

	flagAck        = 0x01
	flagAckPayload = 0x02
)

// Radio limits
const (
	MaxRFChannel = 125
	MaxRetry     = 15
)
