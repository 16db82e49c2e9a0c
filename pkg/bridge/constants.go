// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge drives an nRF24 radio attached to a USB or network bridge
// dongle. Commands travel in byte-stuffed, CRC-protected frames; Radio is the
// host side and implements rcp.Radio, Emulator is the dongle side and serves
// any rcp.Radio.
package bridge

import "errors"

// Framing bytes
const (
	StartByte = 0x7E
	EndByte   = 0x7F
	EscByte   = 0x7D
	EscXor    = 0x20
)

// Frame size limits
const (
	MaxPayloadSize = 64
	frameOverhead  = 5 // len, cmd, seq, crcHi, crcLo
	MaxFrameSize   = frameOverhead + MaxPayloadSize
)

// Command codes. A response carries the command code with ResponseFlag set
// and the sequence number of the request.
const (
	CmdPing            = 0x01
	CmdBegin           = 0x02
	CmdConfigure       = 0x03
	CmdSetPower        = 0x04
	CmdOpenReading     = 0x05
	CmdOpenWriting     = 0x06
	CmdStartListening  = 0x07
	CmdStopListening   = 0x08
	CmdWrite           = 0x09
	CmdRead            = 0x0A
	CmdAvailable       = 0x0B
	CmdWriteAckPayload = 0x0C
	CmdFlushRx         = 0x0D
	CmdFlushTx         = 0x0E

	ResponseFlag = 0x80
	CmdError     = 0xEE
)

// Error reasons carried in a CmdError payload
const (
	ReasonUnknownCommand = 0x01
	ReasonBadPayload     = 0x02
	ReasonRadio          = 0x03
)

// Decoder states (internal)
const (
	stateIdle = iota
	stateLength
	stateCommand
	stateSequence
	statePayload
	stateCRC1
	stateCRC2
	stateEnd
)

var (
	// ErrConnectionClosed is returned when reading from a closed connection.
	ErrConnectionClosed = errors.New("bridge connection closed")

	// ErrNoResponse is returned when the dongle does not answer in time.
	ErrNoResponse = errors.New("bridge did not respond")
)
