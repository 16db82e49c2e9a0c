// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

// PowerLevel is the transmit power amplifier setting.
type PowerLevel uint8

const (
	PowerMin PowerLevel = iota
	PowerLow
	PowerHigh
	PowerMax
)

// DataRate is the on-air data rate.
type DataRate uint8

const (
	DataRate1Mbps DataRate = iota
	DataRate2Mbps
	DataRate250Kbps
)

// Radio is the packet radio consumed by the sessions. It follows the nRF24
// model: five-byte pipe addresses, static payloads, optional hardware
// auto-ack with ack payloads, and half-duplex operation where the radio is
// either listening or transmitting.
//
// Implementations are not required to be safe for concurrent use. A session
// borrows the radio exclusively for the duration of each operation.
type Radio interface {
	// Begin powers up the radio and leaves it idle.
	Begin() error

	// Configure applies payload size, ack modes, RF channel, data rate and
	// retry parameters.
	Configure(s Settings)
	SetPowerLevel(level PowerLevel)

	OpenReadingPipe(pipe uint8, addr Address)
	OpenWritingPipe(addr Address)
	StartListening()
	StopListening()

	// Write transmits buf padded to the payload size. With auto-ack it
	// reports whether the peer acknowledged; without it, always true.
	Write(buf []byte) bool

	// Read pops the next received payload into buf and returns the number
	// of bytes copied.
	Read(buf []byte) int

	// Available reports the pipe of the next received payload.
	Available() (pipe uint8, ok bool)

	// WriteAckPayload queues buf to ride on the next ack sent on pipe.
	WriteAckPayload(pipe uint8, buf []byte)

	// FlushRx discards all received payloads.
	FlushRx()

	// FlushTx discards queued ack payloads that no packet has claimed.
	FlushTx()
}
