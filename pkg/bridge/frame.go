// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"fmt"

	"github.com/Thermoquad/rclink/pkg/rcp"
)

// Frame is one bridge command or response.
type Frame struct {
	Cmd     uint8
	Seq     uint8
	Payload []byte
}

// IsResponse reports whether f answers a request.
func (f Frame) IsResponse() bool {
	return f.Cmd&ResponseFlag != 0
}

// Response builds the response to f with payload.
func (f Frame) Response(payload []byte) Frame {
	return Frame{Cmd: f.Cmd | ResponseFlag, Seq: f.Seq, Payload: payload}
}

// ErrorResponse builds a CmdError response to f.
func (f Frame) ErrorResponse(reason uint8) Frame {
	return Frame{Cmd: CmdError, Seq: f.Seq, Payload: []byte{reason, f.Cmd}}
}

// EncodeFrame creates a complete wire-formatted frame.
// Returns the bytes ready for transmission, including framing and byte stuffing.
func EncodeFrame(f Frame) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, fmt.Errorf("bridge payload too large: %d bytes (max %d)", len(f.Payload), MaxPayloadSize)
	}

	data := make([]byte, 0, frameOverhead+len(f.Payload))
	data = append(data, uint8(len(f.Payload)), f.Cmd, f.Seq)
	data = append(data, f.Payload...)

	crc := rcp.CalculateCRC(data)
	data = append(data, byte(crc>>8), byte(crc&0xFF))

	stuffed := stuffBytes(data)
	out := make([]byte, 0, len(stuffed)+2)
	out = append(out, StartByte)
	out = append(out, stuffed...)
	out = append(out, EndByte)
	return out, nil
}

// stuffBytes escapes the framing bytes.
// Special bytes (START, END, ESC) are replaced with ESC + (byte XOR EscXor).
func stuffBytes(data []byte) []byte {
	result := make([]byte, 0, len(data)*2)
	for _, b := range data {
		if b == StartByte || b == EndByte || b == EscByte {
			result = append(result, EscByte, b^EscXor)
		} else {
			result = append(result, b)
		}
	}
	return result
}

// Decoder implements the bridge frame decoder state machine
type Decoder struct {
	state      int
	buffer     []byte
	escapeNext bool
	frame      Frame
	length     int
	crc        uint16
}

// NewDecoder creates a new frame decoder
func NewDecoder() *Decoder {
	return &Decoder{
		state:  stateIdle,
		buffer: make([]byte, 0, MaxFrameSize),
	}
}

// Reset returns the decoder to idle
func (d *Decoder) Reset() {
	d.state = stateIdle
	d.buffer = d.buffer[:0]
	d.escapeNext = false
	d.frame = Frame{}
	d.length = 0
	d.crc = 0
}

// DecodeByte processes a single byte through the decoder state machine.
// Returns the completed frame and true when b finishes one.
func (d *Decoder) DecodeByte(b byte) (Frame, bool, error) {
	// Unescaped framing bytes always win
	if !d.escapeNext {
		switch b {
		case StartByte:
			d.Reset()
			d.state = stateLength
			return Frame{}, false, nil
		case EndByte:
			return d.finish()
		case EscByte:
			if d.state != stateIdle {
				d.escapeNext = true
			}
			return Frame{}, false, nil
		}
	} else {
		b ^= EscXor
		d.escapeNext = false
	}

	switch d.state {
	case stateIdle:
		return Frame{}, false, nil

	case stateLength:
		if int(b) > MaxPayloadSize {
			d.Reset()
			return Frame{}, false, fmt.Errorf("invalid length: %d (max %d)", b, MaxPayloadSize)
		}
		d.length = int(b)
		d.buffer = append(d.buffer, b)
		d.state = stateCommand

	case stateCommand:
		d.frame.Cmd = b
		d.buffer = append(d.buffer, b)
		d.state = stateSequence

	case stateSequence:
		d.frame.Seq = b
		d.buffer = append(d.buffer, b)
		if d.length == 0 {
			d.state = stateCRC1
		} else {
			d.frame.Payload = make([]byte, 0, d.length)
			d.state = statePayload
		}

	case statePayload:
		d.frame.Payload = append(d.frame.Payload, b)
		d.buffer = append(d.buffer, b)
		if len(d.frame.Payload) >= d.length {
			d.state = stateCRC1
		}

	case stateCRC1:
		d.crc = uint16(b) << 8
		d.state = stateCRC2

	case stateCRC2:
		d.crc |= uint16(b)
		d.state = stateEnd

	case stateEnd:
		d.Reset()
		return Frame{}, false, fmt.Errorf("expected END byte, got 0x%02X", b)
	}
	return Frame{}, false, nil
}

func (d *Decoder) finish() (Frame, bool, error) {
	if d.state == stateIdle {
		return Frame{}, false, nil
	}
	if d.state != stateEnd {
		state := d.state
		d.Reset()
		return Frame{}, false, fmt.Errorf("unexpected END byte in state %d", state)
	}

	calculated := rcp.CalculateCRC(d.buffer)
	if d.crc != calculated {
		got := d.crc
		d.Reset()
		return Frame{}, false, fmt.Errorf("CRC mismatch: expected 0x%04X, got 0x%04X", calculated, got)
	}
	f := d.frame
	d.Reset()
	return f, true, nil
}

// FormatFrame renders a frame for logs and the ping command.
func FormatFrame(f Frame) string {
	name := CommandName(f.Cmd &^ ResponseFlag)
	if f.Cmd == CmdError {
		name = "ERROR"
	} else if f.IsResponse() {
		name += "_RESP"
	}
	return fmt.Sprintf("%s seq=%d len=%d [% X]", name, f.Seq, len(f.Payload), f.Payload)
}

// CommandName returns the human-readable name of a command code
func CommandName(cmd uint8) string {
	switch cmd {
	case CmdPing:
		return "PING"
	case CmdBegin:
		return "BEGIN"
	case CmdConfigure:
		return "CONFIGURE"
	case CmdSetPower:
		return "SET_POWER"
	case CmdOpenReading:
		return "OPEN_READING"
	case CmdOpenWriting:
		return "OPEN_WRITING"
	case CmdStartListening:
		return "START_LISTENING"
	case CmdStopListening:
		return "STOP_LISTENING"
	case CmdWrite:
		return "WRITE"
	case CmdRead:
		return "READ"
	case CmdAvailable:
		return "AVAILABLE"
	case CmdWriteAckPayload:
		return "WRITE_ACK_PAYLOAD"
	case CmdFlushRx:
		return "FLUSH_RX"
	case CmdFlushTx:
		return "FLUSH_TX"
	case CmdError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", cmd)
	}
}
