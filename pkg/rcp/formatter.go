// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"fmt"
	"strings"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p Packet) string {
	result := fmt.Sprintf("%s (0x%02X)", FormatPacketType(p.Type), byte(p.Type))
	if p.Type == PacketChannels {
		values := make([]string, len(p.Channels))
		for i, v := range p.Channels {
			values[i] = fmt.Sprintf("%d", v)
		}
		result += fmt.Sprintf(" ch=[%s]", strings.Join(values, " "))
	}
	return result
}

// FormatPacketType returns the human-readable name for a packet type
func FormatPacketType(t PacketType) string {
	switch t {
	case PacketData:
		return "DATA"
	case PacketChannels:
		return "CHANNELS"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketReconnect:
		return "RECONNECT"
	default:
		return fmt.Sprintf("UNKNOWN_0x%02X", byte(t))
	}
}

// FormatRaw formats a raw payload, decoding it when it carries a session
// packet tag and showing the control byte name otherwise.
func FormatRaw(buf []byte, channelCount int) string {
	if len(buf) == 0 {
		return "(empty)"
	}
	if p, err := DecodePacket(buf, channelCount); err == nil {
		return FormatPacket(p)
	}
	return fmt.Sprintf("%s [% X]", FormatControlByte(buf[0]), buf)
}

// FormatControlByte returns the name of a handshake control byte
func FormatControlByte(b byte) string {
	switch b {
	case ACK:
		return "ACK"
	case NACK:
		return "NACK"
	case TestByte:
		return "TEST"
	case Mismatch:
		return "MISMATCH"
	default:
		return fmt.Sprintf("0x%02X", b)
	}
}

// FormatPowerLevel returns the human-readable name for a power level
func FormatPowerLevel(p PowerLevel) string {
	switch p {
	case PowerMin:
		return "MIN"
	case PowerLow:
		return "LOW"
	case PowerHigh:
		return "HIGH"
	case PowerMax:
		return "MAX"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", p)
	}
}

// FormatDataRate returns the human-readable name for a data rate
func FormatDataRate(r DataRate) string {
	switch r {
	case DataRate1Mbps:
		return "1Mbps"
	case DataRate2Mbps:
		return "2Mbps"
	case DataRate250Kbps:
		return "250Kbps"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", r)
	}
}

// FormatSettings formats settings into a multi-line summary
func FormatSettings(s Settings) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  Payload:   %d bytes\n", s.PayloadSize)
	fmt.Fprintf(&b, "  Channels:  %d\n", s.ChannelCount)
	fmt.Fprintf(&b, "  Ack:       %v (payload %v)\n", s.EnableAck, s.EnableAckPayload)
	fmt.Fprintf(&b, "  Tick:      %v\n", s.TickPeriod)
	fmt.Fprintf(&b, "  Power:     %s\n", FormatPowerLevel(s.PowerLevel))
	fmt.Fprintf(&b, "  RF:        channel %d @ %s\n", s.RFChannel, FormatDataRate(s.DataRate))
	fmt.Fprintf(&b, "  Retries:   %d x %dus\n", s.RetryCount, 250*(int(s.RetryDelay)+1))
	return b.String()
}

// FormatResult returns the human-readable name for an update result
func FormatResult(r Result) string {
	switch r {
	case ResultIdle:
		return "IDLE"
	case ResultUpdated:
		return "UPDATED"
	case ResultTickTooShort:
		return "TICK_TOO_SHORT"
	default:
		return fmt.Sprintf("RESULT(%d)", r)
	}
}
