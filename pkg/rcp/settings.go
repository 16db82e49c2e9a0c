// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Settings is the session configuration shared by both peers. The receiver
// owns it and hands the encoded form to the transmitter during pairing.
type Settings struct {
	PayloadSize      uint8
	ChannelCount     uint8
	EnableAck        bool
	EnableAckPayload bool
	TickPeriod       time.Duration
	PowerLevel       PowerLevel
	RFChannel        uint8
	DataRate         DataRate
	RetryDelay       uint8
	RetryCount       uint8
}

// DefaultSettings returns the steady-state settings used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		PayloadSize:      MaxPayloadSize,
		ChannelCount:     8,
		EnableAck:        true,
		EnableAckPayload: true,
		TickPeriod:       20 * time.Millisecond,
		PowerLevel:       PowerHigh,
		RFChannel:        76,
		DataRate:         DataRate1Mbps,
		RetryDelay:       5,
		RetryCount:       15,
	}
}

// PairingSettings returns the conservative radio parameters used while
// pairing and during the first half of the connect handshake.
func PairingSettings() Settings {
	return Settings{
		PayloadSize: MaxPayloadSize,
		EnableAck:   true,
		TickPeriod:  100 * time.Millisecond,
		PowerLevel:  PowerLow,
		RFChannel:   76,
		DataRate:    DataRate1Mbps,
		RetryDelay:  5,
		RetryCount:  15,
	}
}

// Validate returns the first validation failure wrapped as ErrBadData.
func (s Settings) Validate() error {
	if errs := ValidateSettings(s); len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrBadData, errs[0].Message)
	}
	return nil
}

// Fingerprint is the CRC carried in the last two bytes of the encoded form.
// Invalid settings have no fingerprint and return 0.
func (s Settings) Fingerprint() uint16 {
	blob, err := EncodeSettings(s)
	if err != nil {
		return 0
	}
	return binary.BigEndian.Uint16(blob[offCRC:])
}

// EncodeSettings encodes settings into the 32-byte wire form.
func EncodeSettings(s Settings) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	blob := make([]byte, SettingsSize)
	blob[offVersion] = settingsVersion
	blob[offPayloadSize] = s.PayloadSize
	blob[offChannelCount] = s.ChannelCount
	if s.EnableAck {
		blob[offFlags] |= flagAck
	}
	if s.EnableAckPayload {
		blob[offFlags] |= flagAckPayload
	}
	binary.BigEndian.PutUint32(blob[offTickPeriod:], uint32(s.TickPeriod/time.Microsecond))
	blob[offPowerLevel] = uint8(s.PowerLevel)
	blob[offRFChannel] = s.RFChannel
	blob[offDataRate] = uint8(s.DataRate)
	blob[offRetryDelay] = s.RetryDelay
	blob[offRetryCount] = s.RetryCount

	crc := CalculateCRC(blob[:offCRC])
	binary.BigEndian.PutUint16(blob[offCRC:], crc)
	return blob, nil
}

// DecodeSettings decodes and validates the 32-byte wire form.
func DecodeSettings(blob []byte) (Settings, error) {
	if len(blob) != SettingsSize {
		return Settings{}, fmt.Errorf("%w: settings length %d (expected %d)", ErrBadData, len(blob), SettingsSize)
	}
	if blob[offVersion] != settingsVersion {
		return Settings{}, fmt.Errorf("%w: settings version %d", ErrBadData, blob[offVersion])
	}

	expected := CalculateCRC(blob[:offCRC])
	got := binary.BigEndian.Uint16(blob[offCRC:])
	if got != expected {
		return Settings{}, fmt.Errorf("%w: settings CRC mismatch: expected 0x%04X, got 0x%04X", ErrBadData, expected, got)
	}

	s := Settings{
		PayloadSize:      blob[offPayloadSize],
		ChannelCount:     blob[offChannelCount],
		EnableAck:        blob[offFlags]&flagAck != 0,
		EnableAckPayload: blob[offFlags]&flagAckPayload != 0,
		TickPeriod:       time.Duration(binary.BigEndian.Uint32(blob[offTickPeriod:])) * time.Microsecond,
		PowerLevel:       PowerLevel(blob[offPowerLevel]),
		RFChannel:        blob[offRFChannel],
		DataRate:         DataRate(blob[offDataRate]),
		RetryDelay:       blob[offRetryDelay],
		RetryCount:       blob[offRetryCount],
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// blobFingerprint reads the CRC field of an encoded settings blob.
func blobFingerprint(blob []byte) uint16 {
	if len(blob) != SettingsSize {
		return 0
	}
	return binary.BigEndian.Uint16(blob[offCRC:])
}
