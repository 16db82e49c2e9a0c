// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"fmt"
	"math"
	"time"
)

// AnomalyType represents different types of settings anomalies
type AnomalyType int

const (
	AnomalyPayloadSize AnomalyType = iota
	AnomalyChannelCount
	AnomalyTickPeriod
	AnomalyAckMode
	AnomalyPowerLevel
	AnomalyRFChannel
	AnomalyDataRate
	AnomalyRetry
)

// ValidationError represents a settings validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

const maxTickPeriod = time.Duration(math.MaxUint32) * time.Microsecond

// ValidateSettings checks every field of s.
// Returns a slice of validation errors (empty if the settings are valid)
func ValidateSettings(s Settings) []ValidationError {
	errors := []ValidationError{}

	if s.PayloadSize == 0 || s.PayloadSize > MaxPayloadSize {
		errors = append(errors, ValidationError{
			Type:    AnomalyPayloadSize,
			Message: fmt.Sprintf("payload size %d out of range (1-%d)", s.PayloadSize, MaxPayloadSize),
			Details: map[string]interface{}{"payload_size": s.PayloadSize, "max": MaxPayloadSize},
		})
	}

	if need := 1 + 2*int(s.ChannelCount); int(s.PayloadSize) < need {
		errors = append(errors, ValidationError{
			Type:    AnomalyChannelCount,
			Message: fmt.Sprintf("%d channels need a %d byte payload (have %d)", s.ChannelCount, need, s.PayloadSize),
			Details: map[string]interface{}{"channel_count": s.ChannelCount, "required": need, "payload_size": s.PayloadSize},
		})
	}

	if s.TickPeriod <= 0 || s.TickPeriod > maxTickPeriod || s.TickPeriod%time.Microsecond != 0 {
		errors = append(errors, ValidationError{
			Type:    AnomalyTickPeriod,
			Message: fmt.Sprintf("tick period %v must be a positive whole number of microseconds", s.TickPeriod),
			Details: map[string]interface{}{"tick_period": s.TickPeriod},
		})
	}

	if s.EnableAckPayload && !s.EnableAck {
		errors = append(errors, ValidationError{
			Type:    AnomalyAckMode,
			Message: "ack payloads require ack mode",
			Details: map[string]interface{}{"ack": s.EnableAck, "ack_payload": s.EnableAckPayload},
		})
	}

	if s.PowerLevel > PowerMax {
		errors = append(errors, ValidationError{
			Type:    AnomalyPowerLevel,
			Message: fmt.Sprintf("invalid power level %d", s.PowerLevel),
			Details: map[string]interface{}{"power_level": s.PowerLevel},
		})
	}

	if s.RFChannel > MaxRFChannel {
		errors = append(errors, ValidationError{
			Type:    AnomalyRFChannel,
			Message: fmt.Sprintf("RF channel %d out of range (0-%d)", s.RFChannel, MaxRFChannel),
			Details: map[string]interface{}{"rf_channel": s.RFChannel, "max": MaxRFChannel},
		})
	}

	if s.DataRate > DataRate250Kbps {
		errors = append(errors, ValidationError{
			Type:    AnomalyDataRate,
			Message: fmt.Sprintf("invalid data rate %d", s.DataRate),
			Details: map[string]interface{}{"data_rate": s.DataRate},
		})
	}

	if s.RetryDelay > MaxRetry || s.RetryCount > MaxRetry {
		errors = append(errors, ValidationError{
			Type:    AnomalyRetry,
			Message: fmt.Sprintf("retry delay %d / count %d out of range (0-%d)", s.RetryDelay, s.RetryCount, MaxRetry),
			Details: map[string]interface{}{"retry_delay": s.RetryDelay, "retry_count": s.RetryCount, "max": MaxRetry},
		})
	}

	return errors
}
