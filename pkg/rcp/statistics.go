// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"fmt"
	"time"
)

// Statistics tracks update outcomes and error rates for one session
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalUpdates  uint64
	Updated       uint64
	Idle          uint64
	TickTooShort  uint64
	PacketNotSent uint64
	NotConnected  uint64
	OtherErrors   uint64

	// Rates (calculated)
	UpdateRate float64 // updates/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Record counts the outcome of one update call
func (s *Statistics) Record(result Result, err error) {
	s.TotalUpdates++
	s.LastUpdateTime = time.Now()

	if err != nil {
		switch CodeOf(err) {
		case ErrPacketNotSent.Code:
			s.PacketNotSent++
		case ErrNotConnected.Code:
			s.NotConnected++
		default:
			s.OtherErrors++
		}
		return
	}

	switch result {
	case ResultUpdated:
		s.Updated++
	case ResultTickTooShort:
		s.TickTooShort++
	default:
		s.Idle++
	}
}

// Errors returns the number of failed updates
func (s *Statistics) Errors() uint64 {
	return s.PacketNotSent + s.NotConnected + s.OtherErrors
}

// CalculateRates calculates update and error rates
func (s *Statistics) CalculateRates() {
	elapsed := s.LastUpdateTime.Sub(s.StartTime).Seconds()
	if elapsed > 0 {
		s.UpdateRate = float64(s.TotalUpdates) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var updatedPercent, lossPercent float64
	if s.TotalUpdates > 0 {
		updatedPercent = float64(s.Updated) * 100.0 / float64(s.TotalUpdates)
		lossPercent = float64(s.PacketNotSent) * 100.0 / float64(s.TotalUpdates)
	}

	elapsed := s.LastUpdateTime.Sub(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Updates:   %8d\n", s.TotalUpdates)
	result += fmt.Sprintf("Updated:         %8d (%.1f%%)\n", s.Updated, updatedPercent)

	if s.Idle > 0 {
		result += fmt.Sprintf("Idle:            %8d\n", s.Idle)
	}
	if s.TickTooShort > 0 {
		result += fmt.Sprintf("Tick Too Short:  %8d\n", s.TickTooShort)
	}
	if s.PacketNotSent > 0 {
		result += fmt.Sprintf("Not Sent:        %8d (%.1f%%)\n", s.PacketNotSent, lossPercent)
	}
	if s.NotConnected > 0 {
		result += fmt.Sprintf("Not Connected:   %8d\n", s.NotConnected)
	}
	if s.OtherErrors > 0 {
		result += fmt.Sprintf("Other Errors:    %8d\n", s.OtherErrors)
	}

	result += fmt.Sprintf("Update Rate:     %8.1f updates/sec\n", s.UpdateRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
