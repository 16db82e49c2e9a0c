// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import "time"

// Clock is the time source used for every bounded wait.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Timing holds the protocol deadlines and settle delays.
type Timing struct {
	Timeout          time.Duration // waiting for a peer to appear
	ConnectTimeout   time.Duration // waiting for a handshake reply
	PairSettle       time.Duration
	ReplySettle      time.Duration
	DisconnectSettle time.Duration
	ReconnectSettle  time.Duration
	PollInterval     time.Duration
}

// DefaultTiming returns the timing used on real hardware.
func DefaultTiming() Timing {
	return Timing{
		Timeout:          10 * time.Second,
		ConnectTimeout:   time.Second,
		PairSettle:       200 * time.Millisecond,
		ReplySettle:      200 * time.Millisecond,
		DisconnectSettle: 50 * time.Millisecond,
		ReconnectSettle:  20 * time.Millisecond,
		PollInterval:     time.Millisecond,
	}
}

// WaitUntil polls cond every poll interval until it holds or the deadline
// passes. cond is always evaluated at least once. Returns the last result
// of cond.
func WaitUntil(clock Clock, deadline time.Time, poll time.Duration, cond func() bool) bool {
	for {
		if cond() {
			return true
		}
		if !clock.Now().Before(deadline) {
			return false
		}
		clock.Sleep(poll)
	}
}

// link bundles the radio with the clock and timing shared by both sessions.
type link struct {
	radio  Radio
	clock  Clock
	timing Timing
}

// waitAvailable waits for a received payload on any pipe.
func (l *link) waitAvailable(timeout time.Duration) bool {
	deadline := l.clock.Now().Add(timeout)
	return WaitUntil(l.clock, deadline, l.timing.PollInterval, func() bool {
		_, ok := l.radio.Available()
		return ok
	})
}

// forceSend retries buf until it is acknowledged or timeout elapses.
func (l *link) forceSend(buf []byte, timeout time.Duration) bool {
	deadline := l.clock.Now().Add(timeout)
	return WaitUntil(l.clock, deadline, l.timing.PollInterval, func() bool {
		return l.radio.Write(buf)
	})
}

// readByte pops one payload and returns its first byte.
func (l *link) readByte() byte {
	buf := make([]byte, 1)
	l.radio.Read(buf)
	return buf[0]
}

// writeByte stops listening, waits settle, sends b and resumes listening.
func (l *link) writeByte(b byte, settle time.Duration) bool {
	l.radio.StopListening()
	l.clock.Sleep(settle)
	ok := l.radio.Write([]byte{b})
	l.radio.StartListening()
	return ok
}
