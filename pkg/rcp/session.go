// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import "log/slog"

// State is the connection state held by each session.
type State uint8

const (
	StateDisconnected State = iota
	StatePairing
	StateConnecting
	StateConnected
)

// String returns the human-readable state name
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StatePairing:
		return "PAIRING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Result is the non-error outcome of an update call.
type Result int8

const (
	ResultIdle         Result = 0  // nothing exchanged this call
	ResultUpdated      Result = 1  // channels or telemetry updated
	ResultTickTooShort Result = 21 // caller is slower than the tick period
)

// Option configures a session.
type Option func(*options)

type options struct {
	clock  Clock
	timing Timing
	logger *slog.Logger
}

func defaultOptions() options {
	return options{
		clock:  SystemClock{},
		timing: DefaultTiming(),
		logger: slog.New(slog.DiscardHandler),
	}
}

// WithClock sets the clock used for waits and tick enforcement.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithTiming overrides the protocol deadlines and settle delays.
func WithTiming(t Timing) Option {
	return func(o *options) { o.timing = t }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// session holds the state shared by Receiver and Transmitter.
type session struct {
	link
	id       Address
	peer     Address
	settings Settings
	state    State
	logger   *slog.Logger
}

func newSession(radio Radio, id Address, role string, opts []Option) session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return session{
		link:   link{radio: radio, clock: o.clock, timing: o.timing},
		id:     id,
		state:  StateDisconnected,
		logger: o.logger.With("role", role, "id", id.String()),
	}
}

// ID returns the session's own address.
func (s *session) ID() Address { return s.id }

// State returns the current connection state.
func (s *session) State() State { return s.state }

// IsConnected reports whether the session is live.
func (s *session) IsConnected() bool { return s.state == StateConnected }

// Peer returns the connected peer's address.
func (s *session) Peer() (Address, bool) {
	return s.peer, s.state == StateConnected
}

// Settings returns the active session settings.
func (s *session) Settings() Settings { return s.settings }

// enterHandshake moves to state and returns a func that falls back to
// Disconnected unless the handshake reached Connected.
func (s *session) enterHandshake(state State) func() {
	s.state = state
	return func() {
		if s.state != StateConnected {
			s.state = StateDisconnected
		}
	}
}

// teardown drops the live session.
func (s *session) teardown() {
	s.state = StateDisconnected
	s.peer = Address{}
}

// useSettings configures the radio for s at its own power level.
func (s *session) useSettings(settings Settings) {
	s.radio.Configure(settings)
	s.radio.SetPowerLevel(settings.PowerLevel)
}
