// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Thermoquad/rclink/pkg/rcp"
)

// DefaultTimeout bounds each command round trip.
const DefaultTimeout = 500 * time.Millisecond

// Option configures a Radio.
type Option func(*Radio)

// WithTimeout sets the per-command response timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Radio) { r.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Radio) { r.logger = l }
}

// Radio is an rcp.Radio whose transceiver sits behind a bridge connection.
//
// The rcp.Radio methods cannot return errors, so transport failures are
// logged, reported as a failed Write or an empty Available, and kept for
// Err.
type Radio struct {
	conn    io.ReadWriteCloser
	timeout time.Duration
	logger  *slog.Logger

	mu  sync.Mutex // one command in flight
	seq uint8

	frames chan Frame
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

var _ rcp.Radio = (*Radio)(nil)

// NewRadio starts reading responses from conn.
func NewRadio(conn io.ReadWriteCloser, opts ...Option) *Radio {
	r := &Radio{
		conn:    conn,
		timeout: DefaultTimeout,
		logger:  slog.New(slog.DiscardHandler),
		frames:  make(chan Frame, 8),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.readLoop()
	return r
}

func (r *Radio) readLoop() {
	defer close(r.done)
	decoder := NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := r.conn.Read(buf)
		for i := 0; i < n; i++ {
			f, ok, derr := decoder.DecodeByte(buf[i])
			if derr != nil {
				r.logger.Warn("bridge decode error", "error", derr)
				continue
			}
			if !ok {
				continue
			}
			select {
			case r.frames <- f:
			default:
				r.logger.Warn("bridge response dropped", "frame", FormatFrame(f))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = ErrConnectionClosed
			}
			r.setErr(fmt.Errorf("bridge read: %w", err))
			return
		}
	}
}

// Err returns the first transport error seen, if any.
func (r *Radio) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *Radio) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.err == nil {
		r.err = err
	}
}

// Close closes the connection and waits for the reader to stop.
func (r *Radio) Close() error {
	err := r.conn.Close()
	<-r.done
	return err
}

// Call sends one command and waits for its response.
func (r *Radio) Call(cmd uint8, payload []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	req := Frame{Cmd: cmd, Seq: r.seq, Payload: payload}
	wire, err := EncodeFrame(req)
	if err != nil {
		return nil, err
	}

	select {
	case <-r.done:
		return nil, r.Err()
	default:
	}

	if _, err := r.conn.Write(wire); err != nil {
		err = fmt.Errorf("bridge write: %w", err)
		r.setErr(err)
		return nil, err
	}

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	for {
		select {
		case f := <-r.frames:
			if f.Seq != req.Seq {
				r.logger.Debug("stale bridge response", "frame", FormatFrame(f))
				continue
			}
			if f.Cmd == CmdError {
				return nil, fmt.Errorf("bridge rejected %s: %s", CommandName(cmd), reasonName(f.Payload))
			}
			if f.Cmd != cmd|ResponseFlag {
				return nil, fmt.Errorf("bridge answered %s with %s", CommandName(cmd), FormatFrame(f))
			}
			return f.Payload, nil

		case <-r.done:
			return nil, r.Err()

		case <-timer.C:
			return nil, fmt.Errorf("%w: %s after %v", ErrNoResponse, CommandName(cmd), r.timeout)
		}
	}
}

func reasonName(payload []byte) string {
	if len(payload) == 0 {
		return "no reason"
	}
	switch payload[0] {
	case ReasonUnknownCommand:
		return "unknown command"
	case ReasonBadPayload:
		return "bad payload"
	case ReasonRadio:
		return "radio failure"
	default:
		return fmt.Sprintf("reason 0x%02X", payload[0])
	}
}

// do runs a command whose failure can only be logged.
func (r *Radio) do(cmd uint8, payload []byte) ([]byte, bool) {
	resp, err := r.Call(cmd, payload)
	if err != nil {
		r.logger.Error("bridge command failed", "cmd", CommandName(cmd), "error", err)
		r.setErr(err)
		return nil, false
	}
	return resp, true
}

// Ping returns the dongle uptime.
func (r *Radio) Ping() (time.Duration, error) {
	resp, err := r.Call(CmdPing, nil)
	if err != nil {
		return 0, err
	}
	if len(resp) < 4 {
		return 0, fmt.Errorf("short ping response: %d bytes", len(resp))
	}
	return time.Duration(binary.BigEndian.Uint32(resp)) * time.Millisecond, nil
}

func (r *Radio) Begin() error {
	_, err := r.Call(CmdBegin, nil)
	return err
}

func (r *Radio) Configure(s rcp.Settings) {
	blob, err := rcp.EncodeSettings(s)
	if err != nil {
		r.logger.Error("cannot configure bridge radio", "error", err)
		return
	}
	r.do(CmdConfigure, blob)
}

func (r *Radio) SetPowerLevel(level rcp.PowerLevel) {
	r.do(CmdSetPower, []byte{uint8(level)})
}

func (r *Radio) OpenReadingPipe(pipe uint8, addr rcp.Address) {
	r.do(CmdOpenReading, append([]byte{pipe}, addr[:]...))
}

func (r *Radio) OpenWritingPipe(addr rcp.Address) {
	r.do(CmdOpenWriting, addr[:])
}

func (r *Radio) StartListening() {
	r.do(CmdStartListening, nil)
}

func (r *Radio) StopListening() {
	r.do(CmdStopListening, nil)
}

func (r *Radio) Write(buf []byte) bool {
	resp, ok := r.do(CmdWrite, buf)
	return ok && len(resp) > 0 && resp[0] != 0
}

func (r *Radio) Read(buf []byte) int {
	n := len(buf)
	if n > rcp.MaxPayloadSize {
		n = rcp.MaxPayloadSize
	}
	resp, ok := r.do(CmdRead, []byte{uint8(n)})
	if !ok {
		return 0
	}
	return copy(buf, resp)
}

func (r *Radio) Available() (uint8, bool) {
	resp, ok := r.do(CmdAvailable, nil)
	if !ok || len(resp) < 2 || resp[0] == 0 {
		return 0, false
	}
	return resp[1], true
}

func (r *Radio) WriteAckPayload(pipe uint8, buf []byte) {
	r.do(CmdWriteAckPayload, append([]byte{pipe}, buf...))
}

func (r *Radio) FlushRx() {
	r.do(CmdFlushRx, nil)
}

func (r *Radio) FlushTx() {
	r.do(CmdFlushTx, nil)
}
