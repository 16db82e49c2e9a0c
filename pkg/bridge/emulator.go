// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Thermoquad/rclink/pkg/rcp"
)

// Emulator answers bridge commands from a local rcp.Radio, acting as the
// dongle firmware.
type Emulator struct {
	radio  rcp.Radio
	logger *slog.Logger
	start  time.Time
}

// NewEmulator serves radio. A nil logger discards output.
func NewEmulator(radio rcp.Radio, logger *slog.Logger) *Emulator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Emulator{radio: radio, logger: logger, start: time.Now()}
}

// Serve decodes commands from conn and writes responses until conn fails.
// A clean end of stream returns nil.
func (e *Emulator) Serve(conn io.ReadWriter) error {
	decoder := NewDecoder()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		for i := 0; i < n; i++ {
			req, ok, derr := decoder.DecodeByte(buf[i])
			if derr != nil {
				e.logger.Warn("bridge decode error", "error", derr)
				continue
			}
			if !ok || req.IsResponse() {
				continue
			}
			resp := e.Handle(req)
			wire, werr := EncodeFrame(resp)
			if werr != nil {
				return werr
			}
			if _, werr := conn.Write(wire); werr != nil {
				return fmt.Errorf("bridge write: %w", werr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return err
		}
	}
}

// Handle executes one command against the radio.
func (e *Emulator) Handle(req Frame) Frame {
	p := req.Payload
	e.logger.Debug("bridge command", "frame", FormatFrame(req))

	switch req.Cmd {
	case CmdPing:
		resp := make([]byte, 4)
		binary.BigEndian.PutUint32(resp, uint32(time.Since(e.start).Milliseconds()))
		return req.Response(resp)

	case CmdBegin:
		if err := e.radio.Begin(); err != nil {
			e.logger.Error("radio begin failed", "error", err)
			return req.ErrorResponse(ReasonRadio)
		}

	case CmdConfigure:
		s, err := rcp.DecodeSettings(p)
		if err != nil {
			return req.ErrorResponse(ReasonBadPayload)
		}
		e.radio.Configure(s)

	case CmdSetPower:
		if len(p) != 1 || rcp.PowerLevel(p[0]) > rcp.PowerMax {
			return req.ErrorResponse(ReasonBadPayload)
		}
		e.radio.SetPowerLevel(rcp.PowerLevel(p[0]))

	case CmdOpenReading:
		if len(p) != 1+rcp.AddressSize {
			return req.ErrorResponse(ReasonBadPayload)
		}
		e.radio.OpenReadingPipe(p[0], rcp.AddressFrom(p[1:]))

	case CmdOpenWriting:
		if len(p) != rcp.AddressSize {
			return req.ErrorResponse(ReasonBadPayload)
		}
		e.radio.OpenWritingPipe(rcp.AddressFrom(p))

	case CmdStartListening:
		e.radio.StartListening()

	case CmdStopListening:
		e.radio.StopListening()

	case CmdWrite:
		if len(p) > rcp.MaxPayloadSize {
			return req.ErrorResponse(ReasonBadPayload)
		}
		if e.radio.Write(p) {
			return req.Response([]byte{1})
		}
		return req.Response([]byte{0})

	case CmdRead:
		if len(p) != 1 || int(p[0]) > rcp.MaxPayloadSize {
			return req.ErrorResponse(ReasonBadPayload)
		}
		data := make([]byte, p[0])
		n := e.radio.Read(data)
		return req.Response(data[:n])

	case CmdAvailable:
		pipe, ok := e.radio.Available()
		if !ok {
			return req.Response([]byte{0, 0})
		}
		return req.Response([]byte{1, pipe})

	case CmdWriteAckPayload:
		if len(p) < 1 || len(p) > 1+rcp.MaxPayloadSize {
			return req.ErrorResponse(ReasonBadPayload)
		}
		e.radio.WriteAckPayload(p[0], p[1:])

	case CmdFlushRx:
		e.radio.FlushRx()

	case CmdFlushTx:
		e.radio.FlushTx()

	default:
		return req.ErrorResponse(ReasonUnknownCommand)
	}
	return req.Response(nil)
}
