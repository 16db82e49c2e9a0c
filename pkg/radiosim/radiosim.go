// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package radiosim simulates nRF24 radios sharing one RF medium. Radios
// created from the same Ether hear each other when they agree on RF channel,
// data rate and payload size, following the hardware rules for pipes,
// auto-ack and ack payloads.
package radiosim

import (
	"sync"

	"github.com/Thermoquad/rclink/pkg/rcp"
)

// Hardware FIFO depths
const (
	rxFIFODepth  = 3
	ackFIFODepth = 3
	txLogDepth   = 64
	pipeCount    = 6
)

// DropFunc decides whether a transmission from one radio to another is lost.
// It runs with the medium locked and must not call back into any Radio.
type DropFunc func(from, to *Radio, payload []byte) bool

// Ether is the shared medium. All radios on it are guarded by one lock, so
// radios may be driven from different goroutines.
type Ether struct {
	mu     sync.Mutex
	radios []*Radio
	drop   DropFunc
}

// NewEther creates an empty medium.
func NewEther() *Ether {
	return &Ether{}
}

// SetDrop installs a loss model. nil delivers everything.
func (e *Ether) SetDrop(fn DropFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drop = fn
}

// NewRadio attaches a new radio to the medium.
func (e *Ether) NewRadio(name string) *Radio {
	e.mu.Lock()
	defer e.mu.Unlock()
	r := &Radio{ether: e, name: name, settings: rcp.PairingSettings()}
	e.radios = append(e.radios, r)
	return r
}

// Detach removes r from the medium.
func (e *Ether) Detach(r *Radio) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, other := range e.radios {
		if other == r {
			e.radios = append(e.radios[:i], e.radios[i+1:]...)
			return
		}
	}
}

type frame struct {
	pipe uint8
	data []byte
}

type pipeAddr struct {
	addr rcp.Address
	open bool
}

// Radio is one simulated transceiver. It implements rcp.Radio.
type Radio struct {
	ether *Ether
	name  string

	began     bool
	settings  rcp.Settings
	power     rcp.PowerLevel
	listening bool
	reading   [pipeCount]pipeAddr
	writing   pipeAddr

	rx   fifo
	acks [pipeCount]fifo
	tx   fifo
}

var _ rcp.Radio = (*Radio)(nil)

// Name returns the label given at creation.
func (r *Radio) Name() string { return r.name }

func (r *Radio) Begin() error {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.began = true
	r.listening = false
	r.rx.clear()
	return nil
}

func (r *Radio) Configure(s rcp.Settings) {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.settings = s
}

func (r *Radio) SetPowerLevel(level rcp.PowerLevel) {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.power = level
}

func (r *Radio) OpenReadingPipe(pipe uint8, addr rcp.Address) {
	if pipe >= pipeCount {
		return
	}
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.reading[pipe] = pipeAddr{addr: addr, open: true}
}

func (r *Radio) OpenWritingPipe(addr rcp.Address) {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.writing = pipeAddr{addr: addr, open: true}
}

func (r *Radio) StartListening() {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.listening = true
}

func (r *Radio) StopListening() {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.listening = false
}

// Write transmits buf to the writing pipe address. A radio that is still
// listening cannot transmit.
func (r *Radio) Write(buf []byte) bool {
	e := r.ether
	e.mu.Lock()
	defer e.mu.Unlock()

	payload := make([]byte, r.settings.PayloadSize)
	copy(payload, buf)
	r.tx.log(frame{data: payload})

	autoAck := r.settings.EnableAck
	if !r.began || r.listening || !r.writing.open {
		return false
	}

	target, pipe := e.route(r, payload)
	if target == nil {
		return !autoAck
	}
	if !target.rx.push(frame{pipe: pipe, data: payload}, rxFIFODepth) {
		return !autoAck
	}
	if !autoAck {
		return true
	}
	if !target.settings.EnableAck {
		return false
	}

	if target.settings.EnableAckPayload {
		if ack, ok := target.acks[pipe].pop(); ok {
			r.rx.push(frame{pipe: 0, data: ack.data}, rxFIFODepth)
		}
	}
	return true
}

// route finds the listening radio that owns the writing address of from.
func (e *Ether) route(from *Radio, payload []byte) (*Radio, uint8) {
	for _, to := range e.radios {
		if to == from || !to.began || !to.listening {
			continue
		}
		if !compatible(from.settings, to.settings) {
			continue
		}
		for pipe := uint8(1); pipe < pipeCount; pipe++ {
			p := to.reading[pipe]
			if !p.open || p.addr != from.writing.addr {
				continue
			}
			if e.drop != nil && e.drop(from, to, payload) {
				return nil, 0
			}
			return to, pipe
		}
	}
	return nil, 0
}

func compatible(a, b rcp.Settings) bool {
	return a.RFChannel == b.RFChannel &&
		a.DataRate == b.DataRate &&
		a.PayloadSize == b.PayloadSize
}

func (r *Radio) Read(buf []byte) int {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	f, ok := r.rx.pop()
	if !ok {
		return 0
	}
	return copy(buf, f.data)
}

func (r *Radio) Available() (uint8, bool) {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	f, ok := r.rx.peek()
	if !ok {
		return 0, false
	}
	return f.pipe, true
}

func (r *Radio) WriteAckPayload(pipe uint8, buf []byte) {
	if pipe >= pipeCount {
		return
	}
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	data := make([]byte, len(buf))
	copy(data, buf)
	r.acks[pipe].push(frame{pipe: pipe, data: data}, ackFIFODepth)
}

func (r *Radio) FlushRx() {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.rx.clear()
}

func (r *Radio) FlushTx() {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	for i := range r.acks {
		r.acks[i].clear()
	}
}

// Inject places payload in the receive FIFO as if it arrived on pipe.
func (r *Radio) Inject(pipe uint8, payload []byte) {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	data := make([]byte, len(payload))
	copy(data, payload)
	r.rx.push(frame{pipe: pipe, data: data}, rxFIFODepth)
}

// Sent returns every payload this radio attempted to transmit, oldest first.
func (r *Radio) Sent() [][]byte {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	return r.tx.snapshot()
}

// ClearSent empties the transmit log.
func (r *Radio) ClearSent() {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	r.tx.clear()
}

// Listening reports whether the radio is in receive mode.
func (r *Radio) Listening() bool {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	return r.listening
}

// PowerLevel returns the last power level set.
func (r *Radio) PowerLevel() rcp.PowerLevel {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	return r.power
}

// Settings returns the last configuration applied.
func (r *Radio) Settings() rcp.Settings {
	r.ether.mu.Lock()
	defer r.ether.mu.Unlock()
	return r.settings
}

// fifo is a bounded queue of frames.
type fifo struct {
	frames []frame
}

// push appends f and reports false when the queue is already at depth.
func (q *fifo) push(f frame, depth int) bool {
	if len(q.frames) >= depth {
		return false
	}
	q.frames = append(q.frames, f)
	return true
}

// log appends f, dropping the oldest entry once txLogDepth is reached.
func (q *fifo) log(f frame) {
	if len(q.frames) >= txLogDepth {
		q.frames = q.frames[1:]
	}
	q.frames = append(q.frames, f)
}

func (q *fifo) pop() (frame, bool) {
	if len(q.frames) == 0 {
		return frame{}, false
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f, true
}

func (q *fifo) peek() (frame, bool) {
	if len(q.frames) == 0 {
		return frame{}, false
	}
	return q.frames[0], true
}

func (q *fifo) clear() {
	q.frames = nil
}

func (q *fifo) snapshot() [][]byte {
	out := make([][]byte, len(q.frames))
	for i, f := range q.frames {
		cp := make([]byte, len(f.data))
		copy(cp, f.data)
		out[i] = cp
	}
	return out
}
