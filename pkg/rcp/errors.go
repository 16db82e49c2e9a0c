// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import "errors"

// Error is a protocol failure carrying its wire-compatible result code.
type Error struct {
	Code int8
	Name string
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Name
}

// Protocol errors
var (
	ErrTimeout           = &Error{Code: -1, Name: "timeout"}
	ErrLostConnection    = &Error{Code: -2, Name: "lost connection"}
	ErrConnectionRefused = &Error{Code: -3, Name: "connection refused"}
	ErrBadData           = &Error{Code: -4, Name: "bad data"}
	ErrNotConnected      = &Error{Code: -5, Name: "not connected"}
	ErrAlreadyConnected  = &Error{Code: -6, Name: "already connected"}
	ErrPacketNotSent     = &Error{Code: -22, Name: "packet not sent"}
)

// CodeInternal is reported by CodeOf for errors outside the protocol taxonomy.
const CodeInternal int8 = -127

// ErrNoRecord is returned by a Store that has nothing saved for a key.
var ErrNoRecord = errors.New("no stored record")

// CodeOf returns the result code for err: 0 for nil, the protocol code for
// errors wrapping an *Error, and CodeInternal otherwise.
func CodeOf(err error) int8 {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
