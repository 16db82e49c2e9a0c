// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rcp

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Address is a 5-byte radio endpoint address.
type Address [AddressSize]byte

// ParseAddress parses five printable ASCII characters or ten hex digits.
func ParseAddress(s string) (Address, error) {
	var a Address
	switch len(s) {
	case AddressSize:
		for i := 0; i < AddressSize; i++ {
			if s[i] < 0x20 || s[i] > 0x7E {
				return a, fmt.Errorf("address %q: non-printable byte at %d", s, i)
			}
			a[i] = s[i]
		}
		return a, nil
	case AddressSize * 2:
		b, err := hex.DecodeString(s)
		if err != nil {
			return a, fmt.Errorf("address %q: %w", s, err)
		}
		copy(a[:], b)
		return a, nil
	default:
		return a, fmt.Errorf("address %q: expected %d characters or %d hex digits", s, AddressSize, AddressSize*2)
	}
}

// AddressFrom copies the first AddressSize bytes of b.
func AddressFrom(b []byte) Address {
	var a Address
	copy(a[:], b)
	return a
}

// String prints the address as text when printable and as hex otherwise.
func (a Address) String() string {
	for _, b := range a {
		if b < 0x20 || b > 0x7E {
			return strings.ToUpper(hex.EncodeToString(a[:]))
		}
	}
	return string(a[:])
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}
