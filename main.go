// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// rclink - nRF24 remote-control link tool
//
// Pairs, connects and drives receiver/transmitter sessions through a bridge
// dongle, and simulates both ends of a link in-process.

package main

import (
	"os"

	"github.com/Thermoquad/rclink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
