// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/Thermoquad/rclink/pkg/bridge"
	"github.com/Thermoquad/rclink/pkg/pairstore"
	"github.com/Thermoquad/rclink/pkg/rcp"
	"golang.org/x/term"
)

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv("RCLINK_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens the bridge dongle over WebSocket or serial
func OpenConnection() (bridge.Connection, string, error) {
	b := cfg.Bridge
	if b.URL != "" {
		password := ""
		if b.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := bridge.OpenWebSocket(b.URL, b.Username, password, b.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", b.URL), nil
	}

	if b.Port != "" {
		conn, err := bridge.OpenSerial(b.Port, b.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", b.Port, b.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// OpenRadio opens the bridge and wraps it as a radio. Connection failures
// carry the connection exit code.
func OpenRadio() (*bridge.Radio, string, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, "", withExit(exitConnection, err)
	}
	radio := bridge.NewRadio(conn,
		bridge.WithTimeout(cfg.Bridge.Timeout),
		bridge.WithLogger(logger.With("bridge", connInfo)))
	return radio, connInfo, nil
}

// openStore opens the configured pairing store
func openStore() (*pairstore.File, error) {
	store, err := pairstore.OpenFile(cfg.Store.Path)
	if err != nil {
		return nil, withExit(exitConnection, err)
	}
	return store, nil
}

// sessionOptions applies configured timing and logging to a session
func sessionOptions() []rcp.Option {
	return []rcp.Option{
		rcp.WithTiming(cfg.ProtocolTiming()),
		rcp.WithLogger(logger),
	}
}

// deviceSetup resolves the identity and session settings from the config
func deviceSetup() (rcp.Address, rcp.Settings, error) {
	id, err := cfg.DeviceID()
	if err != nil {
		return rcp.Address{}, rcp.Settings{}, withExit(exitConnection, err)
	}
	settings, err := cfg.Settings()
	if err != nil {
		return rcp.Address{}, rcp.Settings{}, withExit(exitConnection, err)
	}
	return id, settings, nil
}
