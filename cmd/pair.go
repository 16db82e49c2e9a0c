// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/rclink/internal/config"
	"github.com/Thermoquad/rclink/pkg/bridge"
	"github.com/Thermoquad/rclink/pkg/rcp"
	"github.com/spf13/cobra"
)

var pairRole string

var pairCmd = &cobra.Command{
	Use:   "pair",
	Short: "Pair a receiver and a transmitter",
	Long: `Run the pairing exchange on the shared pairing address.

Start the receiver side first; it waits for a transmitter to announce itself,
then sends back its address and session settings. The transmitter stores the
settings per receiver, the receiver stores the transmitter address. Pairing
does not connect.

Exit codes:
  0 - Paired
  1 - Pairing failed (timeout, lost connection, bad settings)
  2 - Connection or configuration error`,
	RunE: runPair,
}

func init() {
	rootCmd.AddCommand(pairCmd)
	pairCmd.Flags().StringVar(&pairRole, "role", "", "receiver or transmitter (default from config)")
}

func runPair(cmd *cobra.Command, args []string) error {
	role := cfg.Device.Role
	if pairRole != "" {
		role = pairRole
	}

	id, settings, err := deviceSetup()
	if err != nil {
		return err
	}
	radio, connInfo, err := OpenRadio()
	if err != nil {
		return err
	}
	defer radio.Close()
	store, err := openStore()
	if err != nil {
		return err
	}

	banner("Pairing", connInfo)
	fmt.Printf("Device: %s (%s)\n", id, role)
	fmt.Printf("Store:  %s\n\n", store.Path())

	switch role {
	case config.RoleReceiver:
		rx := rcp.NewReceiver(radio, id, sessionOptions()...)
		if err := rx.Begin(settings); err != nil {
			return bridgeFailure(radio, err)
		}
		link := rcp.NewReceiverLink(rx, store)

		fmt.Printf("Waiting %v for a transmitter...\n", cfg.Timing.Timeout)
		if err := link.Pair(); err != nil {
			return bridgeFailure(radio, fmt.Errorf("pairing failed: %w", err))
		}
		peer, _ := store.LoadPeerAddress()
		fmt.Printf("Paired with transmitter %s\n", peer)
		fmt.Print(rcp.FormatSettings(settings))

	case config.RoleTransmitter:
		tx := rcp.NewTransmitter(radio, id, sessionOptions()...)
		if err := tx.Begin(); err != nil {
			return bridgeFailure(radio, err)
		}
		link := rcp.NewTransmitterLink(tx, store)

		fmt.Printf("Announcing on the pairing address for %v...\n", cfg.Timing.Timeout)
		peer, err := link.Pair()
		if err != nil {
			return bridgeFailure(radio, fmt.Errorf("pairing failed: %w", err))
		}
		blob, err := store.LoadSettings(peer)
		if err != nil {
			return err
		}
		paired, err := rcp.DecodeSettings(blob)
		if err != nil {
			return err
		}
		fmt.Printf("Paired with receiver %s\n", peer)
		fmt.Print(rcp.FormatSettings(paired))

	default:
		return withExit(exitConnection, fmt.Errorf("unknown role %q", role))
	}
	return nil
}

// bridgeFailure reports err with the connection exit code when the bridge
// itself failed underneath the protocol.
func bridgeFailure(radio *bridge.Radio, err error) error {
	if berr := radio.Err(); berr != nil {
		return withExit(exitConnection, fmt.Errorf("%w (bridge: %v)", err, berr))
	}
	return withExit(exitProtocol, err)
}
