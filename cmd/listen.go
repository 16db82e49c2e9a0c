// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/rclink/pkg/rcp"
	"github.com/spf13/cobra"
)

var (
	listenAddress string
	listenPairing bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Display received payloads in human-readable format",
	Long: `Open a reading pipe and print every payload the radio receives.

Session packets are decoded (channels, disconnect, reconnect); anything else
is shown as raw bytes with the handshake control byte name.

By default the pipe listens on the device address with the configured link
settings. --pairing listens on the shared pairing address with the pairing
radio parameters instead. Nothing is acknowledged with a payload.`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenAddress, "address", "", "Pipe address to listen on (5 characters or 10 hex digits)")
	listenCmd.Flags().BoolVar(&listenPairing, "pairing", false, "Listen on the pairing address with pairing settings")
}

func runListen(cmd *cobra.Command, args []string) error {
	id, settings, err := deviceSetup()
	if err != nil {
		return err
	}
	addr := id
	if listenPairing {
		addr = rcp.PairAddress
		settings = rcp.PairingSettings()
	}
	if listenAddress != "" {
		addr, err = rcp.ParseAddress(listenAddress)
		if err != nil {
			return withExit(exitConnection, err)
		}
	}

	radio, connInfo, err := OpenRadio()
	if err != nil {
		return err
	}
	defer radio.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	banner("Packet Log", connInfo)
	fmt.Printf("Listening on %s, RF channel %d, %s\n\n",
		addr, settings.RFChannel, rcp.FormatDataRate(settings.DataRate))

	if err := radio.Begin(); err != nil {
		return bridgeFailure(radio, err)
	}
	radio.Configure(settings)
	radio.OpenReadingPipe(1, addr)
	radio.FlushRx()
	radio.StartListening()
	defer radio.StopListening()

	buf := make([]byte, settings.PayloadSize)
	for ctx.Err() == nil {
		if err := radio.Err(); err != nil {
			return withExit(exitConnection, err)
		}

		pipe, ok := radio.Available()
		if !ok {
			time.Sleep(cfg.Timing.Poll)
			continue
		}
		n := radio.Read(buf)
		fmt.Printf("[%s] pipe %d: %s\n",
			time.Now().Format("15:04:05.000"), pipe, rcp.FormatRaw(buf[:n], int(settings.ChannelCount)))
	}
	return nil
}
