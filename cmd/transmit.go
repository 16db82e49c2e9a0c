// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/rclink/pkg/rcp"
	"github.com/spf13/cobra"
)

// Sweep pattern limits, in the usual RC pulse-width range
const (
	sweepMin   = 1000
	sweepRange = 1000
	sweepStep  = 5
)

var transmitPrintInterval time.Duration

var transmitCmd = &cobra.Command{
	Use:   "transmit",
	Short: "Run the transmitter side of a paired link",
	Long: `Accept a paired receiver and send a sweeping test pattern every tick.

If the previous run ended while connected, the receiver is probed with a
Reconnect packet instead of a full handshake. Telemetry returned on the ack
(the receiver's uptime) is printed with the statistics.

Ctrl+C sends a Disconnect to the receiver before exiting.`,
	RunE: runTransmit,
}

func init() {
	rootCmd.AddCommand(transmitCmd)
	transmitCmd.Flags().DurationVar(&transmitPrintInterval, "print-interval", time.Second, "Time between status lines")
}

func runTransmit(cmd *cobra.Command, args []string) error {
	id, _, err := deviceSetup()
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	banner("Transmitter", connInfo)

	link := rcp.NewTransmitterLink(rcp.NewTransmitter(radio, id, sessionOptions()...), store)
	resumed, err := link.Begin()
	if err != nil {
		logger.Warn("could not resume previous session", "error", err)
	}
	if !resumed {
		fmt.Println("Waiting for a paired receiver...")
		if err := connectTransmitter(ctx, link); err != nil {
			return bridgeFailure(radio, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}

	tx := link.Transmitter
	settings := tx.Settings()
	peer, _ := tx.Peer()
	fmt.Printf("Connected to %s\n", peer)
	fmt.Print(rcp.FormatSettings(settings))
	fmt.Println()

	channels := make([]uint16, settings.ChannelCount)
	telemetry := make([]byte, settings.PayloadSize)
	stats := rcp.NewStatistics()
	lastPrint := time.Now()

	for n := 0; ctx.Err() == nil; n++ {
		sweep(channels, n)
		result, err := link.Update(channels, telemetry)
		stats.Record(result, err)
		if err != nil {
			if errors.Is(err, rcp.ErrNotConnected) {
				return withExit(exitProtocol, err)
			}
			logger.Debug("update failed", "error", err)
		}

		if time.Since(lastPrint) >= transmitPrintInterval {
			lastPrint = time.Now()
			stats.CalculateRates()
			fmt.Printf("[%s] sent=%d lost=%d rate=%.1f/s receiver uptime=%s\n",
				lastPrint.Format("15:04:05.000"), stats.TotalUpdates-stats.Errors(),
				stats.PacketNotSent, stats.UpdateRate, formatUptime(uptimeOf(telemetry)))
		}
	}

	fmt.Println("\nDisconnecting...")
	if err := link.Disconnect(); err != nil {
		logger.Warn("disconnect", "error", err)
	}
	stats.CalculateRates()
	fmt.Printf("\n%s", stats)
	return nil
}

// connectTransmitter waits for a receiver announcement until one connects or
// ctx ends. Unpaired or mismatched receivers are refused and waited past.
func connectTransmitter(ctx context.Context, link *rcp.TransmitterLink) error {
	for ctx.Err() == nil {
		peer, err := link.Connect()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, rcp.ErrTimeout):
		case errors.Is(err, rcp.ErrConnectionRefused), errors.Is(err, rcp.ErrBadData):
			logger.Warn("receiver rejected", "peer", peer.String(), "error", err)
		case errors.Is(err, rcp.ErrAlreadyConnected):
			return nil
		default:
			logger.Info("connect attempt failed, retrying", "error", err)
		}
	}
	return nil
}

// sweep fills channels with a phase-shifted sawtooth for tick n.
func sweep(channels []uint16, n int) {
	for i := range channels {
		channels[i] = sweepMin + uint16((n*sweepStep+i*sweepRange/8)%sweepRange)
	}
}
