// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/rclink/pkg/rcp"
	"github.com/spf13/cobra"
)

var (
	receivePrintInterval time.Duration
	receiveOnce          bool
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Run the receiver side of a paired link",
	Long: `Connect to the paired transmitter and print the channel values it sends.

If the previous run ended while connected, the session is resumed without a
handshake. Otherwise the receiver announces itself until the transmitter
answers. The receiver's uptime is returned as telemetry on every ack when ack
payloads are enabled.

When the transmitter disconnects the receiver goes back to connecting, or
exits with --once.`,
	RunE: runReceive,
}

func init() {
	rootCmd.AddCommand(receiveCmd)
	receiveCmd.Flags().DurationVar(&receivePrintInterval, "print-interval", 500*time.Millisecond, "Minimum time between channel printouts")
	receiveCmd.Flags().BoolVar(&receiveOnce, "once", false, "Exit after the first disconnect")
}

func runReceive(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	banner("Receiver", connInfo)
	fmt.Print(rcp.FormatSettings(settings))
	fmt.Println()

	link := rcp.NewReceiverLink(rcp.NewReceiver(radio, id, sessionOptions()...), store)
	resumed, err := link.Begin(settings)
	if err != nil {
		logger.Warn("could not resume previous session", "error", err)
	}
	if resumed {
		peer, _ := link.Receiver.Peer()
		fmt.Printf("Resumed session with %s\n", peer)
	}

	start := time.Now()
	channels := make([]uint16, settings.ChannelCount)
	telemetry := make([]byte, settings.PayloadSize)
	stats := rcp.NewStatistics()
	var lastPrint time.Time

	for ctx.Err() == nil {
		if !link.Receiver.IsConnected() {
			if err := connectReceiver(ctx, link); err != nil {
				return bridgeFailure(radio, err)
			}
			if ctx.Err() != nil {
				break
			}
			peer, _ := link.Receiver.Peer()
			fmt.Printf("Connected to %s\n", peer)
		}

		putUptime(telemetry, time.Since(start))
		result, err := link.Update(channels, telemetry)
		stats.Record(result, err)
		if err != nil && !errors.Is(err, rcp.ErrNotConnected) {
			logger.Error("update failed", "error", err)
		}

		if result == rcp.ResultUpdated && time.Since(lastPrint) >= receivePrintInterval {
			lastPrint = time.Now()
			fmt.Printf("[%s] ch=%v\n", lastPrint.Format("15:04:05.000"), channels)
		}

		if !link.Receiver.IsConnected() {
			fmt.Println("Transmitter disconnected")
			if receiveOnce {
				break
			}
			continue
		}
		time.Sleep(cfg.Timing.Poll)
	}

	stats.CalculateRates()
	fmt.Printf("\n%s", stats)
	return nil
}

// connectReceiver retries the connect handshake until it succeeds, the
// transmitter refuses, or ctx ends.
func connectReceiver(ctx context.Context, link *rcp.ReceiverLink) error {
	for ctx.Err() == nil {
		err := link.Connect()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, rcp.ErrNoRecord):
			return fmt.Errorf("no paired transmitter, run 'rclink pair' first: %w", err)
		case errors.Is(err, rcp.ErrConnectionRefused):
			return fmt.Errorf("transmitter refused the connection, pair again: %w", err)
		case errors.Is(err, rcp.ErrBadData):
			return fmt.Errorf("settings differ from the paired copy, pair again: %w", err)
		default:
			logger.Info("connect attempt failed, retrying", "error", err)
		}
	}
	return nil
}

// putUptime writes the uptime in milliseconds, big-endian, at the start of
// a telemetry payload.
func putUptime(buf []byte, uptime time.Duration) {
	if len(buf) >= 4 {
		binary.BigEndian.PutUint32(buf, uint32(uptime.Milliseconds()))
	}
}

// uptimeOf reads a telemetry payload written by putUptime.
func uptimeOf(buf []byte) uint64 {
	if len(buf) < 4 {
		return 0
	}
	return uint64(binary.BigEndian.Uint32(buf))
}
