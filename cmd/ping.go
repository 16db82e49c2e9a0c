// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/rclink/pkg/bridge"
	"github.com/spf13/cobra"
)

var (
	pingTimeout time.Duration
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the bridge dongle by sending PING requests",
	Long: `Send PING requests to the bridge dongle and wait for the responses.

The dongle answers locally with its uptime; nothing is transmitted over the
air. This is useful for verifying:
  - The serial port or WebSocket is reachable
  - HTTP Basic authentication works
  - The dongle firmware is processing frames

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 5*time.Second, "Timeout for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return withExit(exitConnection, err)
	}
	radio := bridge.NewRadio(conn, bridge.WithTimeout(pingTimeout), bridge.WithLogger(logger))
	defer radio.Close()

	fmt.Printf("rclink - Bridge Ping Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %v per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var minRTT, maxRTT, totalRTT time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		start := time.Now()
		uptime, err := radio.Ping()
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			if radio.Err() != nil {
				break
			}
			continue
		}

		rtt := time.Since(start)
		fmt.Printf("PONG from bridge, uptime=%s, rtt=%v\n",
			formatUptime(uint64(uptime.Milliseconds())), rtt.Round(time.Millisecond))
		successCount++
		totalRTT += rtt
		if minRTT == 0 || rtt < minRTT {
			minRTT = rtt
		}
		if rtt > maxRTT {
			maxRTT = rtt
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	sent := successCount + failCount
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		sent, successCount, float64(failCount)/float64(max(sent, 1))*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			minRTT.Round(time.Microsecond),
			(totalRTT / time.Duration(successCount)).Round(time.Microsecond),
			maxRTT.Round(time.Microsecond))
	}

	if err := radio.Err(); err != nil {
		return withExit(exitConnection, err)
	}
	if failCount > 0 {
		return withExit(exitProtocol, fmt.Errorf("%d of %d pings failed", failCount, sent))
	}
	return nil
}
