// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/rclink/pkg/pairstore"
	"github.com/Thermoquad/rclink/pkg/radiosim"
	"github.com/Thermoquad/rclink/pkg/rcp"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Loss levels cycled by the 'l' key
var lossLevels = []float64{0, 0.05, 0.2, 0.5}

var simulatedTransmitter = rcp.Address{'T', 'X', 'S', 'I', 'M'}

var (
	simulateHeadless bool
	simulateDuration time.Duration
	simulateLoss     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a receiver and a transmitter against each other in-process",
	Long: `Pair, connect and drive a receiver and a transmitter on a simulated RF
medium, with live statistics.

No hardware is needed. Both sides use the configured settings and timing;
the receiver uses the configured device ID. Pairing records are kept in
memory only.

Keys:
  l - cycle packet loss (0%, 5%, 20%, 50%)
  r - reset statistics
  q - quit (the transmitter disconnects first)

--headless prints statistics once a second for --duration instead.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().BoolVar(&simulateHeadless, "headless", false, "Print statistics instead of the interactive view")
	simulateCmd.Flags().DurationVar(&simulateDuration, "duration", 10*time.Second, "Run time in headless mode")
	simulateCmd.Flags().Float64Var(&simulateLoss, "loss", 0, "Initial fraction of transmissions to drop (0-1)")
}

// simulation owns both ends of an in-process link. The update loops run in
// their own goroutines; everything below mu is shared with the view.
type simulation struct {
	ether    *radiosim.Ether
	rx       *rcp.ReceiverLink
	tx       *rcp.TransmitterLink
	settings rcp.Settings
	poll     time.Duration
	start    time.Time

	mu       sync.Mutex
	rxStats  *rcp.Statistics
	txStats  *rcp.Statistics
	channels []uint16
	uptime   uint64
	loss     float64
	rxState  rcp.State
	txState  rcp.State
	events   []errorLogEntry
}

// simSnapshot is a copy of the shared state for rendering.
type simSnapshot struct {
	rxStats  rcp.Statistics
	txStats  rcp.Statistics
	channels []uint16
	uptime   uint64
	loss     float64
	rxState  rcp.State
	txState  rcp.State
	events   []errorLogEntry
}

func newSimulation(rxID rcp.Address, settings rcp.Settings, log *slog.Logger) *simulation {
	ether := radiosim.NewEther()
	opts := []rcp.Option{rcp.WithTiming(cfg.ProtocolTiming()), rcp.WithLogger(log)}

	rx := rcp.NewReceiver(ether.NewRadio("receiver"), rxID, opts...)
	tx := rcp.NewTransmitter(ether.NewRadio("transmitter"), simulatedTransmitter, opts...)

	return &simulation{
		ether:    ether,
		rx:       rcp.NewReceiverLink(rx, pairstore.NewMemory()),
		tx:       rcp.NewTransmitterLink(tx, pairstore.NewMemory()),
		settings: settings,
		poll:     cfg.Timing.Poll,
		start:    time.Now(),
		rxStats:  rcp.NewStatistics(),
		txStats:  rcp.NewStatistics(),
		channels: make([]uint16, settings.ChannelCount),
	}
}

// establish pairs and connects both sides.
func (s *simulation) establish() error {
	if _, err := s.rx.Begin(s.settings); err != nil {
		return err
	}
	if _, err := s.tx.Begin(); err != nil {
		return err
	}

	var pg errgroup.Group
	pg.Go(s.rx.Pair)
	pg.Go(func() error {
		_, err := s.tx.Pair()
		return err
	})
	if err := pg.Wait(); err != nil {
		return fmt.Errorf("pair: %w", err)
	}
	s.event("Paired", false)

	var cg errgroup.Group
	cg.Go(s.rx.Connect)
	cg.Go(func() error {
		_, err := s.tx.Connect()
		return err
	})
	if err := cg.Wait(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	s.event("Connected", false)
	s.setRxState()
	s.setTxState()
	return nil
}

// run drives both update loops until ctx ends, then disconnects.
func (s *simulation) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runReceiver(gctx) })
	g.Go(func() error { return s.runTransmitter(gctx) })
	err := g.Wait()

	if s.tx.Transmitter.IsConnected() {
		if derr := s.tx.Disconnect(); derr != nil {
			s.event(fmt.Sprintf("Disconnect: %v", derr), true)
		}
	}
	return err
}

func (s *simulation) runReceiver(ctx context.Context) error {
	channels := make([]uint16, s.settings.ChannelCount)
	telemetry := make([]byte, s.settings.PayloadSize)

	for ctx.Err() == nil {
		if !s.rx.Receiver.IsConnected() {
			s.event("Receiver reconnecting", true)
			if err := s.rx.Connect(); err != nil {
				s.event(fmt.Sprintf("Receiver connect: %v", err), true)
			}
			s.setRxState()
			continue
		}

		putUptime(telemetry, time.Since(s.start))
		result, err := s.rx.Update(channels, telemetry)

		s.mu.Lock()
		s.rxStats.Record(result, err)
		if result == rcp.ResultUpdated {
			copy(s.channels, channels)
		}
		s.mu.Unlock()
		s.setRxState()

		time.Sleep(s.poll)
	}
	return nil
}

func (s *simulation) runTransmitter(ctx context.Context) error {
	channels := make([]uint16, s.settings.ChannelCount)
	telemetry := make([]byte, s.settings.PayloadSize)

	for n := 0; ctx.Err() == nil; n++ {
		if !s.tx.Transmitter.IsConnected() {
			s.event("Transmitter reconnecting", true)
			if _, err := s.tx.Connect(); err != nil {
				s.event(fmt.Sprintf("Transmitter connect: %v", err), true)
			}
			s.setTxState()
			continue
		}

		sweep(channels, n)
		result, err := s.tx.Update(channels, telemetry)

		s.mu.Lock()
		s.txStats.Record(result, err)
		s.uptime = uptimeOf(telemetry)
		s.mu.Unlock()
		s.setTxState()
	}
	return nil
}

// Each session is only touched by its own loop, which publishes the state.
func (s *simulation) setRxState() {
	state := s.rx.Receiver.State()
	s.mu.Lock()
	s.rxState = state
	s.mu.Unlock()
}

func (s *simulation) setTxState() {
	state := s.tx.Transmitter.State()
	s.mu.Lock()
	s.txState = state
	s.mu.Unlock()
}

func (s *simulation) event(message string, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, errorLogEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(s.events) > maxLogEntries {
		s.events = s.events[len(s.events)-maxLogEntries:]
	}
}

// setLoss installs a loss model dropping fraction p of transmissions.
func (s *simulation) setLoss(p float64) {
	if p > 0 {
		s.ether.SetDrop(lossModel(p))
	} else {
		s.ether.SetDrop(nil)
	}
	s.mu.Lock()
	s.loss = p
	s.mu.Unlock()
	s.event(fmt.Sprintf("Packet loss set to %.0f%%", p*100), false)
}

// cycleLoss moves to the next entry in lossLevels.
func (s *simulation) cycleLoss() {
	s.mu.Lock()
	current := s.loss
	s.mu.Unlock()

	next := lossLevels[0]
	for _, level := range lossLevels {
		if level > current {
			next = level
			break
		}
	}
	s.setLoss(next)
}

func (s *simulation) resetStats() {
	s.mu.Lock()
	s.rxStats.Reset()
	s.txStats.Reset()
	s.mu.Unlock()
	s.event("Statistics reset", false)
}

func (s *simulation) snapshot() simSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := simSnapshot{
		rxStats:  *s.rxStats,
		txStats:  *s.txStats,
		channels: append([]uint16(nil), s.channels...),
		uptime:   s.uptime,
		loss:     s.loss,
		rxState:  s.rxState,
		txState:  s.txState,
		events:   append([]errorLogEntry(nil), s.events...),
	}
	snap.rxStats.CalculateRates()
	snap.txStats.CalculateRates()
	return snap
}

func runSimulate(cmd *cobra.Command, args []string) error {
	if simulateLoss < 0 || simulateLoss > 1 {
		return withExit(exitConnection, fmt.Errorf("--loss must be between 0 and 1, got %v", simulateLoss))
	}
	id, settings, err := deviceSetup()
	if err != nil {
		return err
	}

	// The interactive view owns the terminal; session logs go to the log
	// file when one is configured and are dropped otherwise.
	simLogger := logger
	if !simulateHeadless && cfg.Log.File == "" {
		simLogger = slog.New(slog.DiscardHandler)
	}

	sim := newSimulation(id, settings, simLogger)
	if err := sim.establish(); err != nil {
		return withExit(exitProtocol, err)
	}
	if simulateLoss > 0 {
		sim.setLoss(simulateLoss)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if simulateHeadless {
		return runSimulateHeadless(ctx, sim)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sim.run(ctx) }()

	p := tea.NewProgram(newSimModel(sim), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return err
	}
	cancel()
	return <-done
}

func runSimulateHeadless(ctx context.Context, sim *simulation) error {
	fmt.Printf("rclink - Simulation\n")
	fmt.Print(rcp.FormatSettings(sim.settings))
	fmt.Println()

	ctx, cancel := context.WithTimeout(ctx, simulateDuration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sim.run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				snap := sim.snapshot()
				fmt.Printf("[%s] tx %.1f/s lost=%d | rx %.1f/s | ch=%v | uptime=%s\n",
					time.Now().Format("15:04:05"),
					snap.txStats.UpdateRate, snap.txStats.PacketNotSent,
					snap.rxStats.UpdateRate, snap.channels, formatUptime(snap.uptime))
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}

	snap := sim.snapshot()
	fmt.Printf("\nTransmitter\n%s\nReceiver\n%s", &snap.txStats, &snap.rxStats)
	for _, e := range snap.events {
		fmt.Printf("%s %s\n", e.timestamp.Format("15:04:05.000"), e.message)
	}
	return nil
}
