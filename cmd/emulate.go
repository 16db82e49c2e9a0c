// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/rclink/pkg/bridge"
	"github.com/Thermoquad/rclink/pkg/radiosim"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	emulateListen string
	emulatePath   string
	emulateLoss   float64
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Serve simulated bridge dongles over WebSocket",
	Long: `Run a WebSocket server where every client gets its own simulated radio.

All radios share one simulated RF medium, so a receiver and a transmitter
connected with --url ws://host:8080/ws talk to each other exactly as they
would through two real dongles. --loss drops a fraction of transmissions.

When --username is set, clients must authenticate with HTTP Basic auth using
the password from RCLINK_PASSWORD (prompted if unset).`,
	RunE: runEmulate,
}

func init() {
	rootCmd.AddCommand(emulateCmd)
	emulateCmd.Flags().StringVar(&emulateListen, "listen", ":8080", "Address to listen on")
	emulateCmd.Flags().StringVar(&emulatePath, "path", "/ws", "WebSocket endpoint path")
	emulateCmd.Flags().Float64Var(&emulateLoss, "loss", 0, "Fraction of transmissions to drop (0-1)")
}

func runEmulate(cmd *cobra.Command, args []string) error {
	if emulateLoss < 0 || emulateLoss > 1 {
		return withExit(exitConnection, fmt.Errorf("--loss must be between 0 and 1, got %v", emulateLoss))
	}

	password := ""
	if cfg.Bridge.Username != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return withExit(exitConnection, err)
		}
	}

	ether := radiosim.NewEther()
	if emulateLoss > 0 {
		ether.SetDrop(lossModel(emulateLoss))
	}

	mux := http.NewServeMux()
	mux.Handle(emulatePath, requireAuth(cfg.Bridge.Username, password, emulatorHandler(ether)))
	server := &http.Server{
		Addr:              emulateListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("rclink - Bridge Emulator\n")
	fmt.Printf("Listening on ws://%s%s (loss %.0f%%)\n", emulateListen, emulatePath, emulateLoss*100)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return withExit(exitConnection, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// emulatorHandler upgrades each request and serves a fresh radio on ether
// until the client goes away.
func emulatorHandler(ether *radiosim.Ether) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		conn := bridge.NewWebSocketConnection(ws)
		defer conn.Close()

		radio := ether.NewRadio(r.RemoteAddr)
		defer ether.Detach(radio)

		log := logger.With("client", r.RemoteAddr)
		log.Info("client connected")
		if err := bridge.NewEmulator(radio, log).Serve(conn); err != nil {
			log.Warn("client session ended", "error", err)
			return
		}
		log.Info("client disconnected")
	})
}

// requireAuth wraps next with HTTP Basic auth when username is set.
func requireAuth(username, password string, next http.Handler) http.Handler {
	if username == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(username)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(password)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="rclink"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// lossModel drops each transmission with probability p.
func lossModel(p float64) radiosim.DropFunc {
	return func(from, to *radiosim.Radio, payload []byte) bool {
		return rand.Float64() < p
	}
}
