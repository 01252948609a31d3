// Package app wires the party server together: relay engine, session
// store, signaling handler and the HTTP surface.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmp-music/party/internal/config"
	"github.com/dmp-music/party/internal/party"
	"github.com/dmp-music/party/internal/relay"
	"github.com/dmp-music/party/internal/signaling"
	"github.com/dmp-music/party/internal/util"
)

// Run brings the party server up and blocks until ctx is cancelled:
//  1. Build the relay engine
//  2. Build the session store and signaling handler
//  3. Serve /ws, /api/party/status, /healthz and /metrics
//  4. On shutdown, end the active party and drop the connections
func Run(ctx context.Context, cfg config.Config) error {
	// ── 1. Relay engine ────────────────────────────────────────────────
	engine, err := relay.NewEngine(relay.EngineConfig{
		STUNServers:   cfg.STUNServers,
		UDPPortMin:    cfg.UDPPortMin,
		UDPPortMax:    cfg.UDPPortMax,
		GatherTimeout: cfg.GatherTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to build relay engine: %w", err)
	}

	// ── 2. Store, handler, signaling server ────────────────────────────
	store := party.NewStore()
	handler := signaling.NewHandler(engine, store)
	mux := newMux(store, signaling.NewServer(handler))

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
		// Signaling connections inherit this, so process shutdown cancels
		// in-flight relay negotiation.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	util.StartStatsReporter(ctx)

	// ── 3. Serve until cancelled ───────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		util.LogInfo("app: listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		handler.Shutdown()
		return err
	case <-ctx.Done():
	}

	// ── 4. Shutdown: end the party, then drop the connections ──────────
	util.LogInfo("app: shutting down")
	handler.Shutdown()
	_ = srv.Close()
	<-errCh
	return nil
}

// newMux builds the HTTP surface: the signaling upgrade, the status JSON
// polled by catalogue pages before they open a connection, liveness and
// metrics.
func newMux(store *party.Store, ws *signaling.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", ws.HandleWS)
	mux.HandleFunc("/api/party/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(store.Status())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}
