// Partyd — the listening-party session server.
//
// It exposes the WebSocket signaling endpoint and the WebRTC audio relay
// that let one host stream a track from the DMP catalogue to any number
// of listeners in real time, plus HTTP endpoints for status, health and
// metrics.
//
// Flags: -addr, -udp-min, -udp-max, -stun, -gather-timeout, -debug.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"

	"github.com/dmp-music/party/internal/app"
	"github.com/dmp-music/party/internal/config"
	"github.com/dmp-music/party/internal/util"
)

var version = "dev"

func main() {
	// Root context — cancelled on Ctrl+C or SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Default()

	// CLI flags.
	addr := flag.String("addr", cfg.Addr, "HTTP listen address")
	udpMin := flag.Uint("udp-min", uint(cfg.UDPPortMin), "Lowest UDP port for media (0 = ephemeral)")
	udpMax := flag.Uint("udp-max", uint(cfg.UDPPortMax), "Highest UDP port for media (0 = ephemeral)")
	stun := flag.String("stun", strings.Join(cfg.STUNServers, ","), "Comma-separated STUN server URLs (empty = host candidates only)")
	gatherTimeout := flag.Duration("gather-timeout", cfg.GatherTimeout, "ICE gathering deadline per transport")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		util.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("DMP Listening Party — v%s", version))
	pterm.Println()

	cfg.Addr = *addr
	cfg.UDPPortMin = uint16(*udpMin)
	cfg.UDPPortMax = uint16(*udpMax)
	cfg.GatherTimeout = *gatherTimeout
	cfg.Debug = *debugMode

	cfg.STUNServers = nil
	if s := strings.TrimSpace(*stun); s != "" {
		for _, u := range strings.Split(s, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.STUNServers = append(cfg.STUNServers, u)
			}
		}
	}

	if cfg.UDPPortMin > cfg.UDPPortMax {
		util.LogError("invalid UDP port range: %d > %d", cfg.UDPPortMin, cfg.UDPPortMax)
		os.Exit(1)
	}

	if err := app.Run(ctx, cfg); err != nil {
		util.LogError("server error: %v", err)
		os.Exit(1)
	}

	util.LogInfo("server stopped")
}
