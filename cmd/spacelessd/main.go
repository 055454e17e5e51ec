// main.go - the spacelessd process entrypoint: load configuration,
// wire the framework and the example transactions, start listening,
// and shut down cleanly on SIGINT/SIGTERM.
// Copyright (C) 2024  spacelessd authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"

	"github.com/wherewindblow/spacelessd/config"
	"github.com/wherewindblow/spacelessd/daemon"
	"github.com/wherewindblow/spacelessd/example"
)

func main() {
	configPath := flag.String("config", "spacelessd.toml", "path to the TOML configuration file")
	flag.Parse()

	cli := log.New(os.Stderr)
	cli.SetPrefix("spacelessd")

	cfg, err := config.Load(*configPath)
	if err != nil {
		cli.Fatal("failed to load configuration", "path", *configPath, "err", err)
	}

	srv, err := daemon.New(cfg)
	if err != nil {
		cli.Fatal("failed to construct server", "err", err)
	}

	example.RegisterEcho(srv.Schema(), srv.Registry())

	if len(cfg.Peers) > 0 {
		peer := cfg.Peers[0]
		peerID := srv.Reactor().Services().Register(peer.IP, peer.Port)
		example.RegisterRelay(srv.Schema(), srv.Registry(), srv.Engine().Wheel(), int32(peerID))
		cli.Info("relay transaction wired to peer", "ip", peer.IP, "port", peer.Port)
	}

	if err := srv.Start(); err != nil {
		cli.Fatal("failed to start server", "err", err)
	}
	cli.Info("spacelessd started", "listen_ip", cfg.Listen.IP, "listen_port", cfg.Listen.Port, "security", cfg.Listen.Security)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cli.Info("signal received, shutting down")
	srv.Shutdown()
	cli.Info("shutdown complete")
}
