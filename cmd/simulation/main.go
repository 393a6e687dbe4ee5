// Simulated copter: serves a kinematic multicopter over MAVLink so
// octaflight can fly against it without hardware or SITL.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OctaFlight/internal/mavlink"
	"OctaFlight/internal/model"
	"OctaFlight/internal/sim"
	"OctaFlight/internal/util"
)

const virtualBaud = 57600

func main() {
	cfgPath := flag.String("c", "configs/config.yml", "path to configuration file")
	listen := flag.String("listen", "", "connection to serve; overrides simulation.connection")
	flag.Parse()

	cfg := model.DefaultConfig()
	if _, err := os.Stat(*cfgPath); err == nil {
		loaded, err := model.LoadConfig(*cfgPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
		cfg = *loaded
	}
	if *listen != "" {
		cfg.Simulation.Connection = *listen
	}

	logger, closer, err := util.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	err = run(logger, cfg.Simulation)
	_ = closer.Close()
	if err != nil {
		log.Fatalf("simulation: %v", err)
	}
}

func run(logger *slog.Logger, cfg model.SimulationConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(cfg.VirtualSerial) == 2 {
		socat := util.NewSocatManager(logger)
		defer socat.Cleanup()
		if err := socat.CreatePair(cfg.VirtualSerial[0], cfg.VirtualSerial[1]); err != nil {
			return err
		}
		if err := socat.WaitLinks(3 * time.Second); err != nil {
			return err
		}
		cfg.Connection = mavlink.Connection{Kind: mavlink.KindSerial, Address: cfg.VirtualSerial[0], Baud: virtualBaud}.String()
		peer := mavlink.Connection{Kind: mavlink.KindSerial, Address: cfg.VirtualSerial[1], Baud: virtualBaud}
		logger.Info("virtual serial ready", slog.String("connect_with", peer.String()))
	}

	conn, err := mavlink.ParseConnection(cfg.Connection)
	if err != nil {
		return err
	}

	copter := sim.NewCopter(cfg.Copter)
	go copter.Run(ctx, cfg.Period/2)

	srv := mavlink.NewServer(copter, logger)
	if err := srv.Serve(ctx, conn, cfg.Period); err != nil {
		return err
	}
	logger.Info("simulation stopped")
	return nil
}
