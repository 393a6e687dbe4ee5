// Package main is the entry point of OctaFlight. It loads the
// configuration, connects to the vehicle, flies the mission and lands,
// serving telemetry for the whole flight.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"OctaFlight/internal/core"
	"OctaFlight/internal/model"
	"OctaFlight/internal/nav"
)

func main() {
	cfgPath := flag.String("c", "configs/config.yml", "path to configuration file")
	missionFile := flag.String("mission", "", "mission YAML file; overrides mission.file")
	conn := flag.String("connect", "", "vehicle connection string; overrides vehicle.connection")
	finish := flag.String("finish", "", "land or rtl; overrides mission.finish")
	linger := flag.Duration("linger", 0, "keep serving telemetry this long after the flight")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *missionFile != "" {
		cfg.Mission.File = *missionFile
	}
	if *conn != "" {
		cfg.Vehicle.Connection = *conn
	}
	if *finish != "" {
		cfg.Mission.Finish = *finish
	}

	sys, err := core.NewSystem(cfg)
	if err != nil {
		log.Fatalf("failed to create system: %v", err)
	}
	if err := sys.Start(); err != nil {
		sys.Stop()
		log.Fatalf("failed to start system: %v", err)
	}

	// Ctrl+C or SIGTERM aborts the mission; the vehicle still lands
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := sys.Fly(ctx)
	arrived := 0
	for _, r := range results {
		if r.Outcome == nav.OutcomeArrived {
			arrived++
		}
	}
	log.Printf("flight finished: %d/%d waypoints reached", arrived, len(results))
	if err != nil {
		log.Printf("flight error: %v", err)
	}

	if *linger > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(*linger):
		}
	}
	sys.Stop()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

// loadConfig reads path, falling back to defaults when the default config
// file is absent.
func loadConfig(path string) (*model.Config, error) {
	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "c" {
			explicit = true
		}
	})
	if _, err := os.Stat(path); err != nil && !explicit {
		log.Printf("no config at %s, using defaults", path)
		cfg := model.DefaultConfig()
		return &cfg, nil
	}
	return model.LoadConfig(path)
}
