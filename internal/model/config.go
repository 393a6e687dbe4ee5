// Package model defines the configuration loaded from configs/config.yml
// and the JSON payloads published to telemetry clients and the flight log.
package model

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"OctaFlight/internal/flight"
	"OctaFlight/internal/mavlink"
	"OctaFlight/internal/nav"
	"OctaFlight/internal/sim"
	"OctaFlight/internal/util"
)

// Config represents the root structure loaded from configs/config.yml.
type Config struct {
	Log        util.LogConfig       `yaml:"log"`
	Vehicle    mavlink.LinkConfig   `yaml:"vehicle"`
	Mission    MissionConfig        `yaml:"mission"`
	Controller nav.ControllerConfig `yaml:"controller"`
	Waits      flight.Waits         `yaml:"waits"`
	Telemetry  TelemetryConfig      `yaml:"telemetry"`
	Store      StoreConfig          `yaml:"store"`
	Simulation SimulationConfig     `yaml:"simulation"`
}

// MissionConfig selects the flight plan and what to do afterwards.
type MissionConfig struct {
	// File is a mission YAML file; empty flies the default octahedron.
	File string `yaml:"file"`
	// Finish is "land" or "rtl".
	Finish string `yaml:"finish"`
}

// TelemetryConfig configures the HTTP/websocket server.
type TelemetryConfig struct {
	Addr string `yaml:"addr"` // e.g. ":10000"; empty disables the server
}

// StoreConfig configures the bbolt flight log.
type StoreConfig struct {
	Path string `yaml:"path"` // empty disables the flight log
}

// SimulationConfig is read by cmd/simulation.
type SimulationConfig struct {
	Connection string        `yaml:"connection"`
	Period     time.Duration `yaml:"period"`
	// VirtualSerial, when set, creates a socat PTY pair: the simulator
	// serves the first path and the mission connects to the second.
	VirtualSerial []string   `yaml:"virtual_serial"`
	Copter        sim.Config `yaml:"copter"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{
		Log:        util.LogConfig{Level: "info", Format: "text"},
		Vehicle:    mavlink.LinkConfig{Connection: "udp:127.0.0.1:14551", SystemID: 255, Ready: 30 * time.Second},
		Mission:    MissionConfig{Finish: "land"},
		Controller: nav.DefaultControllerConfig(),
		Waits:      flight.DefaultWaits(),
		Telemetry:  TelemetryConfig{Addr: ":10000"},
		Store:      StoreConfig{Path: "tmp/flights.db"},
		Simulation: SimulationConfig{
			Connection: "udpout:127.0.0.1:14551",
			Period:     100 * time.Millisecond,
			Copter:     sim.DefaultConfig(),
		},
	}
}

// LoadConfig reads the YAML file at path over DefaultConfig, so keys
// missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Mission.Finish {
	case "", "land", "rtl":
	default:
		return fmt.Errorf("mission.finish %q: want land or rtl", c.Mission.Finish)
	}
	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("controller.%w", err)
	}
	if _, err := mavlink.ParseConnection(c.Vehicle.Connection); err != nil {
		return fmt.Errorf("vehicle.connection: %w", err)
	}
	return nil
}
