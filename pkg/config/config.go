package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleetcommand/pkg/command"
	"fleetcommand/pkg/store"
	"fleetcommand/pkg/travel"
)

type Config struct {
	Command  command.Config  `yaml:"command"`
	Database store.Config    `yaml:"database"`
	Web      WebConfig       `yaml:"web"`
	Sim      SimConfig       `yaml:"sim"`
	Travel   travel.Config   `yaml:"travel"`
	Systems  []travel.System `yaml:"systems"`
	Strict   bool            `yaml:"strict"` // panic on invariant violations
}

type WebConfig struct {
	Host      string  `yaml:"host"`
	Port      int     `yaml:"port"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second per client IP
	RateBurst int     `yaml:"rate_burst"`
}

type SimConfig struct {
	TickInterval  time.Duration `yaml:"tick_interval"` // wall clock between ticks
	DeltaTime     float64       `yaml:"delta_time"`    // sim seconds per tick
	SnapshotEvery int           `yaml:"snapshot_every"`
	SnapshotsKept int           `yaml:"snapshots_kept"`
}

func Defaults() *Config {
	return &Config{
		Command:  command.DefaultConfig(),
		Database: store.DefaultConfig(),
		Web: WebConfig{
			Host:      "0.0.0.0",
			Port:      8080,
			RateLimit: 5,
			RateBurst: 10,
		},
		Sim: SimConfig{
			TickInterval:  time.Second,
			DeltaTime:     1,
			SnapshotEvery: 300,
			SnapshotsKept: 24,
		},
		Travel: travel.DefaultConfig(),
	}
}

// Load reads path over the defaults, then applies environment overrides. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Command.Orders.Strict = cfg.Command.Orders.Strict || cfg.Strict
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FLEETCMD_DB_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("FLEETCMD_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("FLEETCMD_WEB_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return fmt.Errorf("FLEETCMD_WEB_ADDR %q: bad port", v)
			}
			c.Web.Port = p
		}
		if host != "" {
			c.Web.Host = host
		}
	}
	if v := os.Getenv("FLEETCMD_TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("FLEETCMD_TICK_INTERVAL: %w", err)
		}
		c.Sim.TickInterval = d
	}
	if v := os.Getenv("FLEETCMD_STRICT"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FLEETCMD_STRICT: %w", err)
		}
		c.Strict = b
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Sim.TickInterval <= 0 {
		return fmt.Errorf("sim.tick_interval must be positive, got %s", c.Sim.TickInterval)
	}
	if c.Sim.DeltaTime <= 0 {
		return fmt.Errorf("sim.delta_time must be positive, got %g", c.Sim.DeltaTime)
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port out of range: %d", c.Web.Port)
	}
	if c.Travel.Speed <= 0 {
		return fmt.Errorf("travel.speed must be positive, got %g", c.Travel.Speed)
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}
