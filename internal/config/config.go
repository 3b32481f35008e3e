// Package config loads operator tuning from an optional TOML file. Every
// field has a compiled-in default; a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the full operator-facing tuning surface.
type Config struct {
	Simulation SimulationConfig `toml:"simulation"`
	Queue      QueueConfig      `toml:"queue"`
	Dialogue   DialogueConfig   `toml:"dialogue"`
	Server     ServerConfig     `toml:"server"`
	Storage    StorageConfig    `toml:"storage"`
}

type SimulationConfig struct {
	Seed           int64 `toml:"seed"`
	Agents         int   `toml:"agents"`
	MinutesPerTick int   `toml:"minutes_per_tick"`
	TickIntervalMS int   `toml:"tick_interval_ms"` // wall-clock pacing
	MapWidth       int   `toml:"map_width"`
	MapHeight      int   `toml:"map_height"`

	GenerativeAgents int `toml:"generative_agents"` // first N use the backend
	DecisionMinTicks int `toml:"decision_min_ticks"`
	DecisionMaxTicks int `toml:"decision_max_ticks"`
}

type QueueConfig struct {
	Concurrency       int `toml:"concurrency"`
	ElevatedThreshold int `toml:"elevated_threshold"`
	CriticalThreshold int `toml:"critical_threshold"`
	TaskTTLSeconds    int `toml:"task_ttl_seconds"`
}

type DialogueConfig struct {
	MaxTurns        int     `toml:"max_turns"`
	TurnTimeoutMin  int     `toml:"turn_timeout_min"`
	CooldownMin     int     `toml:"cooldown_min"`
	MinWeight       int     `toml:"min_weight"`
	TalkChance      float64 `toml:"talk_chance"`
	AdjacencyRadius int     `toml:"adjacency_radius"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type StorageConfig struct {
	Path string `toml:"path"` // sqlite file; empty disables persistence
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		Simulation: SimulationConfig{
			Seed:             42,
			Agents:           6,
			MinutesPerTick:   1,
			TickIntervalMS:   250,
			MapWidth:         48,
			MapHeight:        48,
			GenerativeAgents: 2,
			DecisionMinTicks: 8,
			DecisionMaxTicks: 20,
		},
		Queue: QueueConfig{
			Concurrency:       1,
			ElevatedThreshold: 4,
			CriticalThreshold: 10,
			TaskTTLSeconds:    20,
		},
		Dialogue: DialogueConfig{
			MaxTurns:        8,
			TurnTimeoutMin:  2,
			CooldownMin:     90,
			MinWeight:       -20,
			TalkChance:      0.25,
			AdjacencyRadius: 1,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Storage: StorageConfig{
			Path: "smalltown.db",
		},
	}
}

// Load reads the TOML file at path over the defaults. An empty path or a
// missing file yields the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// TickInterval is the wall-clock pacing between kernel ticks.
func (c Config) TickInterval() time.Duration {
	ms := c.Simulation.TickIntervalMS
	if ms <= 0 {
		ms = 250
	}
	return time.Duration(ms) * time.Millisecond
}

// TaskTTL is the queue TTL for generative tasks.
func (c Config) TaskTTL() time.Duration {
	s := c.Queue.TaskTTLSeconds
	if s <= 0 {
		s = 20
	}
	return time.Duration(s) * time.Second
}
