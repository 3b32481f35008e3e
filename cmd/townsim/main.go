// Command townsim runs the Smalltown agent simulation.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/talgya/smalltown/internal/api"
	"github.com/talgya/smalltown/internal/config"
	"github.com/talgya/smalltown/internal/engine"
	"github.com/talgya/smalltown/internal/llm"
	"github.com/talgya/smalltown/internal/persistence"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	configPath := flag.String("config", "town.toml", "path to TOML config")
	fresh := flag.Bool("fresh", false, "ignore any saved state and start over")
	flag.Parse()

	// .env is optional; environment wins over file values either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	slog.Info("Smalltown — generative agent simulation",
		"seed", cfg.Simulation.Seed, "agents", cfg.Simulation.Agents)

	// ── Database ──────────────────────────────────────────────────────
	var db *persistence.DB
	if cfg.Storage.Path != "" {
		if dir := filepath.Dir(cfg.Storage.Path); dir != "." {
			os.MkdirAll(dir, 0755)
		}
		db, err = persistence.Open(cfg.Storage.Path)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database opened", "path", cfg.Storage.Path)
	} else {
		slog.Warn("storage path empty — persistence disabled")
	}

	// ── LLM backend ───────────────────────────────────────────────────
	var backend llm.Backend
	if client := llm.NewClient(os.Getenv("ANTHROPIC_API_KEY")); client != nil {
		backend = client
		slog.Info("LLM backend enabled")
	} else {
		slog.Warn("ANTHROPIC_API_KEY not set — all agents run rule-based")
	}

	// ── Kernel ────────────────────────────────────────────────────────
	kcfg := kernelConfig(cfg)
	kernel := engine.New(kcfg, backend)
	defer kernel.Close()

	if db != nil && db.HasSave() && !*fresh {
		slog.Info("found saved state, restoring...")
		if err := db.RestoreWorldState(kernel, kcfg.Memory); err != nil {
			slog.Error("restore failed", "error", err)
			os.Exit(1)
		}
	}

	var mu sync.Mutex

	// Auto-save at each day boundary.
	if db != nil {
		seed := cfg.Simulation.Seed
		kernel.OnDay(func(day int) {
			if err := db.SaveWorldState(kernel, seed); err != nil {
				slog.Error("daily save failed", "day", day, "error", err)
			}
		})
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	adminKey := os.Getenv("TOWNSIM_ADMIN_KEY")
	if adminKey == "" {
		slog.Warn("TOWNSIM_ADMIN_KEY not set — admin POST endpoints disabled")
	}

	server := &api.Server{
		Kernel:   kernel,
		Mu:       &mu,
		Addr:     cfg.Server.Addr,
		AdminKey: adminKey,
	}
	server.Start()

	// ── Run ───────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Printf("\nSmalltown is awake: %d residents.\n", len(kernel.Agents))
	fmt.Printf("API: http://localhost%s/api/v1/status\n", cfg.Server.Addr)
	fmt.Println("Running... (Ctrl+C to stop)")

	ticker := time.NewTicker(cfg.TickInterval())
	defer ticker.Stop()

loop:
	for {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down", "signal", sig)
			break loop
		case <-ticker.C:
			mu.Lock()
			events := kernel.Tick()
			mu.Unlock()
			if db != nil && len(events) > 0 {
				if err := db.SaveEvents(events); err != nil {
					slog.Error("event save failed", "error", err)
				}
			}
		}
	}

	if db != nil {
		slog.Info("final save...")
		if err := db.SaveWorldState(kernel, cfg.Simulation.Seed); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}

	fmt.Println("Simulation stopped.")
}

// kernelConfig maps the operator TOML onto the engine's tuning surface,
// starting from the compiled-in defaults so omitted fields keep theirs.
func kernelConfig(cfg config.Config) engine.Config {
	ec := engine.DefaultConfig(cfg.Simulation.Seed)

	if cfg.Simulation.Agents > 0 {
		ec.AgentCount = cfg.Simulation.Agents
	}
	if cfg.Simulation.MinutesPerTick > 0 {
		ec.MinutesPerTick = cfg.Simulation.MinutesPerTick
	}
	if cfg.Simulation.MapWidth > 0 {
		ec.Town.Width = cfg.Simulation.MapWidth
	}
	if cfg.Simulation.MapHeight > 0 {
		ec.Town.Height = cfg.Simulation.MapHeight
	}
	if cfg.Simulation.GenerativeAgents >= 0 {
		ec.Decision.GenerativeCount = cfg.Simulation.GenerativeAgents
	}
	if cfg.Simulation.DecisionMinTicks > 0 {
		ec.Decision.MinInterval = cfg.Simulation.DecisionMinTicks
	}
	if cfg.Simulation.DecisionMaxTicks > 0 {
		ec.Decision.MaxInterval = cfg.Simulation.DecisionMaxTicks
	}
	ec.Decision.TaskTTL = cfg.TaskTTL()

	if cfg.Queue.Concurrency > 0 {
		ec.Queue.Concurrency = cfg.Queue.Concurrency
	}
	if cfg.Queue.ElevatedThreshold > 0 {
		ec.Queue.ElevatedThreshold = cfg.Queue.ElevatedThreshold
	}
	if cfg.Queue.CriticalThreshold > 0 {
		ec.Queue.CriticalThreshold = cfg.Queue.CriticalThreshold
	}

	if cfg.Dialogue.MaxTurns > 0 {
		ec.Conversation.MaxTurns = cfg.Dialogue.MaxTurns
	}
	if cfg.Dialogue.TurnTimeoutMin > 0 {
		ec.Conversation.TurnTimeout = cfg.Dialogue.TurnTimeoutMin
	}
	if cfg.Dialogue.CooldownMin > 0 {
		ec.Conversation.Cooldown = cfg.Dialogue.CooldownMin
	}
	ec.Conversation.MinWeight = cfg.Dialogue.MinWeight
	if cfg.Dialogue.TalkChance > 0 {
		ec.TalkChance = cfg.Dialogue.TalkChance
	}
	if cfg.Dialogue.AdjacencyRadius > 0 {
		ec.AdjacencyRadius = cfg.Dialogue.AdjacencyRadius
	}

	return ec
}
