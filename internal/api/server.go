// Package api provides the HTTP API for observing and steering the town.
// GET endpoints are public (read-only observation). POST endpoints require
// a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/talgya/smalltown/internal/engine"
)

// Server serves the town state over HTTP. Mu must be the same mutex the tick
// loop holds while mutating the kernel; every handler takes it around reads
// so responses see a consistent tick boundary.
type Server struct {
	Kernel   *engine.Kernel
	Mu       *sync.Mutex
	Addr     string
	AdminKey string // Bearer token for POST endpoints. Empty = POST disabled.
}

// Start begins serving the HTTP API in a goroutine.
func (s *Server) Start() {
	limiter := NewRateLimiter(120, time.Minute)

	mux := http.NewServeMux()

	// Public endpoints.
	mux.HandleFunc("/api/v1/status", s.handleStatus)
	mux.HandleFunc("/api/v1/agents", s.handleAgents)
	mux.HandleFunc("/api/v1/agents/", s.handleAgentDetail)
	mux.HandleFunc("/api/v1/events", RateLimitMiddleware(limiter, s.handleEvents))
	mux.HandleFunc("/api/v1/relationships", s.handleRelationships)
	mux.HandleFunc("/api/v1/map", s.handleMap)

	// Admin endpoints.
	mux.HandleFunc("/api/v1/speed", s.adminOnly(s.handleSpeed))
	mux.HandleFunc("/api/v1/pause", s.adminOnly(s.handlePause))
	mux.HandleFunc("/api/v1/resume", s.adminOnly(s.handleResume))

	slog.Info("HTTP API starting", "addr", s.Addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := http.ListenAndServe(s.Addr, mux); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()
}

func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly requires bearer auth on POST. GET passes through so endpoints
// that report their current value stay readable.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if s.AdminKey == "" {
				http.Error(w, "admin endpoints disabled (no admin key set)", http.StatusForbidden)
				return
			}
			if !s.checkBearerToken(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.Mu.Lock()
	gt := s.Kernel.Clock.GameTime()
	status := map[string]any{
		"name":          "Smalltown",
		"tick":          s.Kernel.CurrentTick(),
		"day":           gt.Day,
		"time":          fmt.Sprintf("%02d:%02d", gt.Hour, gt.Minute),
		"speed":         s.Kernel.Clock.Speed(),
		"paused":        s.Kernel.Clock.Paused(),
		"agents":        len(s.Kernel.Agents),
		"fallback_rate": s.Kernel.FallbackRate(),
		"backpressure":  s.Kernel.Queue.BackpressureLevel(),
		"queue_healthy": s.Kernel.Queue.Healthy(),
		"queue":         s.Kernel.Queue.Metrics(),
	}
	s.Mu.Unlock()
	writeJSON(w, status)
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	s.Mu.Lock()
	snaps := s.Kernel.Snapshot()
	s.Mu.Unlock()
	writeJSON(w, snaps)
}

func (s *Server) handleAgentDetail(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	// /api/v1/agents/:id
	if len(parts) < 5 || parts[4] == "" {
		http.Error(w, "missing agent id", http.StatusBadRequest)
		return
	}
	id := parts[4]

	s.Mu.Lock()
	defer s.Mu.Unlock()

	a, ok := s.Kernel.AgentIndex[id]
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}

	var snap *engine.AgentSnapshot
	for _, candidate := range s.Kernel.Snapshot() {
		if candidate.ID == id {
			c := candidate
			snap = &c
			break
		}
	}

	edges := s.Kernel.Graph.Edges(id)
	sort.Slice(edges, func(i, j int) bool { return edges[i].Target < edges[j].Target })

	detail := map[string]any{
		"agent":   snap,
		"profile": a.Profile,
		"status":  a.Status,
		"edges":   edges,
	}
	if store := s.Kernel.Memories[id]; store != nil {
		detail["memories"] = map[string]int{
			"observations": len(store.Observations()),
			"reflections":  len(store.Reflections()),
			"plans":        len(store.Plans()),
		}
	}
	writeJSON(w, detail)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	s.Mu.Lock()
	events := s.Kernel.RecentEvents()
	s.Mu.Unlock()

	if kind := r.URL.Query().Get("kind"); kind != "" {
		var filtered []engine.Event
		for _, e := range events {
			if string(e.Kind) == kind {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}

	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	writeJSON(w, events)
}

func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	s.Mu.Lock()
	edges := s.Kernel.Graph.AllEdges()
	s.Mu.Unlock()

	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	writeJSON(w, edges)
}

func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	s.Mu.Lock()
	defer s.Mu.Unlock()

	type locationEntry struct {
		ID   string `json:"id"`
		Name string `json:"name"`
		Type string `json:"type"`
		X    int    `json:"x"`
		Y    int    `json:"y"`
		W    int    `json:"w"`
		H    int    `json:"h"`
	}
	locations := make([]locationEntry, 0)
	for _, l := range s.Kernel.Catalog.All() {
		locations = append(locations, locationEntry{
			ID: l.ID, Name: l.Name, Type: l.Type,
			X: l.Bounds.X, Y: l.Bounds.Y, W: l.Bounds.W, H: l.Bounds.H,
		})
	}

	writeJSON(w, map[string]any{
		"width":     s.Kernel.Grid.Width(),
		"height":    s.Kernel.Grid.Height(),
		"collision": s.Kernel.TileMap.Layers["collision"],
		"locations": locations,
	})
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		var req struct {
			Speed int `json:"speed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		s.Mu.Lock()
		ok := s.Kernel.Clock.SetSpeed(req.Speed)
		s.Mu.Unlock()
		if !ok {
			http.Error(w, "speed must be one of 1, 2, 4, 10", http.StatusBadRequest)
			return
		}
		slog.Info("speed changed", "speed", req.Speed)
	}

	s.Mu.Lock()
	speed := s.Kernel.Clock.Speed()
	s.Mu.Unlock()
	writeJSON(w, map[string]int{"speed": speed})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Mu.Lock()
	s.Kernel.Clock.Pause()
	s.Mu.Unlock()
	slog.Info("simulation paused")
	writeJSON(w, map[string]bool{"paused": true})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.Mu.Lock()
	s.Kernel.Clock.Resume()
	s.Mu.Unlock()
	slog.Info("simulation resumed")
	writeJSON(w, map[string]bool{"paused": false})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}
