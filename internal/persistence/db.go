// Package persistence provides SQLite-based snapshot storage for the town.
// Saves are full replaces of a serializable snapshot; there are no
// durability guarantees beyond that.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/smalltown/internal/agents"
	"github.com/talgya/smalltown/internal/engine"
	"github.com/talgya/smalltown/internal/memory"
	"github.com/talgya/smalltown/internal/nav"
	"github.com/talgya/smalltown/internal/social"
)

// Meta keys.
const (
	MetaLastTick = "last_tick"
	MetaMinutes  = "minutes"
	MetaSeed     = "seed"
)

// DB wraps a SQLite connection for world state persistence.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		profile_json TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		tile_x INTEGER NOT NULL,
		tile_y INTEGER NOT NULL,
		state INTEGER NOT NULL,
		status_json TEXT NOT NULL,
		next_decision_tick INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memories (
		agent_id TEXT PRIMARY KEY,
		stream_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS relationships (
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		weight INTEGER NOT NULL,
		last_interaction INTEGER NOT NULL,
		PRIMARY KEY (source, target)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		kind TEXT NOT NULL,
		payload_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// SaveAgents writes all agents to the database (full replace).
func (db *DB) SaveAgents(roster []*agents.Agent) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents"); err != nil {
		return err
	}

	stmt, err := tx.Preparex(`INSERT INTO agents
		(id, profile_json, x, y, tile_x, tile_y, state, status_json, next_decision_tick)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range roster {
		profileJSON, _ := json.Marshal(a.Profile)
		statusJSON, _ := json.Marshal(a.Status)

		_, err := stmt.Exec(
			a.ID, string(profileJSON), a.X, a.Y, a.Tile.X, a.Tile.Y,
			a.State, string(statusJSON), a.NextDecisionTick,
		)
		if err != nil {
			return fmt.Errorf("insert agent %s: %w", a.ID, err)
		}
	}

	return tx.Commit()
}

// SaveMemories writes every agent's memory stream (full replace).
func (db *DB) SaveMemories(stores map[string]*memory.Store) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM memories"); err != nil {
		return err
	}

	for agentID, store := range stores {
		data, err := store.ToJSON()
		if err != nil {
			return fmt.Errorf("serialize memories for %s: %w", agentID, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO memories (agent_id, stream_json) VALUES (?, ?)",
			agentID, string(data),
		); err != nil {
			return fmt.Errorf("insert memories for %s: %w", agentID, err)
		}
	}

	return tx.Commit()
}

// SaveRelationships writes every directed edge (full replace).
func (db *DB) SaveRelationships(graph *social.Graph) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM relationships"); err != nil {
		return err
	}

	for _, e := range graph.AllEdges() {
		if _, err := tx.Exec(
			"INSERT INTO relationships (source, target, weight, last_interaction) VALUES (?, ?, ?, ?)",
			e.Source, e.Target, e.Weight, e.LastInteraction,
		); err != nil {
			return fmt.Errorf("insert edge %s->%s: %w", e.Source, e.Target, err)
		}
	}

	return tx.Commit()
}

// SaveEvents appends a drained event batch to the history table.
func (db *DB) SaveEvents(events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		payload, _ := json.Marshal(e)
		if _, err := tx.Exec(
			"INSERT INTO events (tick, kind, payload_json) VALUES (?, ?, ?)",
			e.Tick, string(e.Kind), string(payload),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in world metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM world_meta WHERE key = ?", key)
	return value, err
}

// SaveWorldState performs a full snapshot save of the kernel.
func (db *DB) SaveWorldState(k *engine.Kernel, seed int64) error {
	slog.Info("saving world state", "agents", len(k.Agents), "tick", k.CurrentTick())

	if err := db.SaveAgents(k.Agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	if err := db.SaveMemories(k.Memories); err != nil {
		return fmt.Errorf("save memories: %w", err)
	}
	if err := db.SaveRelationships(k.Graph); err != nil {
		return fmt.Errorf("save relationships: %w", err)
	}
	if err := db.SaveMeta(MetaLastTick, strconv.FormatUint(k.CurrentTick(), 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := db.SaveMeta(MetaMinutes, strconv.Itoa(k.Clock.TotalMinutes())); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := db.SaveMeta(MetaSeed, strconv.FormatInt(seed, 10)); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}

	slog.Info("world state saved")
	return nil
}

// RestoreWorldState overlays a saved snapshot onto a freshly built kernel.
// Agents present in the save overwrite their generated counterparts; a save
// from a different roster leaves unknown agents untouched.
func (db *DB) RestoreWorldState(k *engine.Kernel, memCfg memory.Config) error {
	type agentRow struct {
		ID               string  `db:"id"`
		ProfileJSON      string  `db:"profile_json"`
		X                float64 `db:"x"`
		Y                float64 `db:"y"`
		TileX            int     `db:"tile_x"`
		TileY            int     `db:"tile_y"`
		State            uint8   `db:"state"`
		StatusJSON       string  `db:"status_json"`
		NextDecisionTick uint64  `db:"next_decision_tick"`
	}

	var rows []agentRow
	if err := db.conn.Select(&rows, "SELECT * FROM agents"); err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	restored := 0
	for _, row := range rows {
		a, ok := k.AgentIndex[row.ID]
		if !ok {
			continue
		}
		if err := json.Unmarshal([]byte(row.ProfileJSON), &a.Profile); err != nil {
			return fmt.Errorf("decode profile for %s: %w", row.ID, err)
		}
		if err := json.Unmarshal([]byte(row.StatusJSON), &a.Status); err != nil {
			return fmt.Errorf("decode status for %s: %w", row.ID, err)
		}
		a.MoveTo(nav.Tile{X: row.TileX, Y: row.TileY})
		a.X, a.Y = row.X, row.Y
		a.State = agents.State(row.State)
		if a.State == agents.StateConversing {
			// Conversations are not part of the snapshot; an agent saved
			// mid-conversation would otherwise wait forever for its end.
			a.State = agents.StateIdle
		}
		a.ClearPath()
		a.NextDecisionTick = row.NextDecisionTick
		restored++
	}

	type memRow struct {
		AgentID    string `db:"agent_id"`
		StreamJSON string `db:"stream_json"`
	}
	var memRows []memRow
	if err := db.conn.Select(&memRows, "SELECT * FROM memories"); err != nil {
		return fmt.Errorf("load memories: %w", err)
	}
	for _, row := range memRows {
		if _, ok := k.Memories[row.AgentID]; !ok {
			continue
		}
		store, err := memory.FromJSON([]byte(row.StreamJSON), memCfg)
		if err != nil {
			return fmt.Errorf("decode memories for %s: %w", row.AgentID, err)
		}
		k.Memories[row.AgentID] = store
	}

	type edgeRow struct {
		Source          string `db:"source"`
		Target          string `db:"target"`
		Weight          int    `db:"weight"`
		LastInteraction int    `db:"last_interaction"`
	}
	var edges []edgeRow
	if err := db.conn.Select(&edges, "SELECT source, target, weight, last_interaction FROM relationships"); err != nil {
		return fmt.Errorf("load relationships: %w", err)
	}
	for _, e := range edges {
		k.Graph.Restore(social.Edge{
			Source: e.Source, Target: e.Target,
			Weight: e.Weight, LastInteraction: e.LastInteraction,
		})
	}

	if v, err := db.GetMeta(MetaLastTick); err == nil {
		if tick, err := strconv.ParseUint(v, 10, 64); err == nil {
			k.SetTick(tick)
		}
	}
	if v, err := db.GetMeta(MetaMinutes); err == nil {
		if minutes, err := strconv.Atoi(v); err == nil {
			k.Clock.SetMinutes(minutes)
		}
	}

	slog.Info("world state restored",
		"agents", restored, "memories", len(memRows), "edges", len(edges),
		"tick", k.CurrentTick())
	return nil
}

// HasSave reports whether the database contains a previous snapshot.
func (db *DB) HasSave() bool {
	_, err := db.GetMeta(MetaLastTick)
	return err == nil
}

// RecentEvents returns the payloads of the most recent N stored events.
func (db *DB) RecentEvents(limit int) ([]engine.Event, error) {
	var payloads []string
	err := db.conn.Select(&payloads,
		"SELECT payload_json FROM events ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	events := make([]engine.Event, 0, len(payloads))
	for _, p := range payloads {
		var e engine.Event
		if err := json.Unmarshal([]byte(p), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
