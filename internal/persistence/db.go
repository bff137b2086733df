// Package persistence provides SQLite-backed storage for the event log,
// world snapshots, registered agents, and recorded entry payments.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/crossroads-oasis/internal/engine"
	"github.com/talgya/crossroads-oasis/internal/world"
)

// Store wraps a SQLite connection for event-sourced world persistence.
type Store struct {
	conn          *sqlx.DB
	snapshotEvery uint64
}

// Open opens or creates a SQLite database at path and runs migrations.
func Open(path string, snapshotEveryTicks uint64) (*Store, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	st := &Store{conn: conn, snapshotEvery: snapshotEveryTicks}
	if err := st.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return st, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		agent_id TEXT PRIMARY KEY,
		api_key TEXT NOT NULL,
		state_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_ref TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		paid_asset TEXT NOT NULL,
		paid_amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		type TEXT NOT NULL,
		agent_id TEXT,
		payload_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_snapshots (
		tick INTEGER PRIMARY KEY,
		state_json TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_tick ON events(tick);
	CREATE INDEX IF NOT EXISTS idx_events_tick_type ON events(tick, type);
	CREATE INDEX IF NOT EXISTS idx_agents_apikey ON agents(api_key);
	`
	if _, err := s.conn.Exec(schema); err != nil {
		return err
	}

	// Columns added after the initial schema — ignored on error since the
	// column may already exist on a database created by a later version
	// of this migration.
	migrations := []string{
		"ALTER TABLE agents ADD COLUMN wallet_address TEXT NOT NULL DEFAULT ''",
	}
	for _, m := range migrations {
		s.conn.Exec(m)
	}
	return nil
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// insertEvent writes a single event row and returns its assigned ID.
func (s *Store) insertEvent(ctx context.Context, tick uint64, typ string, agentID *string, payload map[string]any) (int64, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	res, err := s.conn.ExecContext(ctx,
		"INSERT INTO events (tick, type, agent_id, payload_json, created_at) VALUES (?, ?, ?, ?, ?)",
		tick, typ, agentID, string(buf), nowISO(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertSimpleEvent writes one standalone event (used by request-surface
// handlers outside the tick loop: ACTION_SUBMITTED, AGENT_ENTERED,
// WORLD_RESET, admin log events).
func (s *Store) InsertSimpleEvent(ctx context.Context, tick uint64, typ string, agentID string, payload map[string]any) error {
	var idPtr *string
	if agentID != "" {
		idPtr = &agentID
	}
	_, err := s.insertEvent(ctx, tick, typ, idPtr, payload)
	return err
}

// AppendEvents implements engine.EventSink: it records the tick-level
// TICK_RESOLVED summary (actions applied plus the count of events produced) and
// then one row per individual event, mirroring the original tick loop's
// two-pass insert.
func (s *Store) AppendEvents(ctx context.Context, tick uint64, actions map[string]engine.Action, events []engine.Event) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	summary := map[string]any{"actions": actions, "event_count": len(events)}
	buf, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO events (tick, type, agent_id, payload_json, created_at) VALUES (?, ?, NULL, ?, ?)",
		tick, "TICK_RESOLVED", string(buf), nowISO(),
	); err != nil {
		return err
	}

	for _, e := range events {
		payload, err := json.Marshal(e.Fields)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO events (tick, type, agent_id, payload_json, created_at) VALUES (?, ?, ?, ?, ?)",
			e.Tick, e.Type, e.AgentID, string(payload), nowISO(),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// MaybeSnapshot implements engine.EventSink: it persists snapshot if tick
// is a multiple of the configured snapshot interval.
func (s *Store) MaybeSnapshot(ctx context.Context, tick uint64, snapshot []byte) error {
	if s.snapshotEvery == 0 || tick%s.snapshotEvery != 0 {
		return nil
	}
	return s.SaveSnapshot(ctx, tick, snapshot)
}

// SaveSnapshot unconditionally persists a snapshot at tick, regardless of
// the snapshot interval — used for the final save on shutdown.
func (s *Store) SaveSnapshot(ctx context.Context, tick uint64, snapshot []byte) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO world_snapshots (tick, state_json, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(tick) DO UPDATE SET state_json=excluded.state_json, created_at=excluded.created_at`,
		tick, string(snapshot), nowISO(),
	)
	return err
}

// dbEvent mirrors one row of the events table.
type dbEvent struct {
	ID        int64   `db:"id"`
	Tick      uint64  `db:"tick"`
	Type      string  `db:"type"`
	AgentID   *string `db:"agent_id"`
	Payload   string  `db:"payload_json"`
	CreatedAt string  `db:"created_at"`
}

func (r dbEvent) toEvent() (engine.Event, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(r.Payload), &fields); err != nil {
		return engine.Event{}, err
	}
	created, _ := time.Parse(time.RFC3339Nano, r.CreatedAt)
	return engine.Event{
		ID:        r.ID,
		Tick:      r.Tick,
		Type:      r.Type,
		AgentID:   r.AgentID,
		Fields:    fields,
		CreatedAt: created,
	}, nil
}

// RecentEvents returns up to limit most recent events, newest first.
func (s *Store) RecentEvents(ctx context.Context, limit int) ([]engine.Event, error) {
	var rows []dbEvent
	if err := s.conn.SelectContext(ctx, &rows,
		"SELECT id, tick, type, agent_id, payload_json, created_at FROM events ORDER BY id DESC LIMIT ?", limit,
	); err != nil {
		return nil, fmt.Errorf("recent events: %w", err)
	}
	out := make([]engine.Event, 0, len(rows))
	for _, r := range rows {
		e, err := r.toEvent()
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// actionsForTick returns the ACTION_SUBMITTED payloads queued for tick,
// keyed by agent ID, for replay.
func (s *Store) actionsForTick(ctx context.Context, tick uint64) (map[string]engine.Action, error) {
	var rows []dbEvent
	if err := s.conn.SelectContext(ctx, &rows,
		"SELECT id, tick, type, agent_id, payload_json, created_at FROM events WHERE tick = ? AND type = ? ORDER BY id ASC",
		tick, "ACTION_SUBMITTED",
	); err != nil {
		return nil, err
	}
	out := make(map[string]engine.Action, len(rows))
	for _, r := range rows {
		if r.AgentID == nil {
			continue
		}
		act, err := engine.ParseAction(json.RawMessage(r.Payload))
		if err != nil {
			continue
		}
		out[*r.AgentID] = act
	}
	return out, nil
}

func (s *Store) maxResolvedTick(ctx context.Context) (uint64, error) {
	var t *uint64
	if err := s.conn.GetContext(ctx, &t, "SELECT MAX(tick) FROM events WHERE type = 'TICK_RESOLVED'"); err != nil {
		return 0, err
	}
	if t == nil {
		return 0, nil
	}
	return *t, nil
}

func (s *Store) latestSnapshot(ctx context.Context) (uint64, []byte, bool, error) {
	var row struct {
		Tick      uint64 `db:"tick"`
		StateJSON string `db:"state_json"`
	}
	err := s.conn.GetContext(ctx, &row, "SELECT tick, state_json FROM world_snapshots ORDER BY tick DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false, nil
	}
	if err != nil {
		return 0, nil, false, err
	}
	return row.Tick, []byte(row.StateJSON), true, nil
}

// LoadWorld implements the replay contract: load the latest snapshot (or
// build a fresh world at tick 0 if none exists), then replay every
// ACTION_SUBMITTED event bucketed by tick through the resolver up to the
// highest TICK_RESOLVED tick recorded.
func (s *Store) LoadWorld(ctx context.Context, size int) (*world.State, error) {
	snapTick, snapJSON, ok, err := s.latestSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var st *world.State
	if !ok {
		st = world.NewState(size)
		buf, err := st.Export()
		if err != nil {
			return nil, err
		}
		if _, err := s.conn.ExecContext(ctx,
			"INSERT INTO world_snapshots (tick, state_json, created_at) VALUES (0, ?, ?)", string(buf), nowISO(),
		); err != nil {
			return nil, fmt.Errorf("seed snapshot: %w", err)
		}
		return st, nil
	}

	st, err = world.ImportState(snapJSON)
	if err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}

	maxResolved, err := s.maxResolvedTick(ctx)
	if err != nil {
		return nil, err
	}
	if maxResolved <= snapTick {
		return st, nil
	}

	for t := snapTick + 1; t <= maxResolved; t++ {
		actions, err := s.actionsForTick(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("replay tick %d: %w", t, err)
		}
		engine.ResolveTick(st, actions)
	}
	return st, nil
}

// UpsertAgent stores or updates an agent's registration and current
// serialized state.
func (s *Store) UpsertAgent(ctx context.Context, agentID, apiKey, walletAddress string, stateJSON []byte) error {
	_, err := s.conn.ExecContext(ctx,
		`INSERT INTO agents (agent_id, api_key, state_json, wallet_address, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET api_key=excluded.api_key, state_json=excluded.state_json, wallet_address=excluded.wallet_address`,
		agentID, apiKey, string(stateJSON), walletAddress, nowISO(),
	)
	return err
}

// AgentIDByToken resolves an API key to its agent ID for request
// authentication.
func (s *Store) AgentIDByToken(ctx context.Context, apiKey string) (string, bool, error) {
	var agentID string
	err := s.conn.GetContext(ctx, &agentID, "SELECT agent_id FROM agents WHERE api_key = ? LIMIT 1", apiKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return agentID, true, nil
}

// ListAgentIDs returns every registered agent ID. Used at startup to
// rejoin any agent the snapshot+replay load missed — AGENT_ENTERED never
// replays through the tick log, so an agent minted after the last
// snapshot would otherwise be registered but absent from the live world.
func (s *Store) ListAgentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.conn.SelectContext(ctx, &ids, "SELECT agent_id FROM agents"); err != nil {
		return nil, err
	}
	return ids, nil
}

// InsertEntry records a completed entry-fee payment.
func (s *Store) InsertEntry(ctx context.Context, txRef, agentID, asset, amount string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO entries (tx_ref, agent_id, paid_asset, paid_amount, created_at) VALUES (?, ?, ?, ?, ?)",
		txRef, agentID, asset, amount, nowISO(),
	)
	return err
}

// ClearAgentsAndEntries wipes the agents and entries tables, used by the
// admin world-reset operation.
func (s *Store) ClearAgentsAndEntries(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM agents"); err != nil {
		return err
	}
	_, err := s.conn.ExecContext(ctx, "DELETE FROM entries")
	return err
}
