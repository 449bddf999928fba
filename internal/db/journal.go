package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/energizer-project/lobbylink/internal/events"
)

// JournalEntry is one recorded event.
type JournalEntry struct {
	ID      int64           `json:"id"`
	At      time.Time       `json:"at"`
	Type    string          `json:"type"`
	Source  string          `json:"source"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Journal persists link and address events so operators can see what the
// link did while nobody was watching.
type Journal struct {
	db *Database
}

// NewJournal opens the journal database and applies its schema.
func NewJournal(dbPath string) (*Journal, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	j := &Journal{db: database}
	if err := j.migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS link_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at_ms INTEGER NOT NULL,
			type TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_link_events_at ON link_events(at_ms);
		CREATE INDEX IF NOT EXISTS idx_link_events_type ON link_events(type);
	`
	_, err := j.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Attach subscribes the journal to every link event plus address changes.
func (j *Journal) Attach(bus *events.EventBus) {
	types := append([]events.EventType{events.EventAddressChanged}, events.LinkEventTypes...)
	bus.SubscribeMany(types, "journal", func(_ context.Context, e events.Event) error {
		return j.Record(e)
	})
}

// Record stores a single event.
func (j *Journal) Record(e events.Event) error {
	at := e.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	var payload []byte
	if e.Payload != nil {
		var err error
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", e.Type, err)
		}
	}

	_, err := j.db.Exec(
		"INSERT INTO link_events (at_ms, type, source, payload) VALUES (?, ?, ?, ?)",
		at.UnixMilli(), string(e.Type), e.Source, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to record %s: %w", e.Type, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. An empty eventType
// matches every type.
func (j *Journal) Recent(limit int, eventType string) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows *sql.Rows
		err  error
	)
	if eventType == "" {
		rows, err = j.db.Query(
			"SELECT id, at_ms, type, source, payload FROM link_events ORDER BY id DESC LIMIT ?",
			limit)
	} else {
		rows, err = j.db.Query(
			"SELECT id, at_ms, type, source, payload FROM link_events WHERE type = ? ORDER BY id DESC LIMIT ?",
			eventType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var (
			e       JournalEntry
			atMs    int64
			payload string
		)
		if err := rows.Scan(&e.ID, &atMs, &e.Type, &e.Source, &payload); err != nil {
			return nil, err
		}
		e.At = time.UnixMilli(atMs)
		if payload != "" {
			e.Payload = json.RawMessage(payload)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByType returns how many entries each event type has.
func (j *Journal) CountByType() (map[string]int, error) {
	rows, err := j.db.Query("SELECT type, COUNT(*) FROM link_events GROUP BY type")
	if err != nil {
		return nil, fmt.Errorf("failed to count journal entries: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many went.
func (j *Journal) Prune(cutoff time.Time) (int64, error) {
	res, err := j.db.Exec("DELETE FROM link_events WHERE at_ms < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune journal: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("journal pruned")
	}
	return n, nil
}
