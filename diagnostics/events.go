package diagnostics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// EventKind classifies a recorded fault row.
type EventKind int

const (
	EventOverCapacity EventKind = iota + 1
	EventChunkDecodeFailed
)

func (k EventKind) String() string {
	switch k {
	case EventOverCapacity:
		return "over_capacity"
	case EventChunkDecodeFailed:
		return "chunk_decode_failed"
	default:
		return "unknown"
	}
}

// Event is one durable fault row, persisted as a row in a modernc.org/sqlite
// diagnostics database for offline post-mortem.
type Event struct {
	Kind     EventKind
	TreeID   uint64
	ChunkID  uint32
	Detail   string
	Recorded time.Time
}

// EventStore is a single-writer SQLite-backed event log, serialized through
// one background goroutine the way the retrieved corpus's indexdb package
// serializes audit writes against its sql.DB (a single connection, a
// buffered request channel, one writer goroutine).
type EventStore struct {
	db *sql.DB

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once
}

// OpenEventStore opens (creating if needed) a SQLite database at path and
// starts its writer goroutine.
func OpenEventStore(path string) (*EventStore, error) {
	if path == "" {
		return nil, fmt.Errorf("diagnostics: empty event store path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("diagnostics: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("diagnostics: %w", err)
		}
	}

	const schema = `CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		tree_id INTEGER NOT NULL,
		chunk_id INTEGER NOT NULL,
		detail TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("diagnostics: %w", err)
	}

	s := &EventStore{
		db: db,
		ch: make(chan Event, 4096),
	}
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// Record enqueues an event for the writer goroutine; it never blocks the
// caller on disk I/O.
func (s *EventStore) Record(e Event) error {
	if e.Recorded.IsZero() {
		e.Recorded = time.Now()
	}
	select {
	case s.ch <- e:
		return nil
	default:
		return fmt.Errorf("diagnostics: event queue full, dropping %s event", e.Kind)
	}
}

func (s *EventStore) loop() {
	defer s.wg.Done()
	const insert = `INSERT INTO events (kind, tree_id, chunk_id, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`
	for e := range s.ch {
		_, _ = s.db.Exec(insert, e.Kind.String(), e.TreeID, e.ChunkID, e.Detail, e.Recorded.Format(time.RFC3339Nano))
	}
}

// Close drains pending writes and closes the database.
func (s *EventStore) Close() error {
	var err error
	s.once.Do(func() {
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// CountByKind is a test/introspection helper returning how many rows of
// kind exist.
func (s *EventStore) CountByKind(kind EventKind) (int, error) {
	var n int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM events WHERE kind = ?`, kind.String())
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("diagnostics: %w", err)
	}
	return n, nil
}
