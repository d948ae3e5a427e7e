// Package ring implements the sequenced, timestamped table-valued ring
// store that backs the "rs:" route driver. Each named ring is a table of rows with a monotonic sequence
// number and a timestamp, stored in a shared SQLite database via
// modernc.org/sqlite — grounded on shoal's internal/database/database.go,
// which opens the same driver under the name "sqlite" and wraps it
// behind a typed handle; here the connection sets a busy_timeout pragma.
//
// TailCache, a bounded LRU of rings' most recent rows
// (github.com/hashicorp/golang-lru/v2), backs the "rs:" route driver's
// Read. The HTTP daemon's /local and /localtsv handlers query the Store
// directly and do not use it.
package ring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"
)

// Row is one timestamped, sequenced entry in a ring.
type Row struct {
	Seq    int64
	Time   time.Time
	Fields map[string]string
}

// Store owns the backing SQLite database for every ring opened by this
// process.
type Store struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
}

// Open opens (creating if needed) the SQLite-backed ring store at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("ring: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ring: ping %s: %w", path, err)
	}
	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS ring_row (
			ring TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			fields TEXT NOT NULL,
			PRIMARY KEY (ring, seq)
		)`)
	if err != nil {
		return nil, fmt.Errorf("ring: migrate: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the backing database.
func (s *Store) Close() error { return s.db.Close() }

// Append writes one row to the named ring and returns its assigned
// sequence number (1-based, monotonic per ring).
func (s *Store) Append(name string, fields map[string]string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var maxSeq sql.NullInt64
	row := s.db.QueryRow(`SELECT MAX(seq) FROM ring_row WHERE ring = ?`, name)
	if err := row.Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("ring: append %s: %w", name, err)
	}
	next := maxSeq.Int64 + 1

	enc, err := json.Marshal(fields)
	if err != nil {
		return 0, err
	}
	_, err = s.db.Exec(`INSERT INTO ring_row (ring, seq, ts, fields) VALUES (?, ?, ?, ?)`,
		name, next, time.Now().Unix(), string(enc))
	if err != nil {
		return 0, fmt.Errorf("ring: append %s: %w", name, err)
	}
	return next, nil
}

// Since returns rows with Seq strictly greater than since, ascending.
func (s *Store) Since(name string, since int64) ([]Row, error) {
	rows, err := s.db.Query(`SELECT seq, ts, fields FROM ring_row
		WHERE ring = ? AND seq > ? ORDER BY seq ASC`, name, since)
	if err != nil {
		return nil, fmt.Errorf("ring: since %s: %w", name, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var seq, ts int64
		var enc string
		if err := rows.Scan(&seq, &ts, &enc); err != nil {
			return nil, err
		}
		var fields map[string]string
		if err := json.Unmarshal([]byte(enc), &fields); err != nil {
			return nil, err
		}
		out = append(out, Row{Seq: seq, Time: time.Unix(ts, 0).UTC(), Fields: fields})
	}
	return out, rows.Err()
}

// Tell reports the highest sequence number, row count and most recent
// timestamp for the named ring.
func (s *Store) Tell(name string) (seq int64, count int64, modified time.Time, err error) {
	row := s.db.QueryRow(`SELECT COUNT(*), COALESCE(MAX(seq),0), COALESCE(MAX(ts),0)
		FROM ring_row WHERE ring = ?`, name)
	var ts int64
	if err := row.Scan(&count, &seq, &ts); err != nil {
		return 0, 0, time.Time{}, err
	}
	return seq, count, time.Unix(ts, 0).UTC(), nil
}

// TailCache bounds in-memory retention of a ring's most recent rows to
// the `keep` hint carried by a job-table row. It is used by the "rs:"
// route driver's Read.
type TailCache struct {
	cache *lru.Cache[string, []Row]
}

// NewTailCache builds a cache holding up to size rings' tails.
func NewTailCache(size int) (*TailCache, error) {
	if size <= 0 {
		size = 64
	}
	c, err := lru.New[string, []Row](size)
	if err != nil {
		return nil, err
	}
	return &TailCache{cache: c}, nil
}

// Tail returns up to `keep` most recent rows for name, refreshing from
// store if the cached tail is stale (its last seq is behind store's).
func (t *TailCache) Tail(store *Store, name string, keep int) ([]Row, error) {
	if keep <= 0 {
		keep = 100
	}
	latestSeq, _, _, err := store.Tell(name)
	if err != nil {
		return nil, err
	}
	if cached, ok := t.cache.Get(name); ok && len(cached) > 0 && cached[len(cached)-1].Seq == latestSeq {
		return cached, nil
	}
	since := latestSeq - int64(keep)
	if since < 0 {
		since = 0
	}
	rows, err := store.Since(name, since)
	if err != nil {
		return nil, err
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Seq < rows[j].Seq })
	t.cache.Add(name, rows)
	return rows, nil
}
