package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/mwatts/peanutgallery/internal/logging"
)

const (
	// Byte budgets for eviction. Per-content keeps one title from
	// crowding out the rest; global bounds the whole database.
	DefaultContentBudget = 5 * 1024 * 1024
	DefaultGlobalBudget  = 20 * 1024 * 1024
)

// Record is one cached comment keyed by content, cue, and persona. The
// scene signature and prompt version travel with it so the engine can
// reject entries generated under a different mood or prompt layout.
type Record struct {
	ID            string
	ContentID     string
	CueID         string
	PersonaID     string
	StartMs       int64
	PromptHash    string
	PromptVersion int
	Tone          string
	Energy        string
	Intensity     float64
	Text          string
	SizeBytes     int64
	CreatedAt     time.Time
	LastAccessed  time.Time
}

// ContentSize is one row of a size report
type ContentSize struct {
	ContentID string
	Bytes     int64
	Entries   int
}

// Store persists generated comments in SQLite so replays and re-watches
// skip the language model entirely.
type Store struct {
	db            *sql.DB
	entropy       *rand.Rand
	contentBudget int64
	globalBudget  int64
}

// Open opens or creates the cache database at dbPath
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	s := &Store{
		db:            db,
		entropy:       rand.New(rand.NewSource(time.Now().UnixNano())),
		contentBudget: DefaultContentBudget,
		globalBudget:  DefaultGlobalBudget,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return s, nil
}

// SetBudgets overrides the eviction thresholds (tests use small ones)
func (s *Store) SetBudgets(perContent, global int64) {
	if perContent > 0 {
		s.contentBudget = perContent
	}
	if global > 0 {
		s.globalBudget = global
	}
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS comments (
		id             TEXT PRIMARY KEY,
		content_id     TEXT NOT NULL,
		cue_id         TEXT NOT NULL,
		persona_id     TEXT NOT NULL,
		start_ms       INTEGER NOT NULL DEFAULT 0,
		prompt_hash    TEXT NOT NULL,
		prompt_version INTEGER NOT NULL DEFAULT 1,
		tone           TEXT NOT NULL DEFAULT '',
		energy         TEXT NOT NULL DEFAULT '',
		intensity      REAL NOT NULL DEFAULT 0,
		text           TEXT NOT NULL,
		size_bytes     INTEGER NOT NULL,
		created_at     TEXT NOT NULL,
		last_accessed  TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_comments_key
		ON comments(content_id, cue_id, persona_id);
	CREATE INDEX IF NOT EXISTS idx_comments_content ON comments(content_id);
	CREATE INDEX IF NOT EXISTS idx_comments_accessed ON comments(last_accessed);
	CREATE INDEX IF NOT EXISTS idx_comments_start ON comments(content_id, start_ms);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

// Get returns the cached comment for a cue/persona pair and bumps its
// last-accessed time. Returns (nil, nil) on a miss.
func (s *Store) Get(ctx context.Context, contentID, cueID, personaID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, content_id, cue_id, persona_id, start_ms, prompt_hash,
		       prompt_version, tone, energy, intensity, text, size_bytes,
		       created_at, last_accessed
		FROM comments
		WHERE content_id = ? AND cue_id = ? AND persona_id = ?`,
		contentID, cueID, personaID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`UPDATE comments SET last_accessed = ? WHERE id = ?`, now, rec.ID); err != nil {
		logging.Debug("cache", "touch failed for %s: %v", rec.ID, err)
	}
	return rec, nil
}

// Put stores a comment, replacing any prior entry for the same key, then
// enforces the byte budgets.
func (s *Store) Put(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	if rec.SizeBytes == 0 {
		rec.SizeBytes = int64(len(rec.Text)) + int64(len(rec.PromptHash)) + 64
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastAccessed.IsZero() {
		rec.LastAccessed = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, content_id, cue_id, persona_id, start_ms,
			prompt_hash, prompt_version, tone, energy, intensity, text,
			size_bytes, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(content_id, cue_id, persona_id) DO UPDATE SET
			id = excluded.id,
			start_ms = excluded.start_ms,
			prompt_hash = excluded.prompt_hash,
			prompt_version = excluded.prompt_version,
			tone = excluded.tone,
			energy = excluded.energy,
			intensity = excluded.intensity,
			text = excluded.text,
			size_bytes = excluded.size_bytes,
			created_at = excluded.created_at,
			last_accessed = excluded.last_accessed`,
		rec.ID, rec.ContentID, rec.CueID, rec.PersonaID, rec.StartMs,
		rec.PromptHash, rec.PromptVersion, rec.Tone, rec.Energy, rec.Intensity,
		rec.Text, rec.SizeBytes,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.LastAccessed.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}

	if err := s.evict(ctx, rec.ContentID); err != nil {
		logging.Debug("cache", "eviction failed: %v", err)
	}
	return nil
}

// evict drops least-recently-used rows until both budgets are honored
func (s *Store) evict(ctx context.Context, contentID string) error {
	if err := s.evictScope(ctx, contentID, s.contentBudget); err != nil {
		return err
	}
	return s.evictScope(ctx, "", s.globalBudget)
}

func (s *Store) evictScope(ctx context.Context, contentID string, budget int64) error {
	where, args := "", []any{}
	if contentID != "" {
		where = "WHERE content_id = ?"
		args = append(args, contentID)
	}

	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx,
		"SELECT SUM(size_bytes) FROM comments "+where, args...).Scan(&total); err != nil {
		return err
	}
	excess := total.Int64 - budget
	if excess <= 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, size_bytes FROM comments "+where+" ORDER BY last_accessed ASC", args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	var victims []string
	for rows.Next() && excess > 0 {
		var id string
		var size int64
		if err := rows.Scan(&id, &size); err != nil {
			return err
		}
		victims = append(victims, id)
		excess -= size
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, id := range victims {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM comments WHERE id = ?", id); err != nil {
			return err
		}
	}
	if len(victims) > 0 {
		logging.Debug("cache", "evicted %d entries (scope=%q)", len(victims), contentID)
	}
	return nil
}

// PurgeFuture removes cached comments at or after fromMs for one title.
// Used when the viewer asks for a regeneration from the current position.
func (s *Store) PurgeFuture(ctx context.Context, contentID string, fromMs int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM comments WHERE content_id = ? AND start_ms >= ?", contentID, fromMs)
	if err != nil {
		return 0, fmt.Errorf("cache purge: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearContent removes every cached comment for one title
func (s *Store) ClearContent(ctx context.Context, contentID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM comments WHERE content_id = ?", contentID)
	if err != nil {
		return 0, fmt.Errorf("cache clear content: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ClearAll empties the cache
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM comments"); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	return nil
}

// SizeReport returns per-title sizes sorted largest first, plus the total
func (s *Store) SizeReport(ctx context.Context) ([]ContentSize, int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT content_id, SUM(size_bytes), COUNT(*)
		FROM comments GROUP BY content_id ORDER BY SUM(size_bytes) DESC`)
	if err != nil {
		return nil, 0, fmt.Errorf("cache size report: %w", err)
	}
	defer rows.Close()

	var report []ContentSize
	var total int64
	for rows.Next() {
		var cs ContentSize
		if err := rows.Scan(&cs.ContentID, &cs.Bytes, &cs.Entries); err != nil {
			return nil, 0, err
		}
		report = append(report, cs)
		total += cs.Bytes
	}
	return report, total, rows.Err()
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var created, accessed string
	err := row.Scan(&rec.ID, &rec.ContentID, &rec.CueID, &rec.PersonaID,
		&rec.StartMs, &rec.PromptHash, &rec.PromptVersion, &rec.Tone,
		&rec.Energy, &rec.Intensity, &rec.Text, &rec.SizeBytes,
		&created, &accessed)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.LastAccessed, _ = time.Parse(time.RFC3339Nano, accessed)
	return &rec, nil
}
