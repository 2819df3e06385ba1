// Package takes records tracking sessions to SQLite so they can be listed
// and replayed later.
package takes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/normanking/cortexpuppet/internal/landmarks"
	"github.com/normanking/cortexpuppet/internal/mapper"
	_ "modernc.org/sqlite"
)

var (
	// ErrTakeNotFound is returned when a take id is unknown.
	ErrTakeNotFound = errors.New("takes: take not found")

	// ErrTakeFinished is returned when appending to a finished take.
	ErrTakeFinished = errors.New("takes: take already finished")
)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Take is one recorded session.
type Take struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	CharacterID string     `json:"characterId"`
	TemplateID  string     `json:"templateId,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	FrameCount  int        `json:"frameCount"`
}

// Frame is one recorded frame and the result it produced. Result is nil for
// frames without a face.
type Frame struct {
	Seq    uint64           `json:"seq"`
	Input  *landmarks.Frame `json:"input"`
	Result *mapper.Result   `json:"result,omitempty"`
}

// Store persists takes in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the take database at path. The parent directory is
// created if it doesn't exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS takes (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		character_id TEXT NOT NULL,
		template_id TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		finished_at TEXT,
		frame_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_takes_started_at ON takes(started_at DESC);

	CREATE TABLE IF NOT EXISTS take_frames (
		take_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		input TEXT NOT NULL,
		result TEXT,
		PRIMARY KEY (take_id, seq),
		FOREIGN KEY (take_id) REFERENCES takes(id) ON DELETE CASCADE
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateTake starts a new take. ID and StartedAt are filled in when empty.
func (s *Store) CreateTake(ctx context.Context, t Take) (*Take, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.StartedAt.IsZero() {
		t.StartedAt = time.Now().UTC()
	}
	t.FinishedAt = nil
	t.FrameCount = 0

	_, err := s.db.ExecContext(ctx, `
	INSERT INTO takes (id, session_id, character_id, template_id, started_at)
	VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.CharacterID, t.TemplateID, t.StartedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return nil, fmt.Errorf("create take: %w", err)
	}
	return &t, nil
}

// AppendFrame records one frame to an open take.
func (s *Store) AppendFrame(ctx context.Context, takeID string, f Frame) error {
	input, err := json.Marshal(f.Input)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	var result sql.NullString
	if f.Result != nil {
		b, err := json.Marshal(f.Result)
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		result = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
	UPDATE takes SET frame_count = frame_count + 1
	WHERE id = ? AND finished_at IS NULL`, takeID)
	if err != nil {
		return fmt.Errorf("append frame: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrFinished(ctx, tx, takeID)
	}

	if _, err := tx.ExecContext(ctx, `
	INSERT INTO take_frames (take_id, seq, input, result)
	VALUES (?, ?, ?, ?)`, takeID, int64(f.Seq), string(input), result); err != nil {
		return fmt.Errorf("append frame: %w", err)
	}
	return tx.Commit()
}

// FinishTake marks a take finished. Finishing twice is an error.
func (s *Store) FinishTake(ctx context.Context, takeID string) error {
	res, err := s.db.ExecContext(ctx, `
	UPDATE takes SET finished_at = ?
	WHERE id = ? AND finished_at IS NULL`,
		time.Now().UTC().Format(timeFormat), takeID)
	if err != nil {
		return fmt.Errorf("finish take: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.missingOrFinished(ctx, s.db, takeID)
	}
	return nil
}

// Prune deletes finished takes started before cutoff, with their frames.
// Takes still recording are kept. It returns how many takes were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	ts := cutoff.UTC().Format(timeFormat)
	if _, err := tx.ExecContext(ctx, `
	DELETE FROM take_frames WHERE take_id IN (
		SELECT id FROM takes WHERE finished_at IS NOT NULL AND started_at < ?
	)`, ts); err != nil {
		return 0, fmt.Errorf("prune frames: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
	DELETE FROM takes WHERE finished_at IS NOT NULL AND started_at < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("prune takes: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(n), nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) missingOrFinished(ctx context.Context, q queryer, takeID string) error {
	var id string
	err := q.QueryRowContext(ctx, `SELECT id FROM takes WHERE id = ?`, takeID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrTakeNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup take: %w", err)
	}
	return ErrTakeFinished
}

const takeColumns = `id, session_id, character_id, template_id, started_at, finished_at, frame_count`

// Take returns one take by id.
func (s *Store) Take(ctx context.Context, takeID string) (*Take, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+takeColumns+` FROM takes WHERE id = ?`, takeID)
	t, err := scanTake(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTakeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load take: %w", err)
	}
	return t, nil
}

// ListTakes returns all takes, newest first.
func (s *Store) ListTakes(ctx context.Context) ([]*Take, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+takeColumns+` FROM takes ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list takes: %w", err)
	}
	defer rows.Close()

	var out []*Take
	for rows.Next() {
		t, err := scanTake(rows)
		if err != nil {
			return nil, fmt.Errorf("scan take: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Frames returns a take's frames in recording order.
func (s *Store) Frames(ctx context.Context, takeID string) ([]Frame, error) {
	if _, err := s.Take(ctx, takeID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT seq, input, result FROM take_frames
	WHERE take_id = ? ORDER BY seq`, takeID)
	if err != nil {
		return nil, fmt.Errorf("load frames: %w", err)
	}
	defer rows.Close()

	var out []Frame
	for rows.Next() {
		var (
			seq    int64
			input  string
			result sql.NullString
		)
		if err := rows.Scan(&seq, &input, &result); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}

		f := Frame{Seq: uint64(seq)}
		if err := json.Unmarshal([]byte(input), &f.Input); err != nil {
			return nil, fmt.Errorf("decode frame %d: %w", seq, err)
		}
		if result.Valid {
			if err := json.Unmarshal([]byte(result.String), &f.Result); err != nil {
				return nil, fmt.Errorf("decode result %d: %w", seq, err)
			}
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTake(row scanner) (*Take, error) {
	var (
		t          Take
		startedAt  string
		finishedAt sql.NullString
	)
	if err := row.Scan(&t.ID, &t.SessionID, &t.CharacterID, &t.TemplateID, &startedAt, &finishedAt, &t.FrameCount); err != nil {
		return nil, err
	}

	var err error
	t.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if finishedAt.Valid {
		ft, err := time.Parse(time.RFC3339Nano, finishedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		t.FinishedAt = &ft
	}
	return &t, nil
}
