package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/holon-run/prquiz/pkg/mockbackend"
	"github.com/holon-run/prquiz/pkg/quiz"
)

// timeLayout has fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var _ mockbackend.Store = (*Store)(nil)

// Store is the SQLite implementation of mockbackend.Store.
type Store struct {
	db *DB
}

// NewStore wraps db. Closing the store closes db.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Create(ctx context.Context, r mockbackend.Record) error {
	const query = `
		INSERT INTO quizzes (id, url, metadata, status, attempts, created_at, last_attempt_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	meta, err := marshalMetadata(r.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.Writer.ExecContext(ctx, query,
		r.ID, r.URL, meta, string(r.State), r.Attempts,
		formatTime(r.CreatedAt), nullTime(r.LastAttemptAt),
	)
	if err != nil {
		return fmt.Errorf("insert quiz %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (mockbackend.Record, error) {
	const query = `
		SELECT id, url, metadata, status, attempts, created_at, last_attempt_at
		FROM quizzes
		WHERE id = ?
	`
	r, err := scanRecord(s.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return mockbackend.Record{}, mockbackend.ErrNotFound
	}
	if err != nil {
		return mockbackend.Record{}, fmt.Errorf("get quiz %s: %w", id, err)
	}
	return r, nil
}

// Update overwrites the mutable fields: status, attempts and last attempt.
func (s *Store) Update(ctx context.Context, r mockbackend.Record) error {
	const query = `
		UPDATE quizzes
		SET status = ?, attempts = ?, last_attempt_at = ?
		WHERE id = ?
	`
	res, err := s.db.Writer.ExecContext(ctx, query,
		string(r.State), r.Attempts, nullTime(r.LastAttemptAt), r.ID)
	if err != nil {
		return fmt.Errorf("update quiz %s: %w", r.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update quiz %s: %w", r.ID, err)
	}
	if n == 0 {
		return mockbackend.ErrNotFound
	}
	return nil
}

// List returns every quiz, oldest first.
func (s *Store) List(ctx context.Context) ([]mockbackend.Record, error) {
	const query = `
		SELECT id, url, metadata, status, attempts, created_at, last_attempt_at
		FROM quizzes
		ORDER BY created_at, id
	`
	rows, err := s.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var out []mockbackend.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.Reader.QueryRowContext(ctx, `SELECT COUNT(*) FROM quizzes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count quizzes: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (mockbackend.Record, error) {
	var (
		r           mockbackend.Record
		meta, state string
		createdAt   string
		lastAttempt sql.NullString
	)
	if err := row.Scan(&r.ID, &r.URL, &meta, &state, &r.Attempts, &createdAt, &lastAttempt); err != nil {
		return mockbackend.Record{}, err
	}

	if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
		return mockbackend.Record{}, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
	}
	parsed, err := quiz.ParseState(state)
	if err != nil {
		return mockbackend.Record{}, err
	}
	r.State = parsed

	if r.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return mockbackend.Record{}, fmt.Errorf("parse created_at of %s: %w", r.ID, err)
	}
	if lastAttempt.Valid {
		at, err := time.Parse(timeLayout, lastAttempt.String)
		if err != nil {
			return mockbackend.Record{}, fmt.Errorf("parse last_attempt_at of %s: %w", r.ID, err)
		}
		r.LastAttemptAt = &at
	}
	return r, nil
}

func marshalMetadata(m mockbackend.Metadata) (string, error) {
	if m.FilesChanged == nil {
		m.FilesChanged = []quiz.FileChange{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}
