// Package store persists saved stories in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// DefaultTitle is used when a story is saved without one.
const DefaultTitle = "Untitled Story"

// ErrNotFound is returned when a story does not exist or belongs to another user.
var ErrNotFound = errors.New("story not found")

// Story is a saved story record.
type Story struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Story     string    `json:"story"`
	AudioURL  string    `json:"audioUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS stories (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			title      TEXT NOT NULL,
			image_url  TEXT NOT NULL DEFAULT '',
			story      TEXT NOT NULL,
			audio_url  TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_stories_user_created ON stories(user_id, created_at)`,
	}
}

// Store is a SQLite-backed story repository.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	for _, stmt := range migrations() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Create saves a new story for st.UserID and returns it with ID and CreatedAt set.
func (s *Store) Create(ctx context.Context, st Story) (Story, error) {
	if strings.TrimSpace(st.UserID) == "" {
		return Story{}, errors.New("user id is required")
	}
	if strings.TrimSpace(st.Story) == "" {
		return Story{}, errors.New("story text is required")
	}
	if strings.TrimSpace(st.Title) == "" {
		st.Title = DefaultTitle
	}
	id, err := uuid.NewV7()
	if err != nil {
		return Story{}, fmt.Errorf("generate id: %w", err)
	}
	st.ID = id.String()
	st.CreatedAt = s.now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO stories (id, user_id, title, image_url, story, audio_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.UserID, st.Title, st.ImageURL, st.Story, st.AudioURL, st.CreatedAt.UnixNano(),
	)
	if err != nil {
		return Story{}, fmt.Errorf("insert story: %w", err)
	}
	return st, nil
}

// ListByUser returns a user's stories, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, image_url, story, audio_url, created_at
		 FROM stories WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	defer rows.Close()

	stories := []Story{}
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, st)
	}
	return stories, rows.Err()
}

// Get returns one story owned by userID.
func (s *Store) Get(ctx context.Context, id, userID string) (Story, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, image_url, story, audio_url, created_at
		 FROM stories WHERE id = ? AND user_id = ?`, id, userID)
	st, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Story{}, ErrNotFound
	}
	return st, err
}

// Delete removes one story owned by userID and returns what was deleted.
func (s *Store) Delete(ctx context.Context, id, userID string) (Story, error) {
	st, err := s.Get(ctx, id, userID)
	if err != nil {
		return Story{}, err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM stories WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return Story{}, fmt.Errorf("delete story: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Story{}, ErrNotFound
	}
	return st, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStory(sc scanner) (Story, error) {
	var st Story
	var created int64
	if err := sc.Scan(&st.ID, &st.UserID, &st.Title, &st.ImageURL, &st.Story, &st.AudioURL, &created); err != nil {
		return Story{}, err
	}
	st.CreatedAt = time.Unix(0, created).UTC()
	return st, nil
}
