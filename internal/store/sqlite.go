// Package store contains the document-store adapters behind domain.Store:
// Firestore for production, Redis for self-hosted deployments, SQLite for
// local and offline use. All of them deliver full snapshots on every change;
// none of them attempts an incremental protocol.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ghostchat/internal/domain"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	sqlitePollInterval = 2 * time.Second

	// A snapshot read can fail transiently (an external writer holding the
	// file past the busy timeout); the subscription survives this many
	// consecutive failures before reporting the error.
	sqliteMaxReadFailures = 5
)

// SQLite implements domain.Store on a local database file. Subscribers in the
// same process are notified on every append; a low-frequency poll catches
// writers in other processes sharing the file.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger

	maxReadFailures int

	mu   sync.Mutex
	subs map[string][]chan struct{} // chatID -> wakeup channels
}

func NewSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLite{
		db:              db,
		logger:          logger,
		maxReadFailures: sqliteMaxReadFailures,
		subs:            make(map[string][]chan struct{}),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chats (
		id          TEXT PRIMARY KEY,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id             TEXT PRIMARY KEY,
		chat_id        TEXT NOT NULL REFERENCES chats(id),
		text           TEXT,
		image_encoded  TEXT,
		audio_encoded  TEXT,
		timestamp      INTEGER NOT NULL,
		sender_id      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, timestamp, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) CreateChat(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chats (id) VALUES (?)`, chatID)
	return err
}

func (s *SQLite) Exists(ctx context.Context, chatID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chats WHERE id = ?`, chatID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLite) Append(ctx context.Context, chatID string, msg domain.Message) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, text, image_encoded, audio_encoded, timestamp, sender_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, chatID, msg.Text, msg.ImageEncoded, msg.AudioEncoded, msg.Timestamp, msg.SenderID,
	)
	if err != nil {
		return "", err
	}
	s.notify(chatID)
	return id, nil
}

func (s *SQLite) snapshot(ctx context.Context, chatID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, image_encoded, audio_encoded, timestamp, sender_id
		 FROM messages WHERE chat_id = ?
		 ORDER BY timestamp, id`, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var text, image, audio sql.NullString
		if err := rows.Scan(&m.ID, &text, &image, &audio, &m.Timestamp, &m.SenderID); err != nil {
			return nil, err
		}
		m.Text = text.String
		m.ImageEncoded = image.String
		m.AudioEncoded = audio.String
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Subscribe delivers one initial snapshot, then a fresh snapshot on every
// in-process append (and on the poll tick, for external writers). Duplicate
// identical snapshots are fine: the sync engine diffs them away.
func (s *SQLite) Subscribe(ctx context.Context, chatID string) (<-chan domain.Snapshot, error) {
	wake := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs[chatID] = append(s.subs[chatID], wake)
	s.mu.Unlock()

	out := make(chan domain.Snapshot, 4)
	go func() {
		defer close(out)
		defer s.unsubscribe(chatID, wake)

		ticker := time.NewTicker(sqlitePollInterval)
		defer ticker.Stop()

		failures := 0
		deliver := func() bool {
			msgs, err := s.snapshot(ctx, chatID)
			if err != nil {
				if ctx.Err() != nil {
					return false
				}
				failures++
				if failures < s.maxReadFailures {
					// Keep the subscription; retry on the next wake or tick.
					s.logger.Warn("sqlite snapshot read failed, retrying",
						"chat", chatID, "attempt", failures, "err", err)
					return true
				}
				s.logger.Error("sqlite snapshot read failed repeatedly", "chat", chatID, "err", err)
				select {
				case out <- domain.Snapshot{Err: err}:
				case <-ctx.Done():
				}
				return false
			}
			failures = 0
			select {
			case out <- domain.Snapshot{Messages: msgs}:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !deliver() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-wake:
				if !deliver() {
					return
				}
			case <-ticker.C:
				if !deliver() {
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *SQLite) notify(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wake := range s.subs[chatID] {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (s *SQLite) unsubscribe(chatID string, wake chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chans := s.subs[chatID]
	for i, c := range chans {
		if c == wake {
			s.subs[chatID] = append(chans[:i], chans[i+1:]...)
			return
		}
	}
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
