package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/convoychat/convoy/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT,
			start_time TEXT NOT NULL,
			end_time TEXT,
			duration_seconds INTEGER,
			summary TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL CHECK (role IN ('user', 'assistant', 'system', 'tool')),
			content TEXT NOT NULL,
			tool_call_id TEXT,
			tool_name TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a new session with start time = now.
func (s *SQLiteStore) CreateSession(ctx context.Context, sessionID, userID string) error {
	var user sql.NullString
	if userID != "" {
		user = sql.NullString{String: userID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, start_time) VALUES (?, ?, ?)`,
		sessionID, user, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID, or (nil, nil) when absent.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var session domain.Session
	var userID, endTime, summary sql.NullString
	var duration sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, start_time, end_time, duration_seconds, summary, created_at
		 FROM sessions WHERE session_id = ?`,
		sessionID).Scan(&session.SessionID, &userID, &session.StartTime, &endTime, &duration, &summary, &session.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.UserID = userID.String
	session.EndTime = endTime.String
	session.Summary = summary.String
	if duration.Valid {
		d := int(duration.Int64)
		session.DurationSeconds = &d
	}
	return &session, nil
}

// UpdateSessionSummary writes end time, duration and summary in one update.
func (s *SQLiteStore) UpdateSessionSummary(ctx context.Context, sessionID string, endTime time.Time, durationSeconds int, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET end_time = ?, duration_seconds = ?, summary = ? WHERE session_id = ?`,
		endTime.UTC().Format(time.RFC3339), durationSeconds, summary, sessionID)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// InsertEvent appends one event and backfills its ID.
func (s *SQLiteStore) InsertEvent(ctx context.Context, event *domain.Event) error {
	if !event.Role.Valid() {
		return fmt.Errorf("invalid role %q", event.Role)
	}
	var toolCallID, toolName sql.NullString
	if event.ToolCallID != "" {
		toolCallID = sql.NullString{String: event.ToolCallID, Valid: true}
	}
	if event.ToolName != "" {
		toolName = sql.NullString{String: event.ToolName, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, role, content, tool_call_id, tool_name) VALUES (?, ?, ?, ?, ?)`,
		event.SessionID, string(event.Role), event.Content, toolCallID, toolName)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	event.ID = id
	return nil
}

// GetSessionEvents returns all events for a session ordered by insertion.
func (s *SQLiteStore) GetSessionEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, tool_call_id, tool_name, created_at
		 FROM events WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var event domain.Event
		var role string
		var toolCallID, toolName sql.NullString
		if err := rows.Scan(&event.ID, &event.SessionID, &role, &event.Content, &toolCallID, &toolName, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.Role = domain.Role(role)
		event.ToolCallID = toolCallID.String
		event.ToolName = toolName.String
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get session events: %w", err)
	}
	return events, nil
}
