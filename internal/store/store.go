package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andresmejia3/moodscan/internal/types"
)

// ErrSessionNotFound is returned when a session id is unknown.
var ErrSessionNotFound = errors.New("capture session not found")

// Store records capture sessions and their classifications in PostgreSQL.
// Overlapping ticks may write concurrently, so it sits on a pool.
type Store struct {
	pool *pgxpool.Pool
}

// Session is one row of the history listing.
type Session struct {
	ID         uuid.UUID
	SourceKind types.SourceKind
	SourceID   string
	StartedAt  time.Time
	EndedAt    *time.Time
	Total      int
	TopEmotion types.Emotion
}

// EmotionCount aggregates the detected results of one label.
type EmotionCount struct {
	Emotion       types.Emotion
	Count         int
	AvgConfidence float64
}

// Summary is the per-emotion breakdown of a session.
type Summary struct {
	Emotions []EmotionCount
	NoFace   int
	Total    int
}

// New connects to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS capture_sessions (
			id UUID PRIMARY KEY,
			source_kind TEXT NOT NULL,
			source_id TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			ended_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS classifications (
			id BIGSERIAL PRIMARY KEY,
			session_id UUID NOT NULL REFERENCES capture_sessions(id) ON DELETE CASCADE,
			face_detected BOOLEAN NOT NULL,
			emotion TEXT,
			confidence INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS classifications_session_id_idx ON classifications (session_id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// StartSession opens a new session and returns its id.
func (s *Store) StartSession(ctx context.Context, kind types.SourceKind, sourceID string) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO capture_sessions (id, source_kind, source_id, started_at)
		VALUES ($1, $2, $3, NOW())
	`, id, string(kind), sourceID)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// EndSession stamps the end time. Ending a session twice keeps the first stamp.
func (s *Store) EndSession(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE capture_sessions SET ended_at = COALESCE(ended_at, NOW()) WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// RecordClassification stores one accepted result.
func (s *Store) RecordClassification(ctx context.Context, sessionID uuid.UUID, r types.ClassificationResult) error {
	var emotion *string
	if r.FaceDetected {
		e := string(r.Emotion)
		emotion = &e
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO classifications (session_id, face_detected, emotion, confidence)
		VALUES ($1, $2, $3, $4)
	`, sessionID, r.FaceDetected, emotion, r.Confidence)
	return err
}

// ListSessions returns every session, newest first, with its result count and
// most frequent detected emotion.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.source_kind, s.source_id, s.started_at, s.ended_at,
			COUNT(c.id),
			COALESCE(mode() WITHIN GROUP (ORDER BY c.emotion) FILTER (WHERE c.face_detected), '')
		FROM capture_sessions s
		LEFT JOIN classifications c ON c.session_id = s.id
		GROUP BY s.id
		ORDER BY s.started_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var kind, top string
		if err := rows.Scan(&sess.ID, &kind, &sess.SourceID, &sess.StartedAt, &sess.EndedAt, &sess.Total, &top); err != nil {
			return nil, err
		}
		sess.SourceKind = types.SourceKind(kind)
		sess.TopEmotion = types.Emotion(top)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// EmotionSummary breaks a session down by emotion, most frequent first.
func (s *Store) EmotionSummary(ctx context.Context, sessionID uuid.UUID) (*Summary, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM capture_sessions WHERE id = $1)", sessionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrSessionNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT emotion, COUNT(*), AVG(confidence)::float8
		FROM classifications
		WHERE session_id = $1 AND face_detected
		GROUP BY emotion
		ORDER BY COUNT(*) DESC, emotion ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (EmotionCount, error) {
		var ec EmotionCount
		var emotion string
		err := row.Scan(&emotion, &ec.Count, &ec.AvgConfidence)
		ec.Emotion = types.Emotion(emotion)
		return ec, err
	})
	if err != nil {
		return nil, err
	}

	summary := &Summary{Emotions: counts}
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT face_detected)
		FROM classifications WHERE session_id = $1
	`, sessionID).Scan(&summary.Total, &summary.NoFace)
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS classifications CASCADE;
		DROP TABLE IF EXISTS capture_sessions CASCADE;
	`)
	return err
}
