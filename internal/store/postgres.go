// Package store persists interview artifacts: transcript metadata in
// PostgreSQL and recordings on the local filesystem.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the interviews table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS interviews (
    id                TEXT PRIMARY KEY,
    candidate_id      TEXT NOT NULL DEFAULT '',
    topic             TEXT NOT NULL,
    recording_url     TEXT NOT NULL DEFAULT '',
    interviewer_turns JSONB NOT NULL DEFAULT '[]',
    candidate_turns   JSONB NOT NULL DEFAULT '[]',
    report            JSONB,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_interviews_candidate ON interviews(candidate_id);
CREATE INDEX IF NOT EXISTS idx_interviews_topic ON interviews(topic);
`

// Interview is one persisted interview session.
type Interview struct {
	ID               string          `json:"id"`
	CandidateID      string          `json:"candidate_id"`
	Topic            string          `json:"topic"`
	RecordingURL     string          `json:"recording_url"`
	InterviewerTurns []string        `json:"interviewerTurns"`
	CandidateTurns   []string        `json:"candidateTurns"`
	Report           json.RawMessage `json:"report,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Validate checks the fields that the schema cannot.
func (iv *Interview) Validate() error {
	if strings.TrimSpace(iv.Topic) == "" {
		return errors.New("store: topic must not be empty")
	}
	return nil
}

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists interviews in PostgreSQL, serialising the turn
// lists and the report as JSONB.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a store over the given connection or pool. The
// caller is responsible for calling [PostgresStore.Migrate] before issuing
// queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Save inserts an interview and returns its ID. An empty ID is replaced
// with a fresh UUID; a caller-supplied ID that already exists is an error.
func (s *PostgresStore) Save(ctx context.Context, iv *Interview) (string, error) {
	if err := iv.Validate(); err != nil {
		return "", err
	}
	if iv.ID == "" {
		iv.ID = uuid.NewString()
	}

	ivJSON, err := json.Marshal(emptySlice(iv.InterviewerTurns))
	if err != nil {
		return "", fmt.Errorf("store: marshal interviewer_turns: %w", err)
	}
	cdJSON, err := json.Marshal(emptySlice(iv.CandidateTurns))
	if err != nil {
		return "", fmt.Errorf("store: marshal candidate_turns: %w", err)
	}

	const query = `
		INSERT INTO interviews (
			id, candidate_id, topic, recording_url,
			interviewer_turns, candidate_turns, report
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at`

	err = s.db.QueryRow(ctx, query,
		iv.ID, iv.CandidateID, iv.Topic, iv.RecordingURL,
		ivJSON, cdJSON, nullableJSON(iv.Report),
	).Scan(&iv.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return "", fmt.Errorf("store: interview %q already exists", iv.ID)
		}
		return "", fmt.Errorf("store: save: %w", err)
	}
	return iv.ID, nil
}

// Get retrieves an interview by ID. It returns (nil, nil) if no interview
// with the given ID exists.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Interview, error) {
	const query = `
		SELECT id, candidate_id, topic, recording_url,
		       interviewer_turns, candidate_turns, report, created_at
		FROM interviews
		WHERE id = $1`

	var iv Interview
	var ivJSON, cdJSON, reportJSON []byte

	err := s.db.QueryRow(ctx, query, id).Scan(
		&iv.ID, &iv.CandidateID, &iv.Topic, &iv.RecordingURL,
		&ivJSON, &cdJSON, &reportJSON, &iv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}

	if err := unmarshalTurns(&iv, ivJSON, cdJSON, reportJSON); err != nil {
		return nil, err
	}
	return &iv, nil
}

// List returns interviews, optionally filtered by candidate ID, newest
// first. An empty candidateID returns all interviews.
func (s *PostgresStore) List(ctx context.Context, candidateID string) ([]Interview, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if candidateID == "" {
		const query = `
			SELECT id, candidate_id, topic, recording_url,
			       interviewer_turns, candidate_turns, report, created_at
			FROM interviews
			ORDER BY created_at DESC`
		rows, err = s.db.Query(ctx, query)
	} else {
		const query = `
			SELECT id, candidate_id, topic, recording_url,
			       interviewer_turns, candidate_turns, report, created_at
			FROM interviews
			WHERE candidate_id = $1
			ORDER BY created_at DESC`
		rows, err = s.db.Query(ctx, query, candidateID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Interview
	for rows.Next() {
		var iv Interview
		var ivJSON, cdJSON, reportJSON []byte

		if err := rows.Scan(
			&iv.ID, &iv.CandidateID, &iv.Topic, &iv.RecordingURL,
			&ivJSON, &cdJSON, &reportJSON, &iv.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		if err := unmarshalTurns(&iv, ivJSON, cdJSON, reportJSON); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

// AttachReport stores an evaluation report on an already saved interview.
func (s *PostgresStore) AttachReport(ctx context.Context, id string, report json.RawMessage) error {
	const query = `UPDATE interviews SET report = $2 WHERE id = $1 RETURNING id`

	var got string
	err := s.db.QueryRow(ctx, query, id, []byte(report)).Scan(&got)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("store: interview %q not found", id)
		}
		return fmt.Errorf("store: attach report: %w", err)
	}
	return nil
}

// unmarshalTurns deserialises the JSONB columns into the [Interview].
func unmarshalTurns(iv *Interview, ivJSON, cdJSON, reportJSON []byte) error {
	if err := json.Unmarshal(ivJSON, &iv.InterviewerTurns); err != nil {
		return fmt.Errorf("store: unmarshal interviewer_turns: %w", err)
	}
	if err := json.Unmarshal(cdJSON, &iv.CandidateTurns); err != nil {
		return fmt.Errorf("store: unmarshal candidate_turns: %w", err)
	}
	if len(reportJSON) > 0 {
		iv.Report = append(json.RawMessage(nil), reportJSON...)
	}
	return nil
}

// emptySlice returns s if non-nil, otherwise an empty non-nil slice. This
// ensures JSON marshalling produces "[]" instead of "null".
func emptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// nullableJSON maps an empty report to SQL NULL.
func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// isDuplicateKeyError checks whether a PostgreSQL error is a
// unique-violation (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
