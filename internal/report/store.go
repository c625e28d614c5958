// Package report persists abuse reports in PostgreSQL. Each report
// records who reported whom (by fingerprint), the room it happened in,
// and a snapshot of the last few messages for moderator review.
package report

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// validReasons mirrors the CHECK constraint on the abuse_reports table.
var validReasons = map[string]bool{
	"harassment": true,
	"spam":       true,
	"explicit":   true,
	"underage":   true,
	"other":      true,
}

// ValidReason reports whether reason is one of the accepted values.
func ValidReason(reason string) bool {
	return validReasons[reason]
}

// Store manages abuse reports in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Report is one abuse report to persist.
type Report struct {
	ReporterFingerprint string
	ReportedFingerprint string
	RoomID              string
	Reason              string
	Transcript          []TranscriptEntry
}

// TranscriptEntry is one message in the conversation snapshot attached
// to a report. From is anonymised to "reporter" or "reported".
type TranscriptEntry struct {
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// NewStore returns a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a report and returns its generated id. The transcript
// is stored as JSONB; the reason must be in the accepted set.
func (s *Store) Create(ctx context.Context, r *Report) (string, error) {
	if !validReasons[r.Reason] {
		return "", fmt.Errorf("report: invalid reason %q", r.Reason)
	}

	var transcriptJSON []byte
	if len(r.Transcript) > 0 {
		var err error
		transcriptJSON, err = json.Marshal(r.Transcript)
		if err != nil {
			return "", fmt.Errorf("report: marshal transcript: %w", err)
		}
	}

	id := uuid.New().String()
	const query = `
		INSERT INTO abuse_reports (id, reporter_fingerprint, reported_fingerprint, room_id, reason, transcript)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		id,
		r.ReporterFingerprint,
		r.ReportedFingerprint,
		r.RoomID,
		r.Reason,
		transcriptJSON,
	)
	if err != nil {
		return "", fmt.Errorf("report: insert: %w", err)
	}
	return id, nil
}

// CountRecent returns how many reports were filed against a fingerprint
// within the window. Feeds the auto-ban check alongside the Redis
// counter, and gives moderators a durable count.
func (s *Store) CountRecent(ctx context.Context, reportedFingerprint string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE reported_fingerprint = $1
		  AND created_at >= NOW() - $2::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, reportedFingerprint, window.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
