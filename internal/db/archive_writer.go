package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SaveSessionArchive inserts or refreshes the archive row, idempotent by
// session_id so re-archiving after a later stage just updates the snapshot.
func (c *Client) SaveSessionArchive(ctx context.Context, archive *SessionArchive) error {
	if archive.ID == uuid.Nil {
		archive.ID = uuid.New()
	}
	if archive.ArchivedAt.IsZero() {
		archive.ArchivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO research_sessions (
			id, session_id, query, stage, status, rounds, snapshot,
			started_at, completed_at, archived_at
		) VALUES (
			:id, :session_id, :query, :stage, :status, :rounds, :snapshot,
			:started_at, :completed_at, :archived_at
		)
		ON CONFLICT (session_id) DO UPDATE SET
			stage = EXCLUDED.stage,
			status = EXCLUDED.status,
			rounds = EXCLUDED.rounds,
			snapshot = EXCLUDED.snapshot,
			completed_at = EXCLUDED.completed_at,
			archived_at = EXCLUDED.archived_at`

	if _, err := c.db.NamedExecContext(ctx, query, archive); err != nil {
		return fmt.Errorf("save session archive %s: %w", archive.SessionID, err)
	}
	return nil
}

// SaveSynthesisReport inserts or replaces the final report for a session.
func (c *Client) SaveSynthesisReport(ctx context.Context, report *SynthesisReport) error {
	if report.ID == uuid.Nil {
		report.ID = uuid.New()
	}
	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO synthesis_reports (
			id, session_id, report, key_findings, confidence,
			generated_at, created_at
		) VALUES (
			:id, :session_id, :report, :key_findings, :confidence,
			:generated_at, :created_at
		)
		ON CONFLICT (session_id) DO UPDATE SET
			report = EXCLUDED.report,
			key_findings = EXCLUDED.key_findings,
			confidence = EXCLUDED.confidence,
			generated_at = EXCLUDED.generated_at`

	if _, err := c.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("save synthesis report %s: %w", report.SessionID, err)
	}
	return nil
}

// GetSessionArchive loads the archive row for a session. Returns
// sql.ErrNoRows (wrapped) when the session was never archived.
func (c *Client) GetSessionArchive(ctx context.Context, sessionID string) (*SessionArchive, error) {
	var archive SessionArchive
	err := c.db.GetContext(ctx, &archive, `
		SELECT id, session_id, query, stage, status, rounds, snapshot,
		       started_at, completed_at, archived_at
		FROM research_sessions
		WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session archive %s: %w", sessionID, err)
	}
	return &archive, nil
}

// GetSynthesisReport loads the persisted report for a session.
func (c *Client) GetSynthesisReport(ctx context.Context, sessionID string) (*SynthesisReport, error) {
	var report SynthesisReport
	err := c.db.GetContext(ctx, &report, `
		SELECT id, session_id, report, key_findings, confidence,
		       generated_at, created_at
		FROM synthesis_reports
		WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load synthesis report %s: %w", sessionID, err)
	}
	return &report, nil
}

// ListRecentArchives returns the newest archive rows.
func (c *Client) ListRecentArchives(ctx context.Context, limit int) ([]SessionArchive, error) {
	if limit <= 0 {
		limit = 50
	}
	var archives []SessionArchive
	err := c.db.SelectContext(ctx, &archives, `
		SELECT id, session_id, query, stage, status, rounds, snapshot,
		       started_at, completed_at, archived_at
		FROM research_sessions
		ORDER BY archived_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list session archives: %w", err)
	}
	return archives, nil
}
