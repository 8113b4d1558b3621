package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/meridian-lab/fathom/internal/models"
)

// JSONB represents a PostgreSQL jsonb column.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
	return json.Unmarshal(bytes, j)
}

// SessionArchive is the durable snapshot of a research session. Redis holds
// the live state with a TTL; the archive row outlives it.
type SessionArchive struct {
	ID          uuid.UUID  `db:"id"`
	SessionID   string     `db:"session_id"`
	Query       string     `db:"query"`
	Stage       string     `db:"stage"`
	Status      string     `db:"status"`
	Rounds      int        `db:"rounds"`
	Snapshot    JSONB      `db:"snapshot"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
	ArchivedAt  time.Time  `db:"archived_at"`
}

// NewSessionArchive snapshots a session into its archive row. The full
// session document goes into the jsonb snapshot; the scalar columns exist
// for querying.
func NewSessionArchive(s *models.ResearchSession) *SessionArchive {
	snapshot := JSONB{}
	if data, err := json.Marshal(s); err == nil {
		_ = json.Unmarshal(data, &snapshot)
	}

	archive := &SessionArchive{
		ID:         uuid.New(),
		SessionID:  s.ID,
		Query:      s.Query,
		Stage:      string(s.Stage),
		Status:     s.Status,
		Rounds:     s.CompletedRounds(),
		Snapshot:   snapshot,
		StartedAt:  s.CreatedAt,
		ArchivedAt: time.Now().UTC(),
	}
	if s.Status != models.StatusActive {
		completed := s.UpdatedAt
		archive.CompletedAt = &completed
	}
	return archive
}

// SynthesisReport is the persisted final report, one row per session.
type SynthesisReport struct {
	ID          uuid.UUID      `db:"id"`
	SessionID   string         `db:"session_id"`
	Report      string         `db:"report"`
	KeyFindings pq.StringArray `db:"key_findings"`
	Confidence  float64        `db:"confidence"`
	GeneratedAt time.Time      `db:"generated_at"`
	CreatedAt   time.Time      `db:"created_at"`
}

// NewSynthesisReport converts a synthesis result into its archive row.
func NewSynthesisReport(sessionID string, r *models.SynthesisResult) *SynthesisReport {
	return &SynthesisReport{
		ID:          uuid.New(),
		SessionID:   sessionID,
		Report:      r.Report,
		KeyFindings: pq.StringArray(r.KeyFindings),
		Confidence:  r.Confidence,
		GeneratedAt: r.GeneratedAt,
		CreatedAt:   time.Now().UTC(),
	}
}
