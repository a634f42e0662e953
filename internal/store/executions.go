package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ExecutionRecord is the persisted form of a workflow execution. Steps and
// participants are stored as JSON blobs; the engine owns the live struct.
type ExecutionRecord struct {
	ID           string          `json:"id"`
	WorkflowType string          `json:"workflow_type"`
	Task         string          `json:"task"`
	Participants []string        `json:"participants"`
	Status       string          `json:"status"`
	Steps        json.RawMessage `json:"steps,omitempty"`
	Summary      string          `json:"summary,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

func (s *Store) SaveExecution(rec *ExecutionRecord) error {
	participants, err := json.Marshal(rec.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO executions (id, workflow_type, task, participants, status, steps, summary, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			steps = excluded.steps,
			summary = excluded.summary,
			error = excluded.error`,
		rec.ID, rec.WorkflowType, rec.Task, string(participants),
		rec.Status, nullableJSON(rec.Steps), rec.Summary, rec.Error)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

func (s *Store) UpdateExecution(id, status string, steps json.RawMessage, summary, errMsg string) error {
	_, err := s.db.Exec(`
		UPDATE executions
		SET status = ?, steps = ?, summary = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, nullableJSON(steps), summary, errMsg, id)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}
	return nil
}

func (s *Store) GetExecution(id string) (*ExecutionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, workflow_type, task, participants, status, steps, summary, error, started_at, completed_at
		FROM executions WHERE id = ?`, id)
	rec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}
	return rec, nil
}

func (s *Store) ListExecutions(status string, limit int) ([]ExecutionRecord, error) {
	query := `
		SELECT id, workflow_type, task, participants, status, steps, summary, error, started_at, completed_at
		FROM executions`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY started_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var recs []ExecutionRecord
	for rows.Next() {
		rec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *Store) DeleteExecution(id string) error {
	_, err := s.db.Exec(`DELETE FROM executions WHERE id = ?`, id)
	return err
}

// CountExecutionsByStatus powers the status endpoint.
func (s *Store) CountExecutionsByStatus() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM executions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count executions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*ExecutionRecord, error) {
	rec := &ExecutionRecord{}
	var participants string
	var steps, summary, errMsg *string
	err := scanner.Scan(&rec.ID, &rec.WorkflowType, &rec.Task, &participants,
		&rec.Status, &steps, &summary, &errMsg, &rec.StartedAt, &rec.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(participants), &rec.Participants); err != nil {
		return nil, fmt.Errorf("unmarshal participants: %w", err)
	}
	if steps != nil {
		rec.Steps = json.RawMessage(*steps)
	}
	if summary != nil {
		rec.Summary = *summary
	}
	if errMsg != nil {
		rec.Error = *errMsg
	}
	return rec, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
