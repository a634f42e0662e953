package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SpecialistRecord is the persisted snapshot of a registry entry. The live
// registry owns the agent handle; the store keeps only what status queries
// and the web API need.
type SpecialistRecord struct {
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Capabilities []string  `json:"capabilities"`
	Model        string    `json:"model,omitempty"`
	Ordinal      int       `json:"ordinal"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Store) SaveSpecialist(rec *SpecialistRecord) error {
	caps, err := json.Marshal(rec.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO specialists (name, role, capabilities, model, ordinal)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			role = excluded.role,
			capabilities = excluded.capabilities,
			model = excluded.model,
			ordinal = excluded.ordinal,
			updated_at = CURRENT_TIMESTAMP`,
		rec.Name, rec.Role, string(caps), rec.Model, rec.Ordinal)
	if err != nil {
		return fmt.Errorf("save specialist: %w", err)
	}
	return nil
}

func (s *Store) GetSpecialist(name string) (*SpecialistRecord, error) {
	row := s.db.QueryRow(`
		SELECT name, role, capabilities, model, ordinal, created_at
		FROM specialists WHERE name = ?`, name)
	rec, err := scanSpecialist(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get specialist: %w", err)
	}
	return rec, nil
}

func (s *Store) ListSpecialists() ([]SpecialistRecord, error) {
	rows, err := s.db.Query(`
		SELECT name, role, capabilities, model, ordinal, created_at
		FROM specialists ORDER BY ordinal`)
	if err != nil {
		return nil, fmt.Errorf("list specialists: %w", err)
	}
	defer rows.Close()

	var recs []SpecialistRecord
	for rows.Next() {
		rec, err := scanSpecialist(rows)
		if err != nil {
			return nil, fmt.Errorf("scan specialist: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

func (s *Store) DeleteSpecialist(name string) error {
	_, err := s.db.Exec(`DELETE FROM specialists WHERE name = ?`, name)
	return err
}

func (s *Store) DeleteSpecialistsNotIn(names []string) error {
	if len(names) == 0 {
		_, err := s.db.Exec(`DELETE FROM specialists`)
		return err
	}
	placeholders := strings.Repeat("?,", len(names)-1) + "?"
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	_, err := s.db.Exec(`DELETE FROM specialists WHERE name NOT IN (`+placeholders+`)`, args...)
	return err
}

func scanSpecialist(scanner interface {
	Scan(dest ...any) error
}) (*SpecialistRecord, error) {
	rec := &SpecialistRecord{}
	var caps string
	var model *string
	err := scanner.Scan(&rec.Name, &rec.Role, &caps, &model, &rec.Ordinal, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}
	if model != nil {
		rec.Model = *model
	}
	if err := json.Unmarshal([]byte(caps), &rec.Capabilities); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	return rec, nil
}
