package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sample is a labelled window of feature vectors recorded for training.
type Sample struct {
	ID         string      `json:"id"`
	Recognizer string      `json:"recognizer"`
	Label      string      `json:"label"`
	Frames     [][]float32 `json:"frames"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Dim returns the vector dimension of the sample.
func (s *Sample) Dim() int {
	if len(s.Frames) == 0 {
		return 0
	}
	return len(s.Frames[0])
}

// SampleRepository provides CRUD operations for samples.
type SampleRepository struct {
	db *sql.DB
}

// Samples returns the sample repository for this store.
func (s *Store) Samples() *SampleRepository {
	return &SampleRepository{db: s.db}
}

// Create inserts a sample, assigning its ID and CreatedAt when unset.
func (r *SampleRepository) Create(s *Sample) error {
	if len(s.Frames) == 0 {
		return fmt.Errorf("sample has no frames")
	}
	dim := s.Dim()
	for i, f := range s.Frames {
		if len(f) != dim {
			return fmt.Errorf("frame %d has %d values, expected %d", i, len(f), dim)
		}
	}

	data, err := json.Marshal(s.Frames)
	if err != nil {
		return err
	}

	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.Exec(
		`INSERT INTO samples (id, recognizer, label, frames, dim, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Recognizer, s.Label, len(s.Frames), dim, string(data), s.CreatedAt,
	)
	return err
}

// GetByID retrieves a sample by its ID.
func (r *SampleRepository) GetByID(id string) (*Sample, error) {
	row := r.db.QueryRow(
		`SELECT id, recognizer, label, data, created_at FROM samples WHERE id = ?`, id)

	s, err := scanSample(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// ListByRecognizer returns every sample for a recognizer, oldest first.
func (r *SampleRepository) ListByRecognizer(recognizer string) ([]Sample, error) {
	rows, err := r.db.Query(
		`SELECT id, recognizer, label, data, created_at
		 FROM samples
		 WHERE recognizer = ?
		 ORDER BY created_at, rowid`,
		recognizer,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		s, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		samples = append(samples, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// CountByLabel returns the number of samples per label for a recognizer.
func (r *SampleRepository) CountByLabel(recognizer string) (map[string]int, error) {
	rows, err := r.db.Query(
		`SELECT label, COUNT(*) FROM samples WHERE recognizer = ? GROUP BY label`, recognizer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}
	return counts, rows.Err()
}

// Delete removes a sample by its ID.
func (r *SampleRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM samples WHERE id = ?`, id)
	if err != nil {
		return err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSample(sc scanner) (*Sample, error) {
	var s Sample
	var data string
	if err := sc.Scan(&s.ID, &s.Recognizer, &s.Label, &data, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(data), &s.Frames); err != nil {
		return nil, fmt.Errorf("decode sample %s: %w", s.ID, err)
	}
	return &s, nil
}
