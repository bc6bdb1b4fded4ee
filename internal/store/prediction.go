package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Prediction is one completed classification.
type Prediction struct {
	ID         string    `json:"id"`
	Recognizer string    `json:"recognizer"`
	SessionID  string    `json:"session_id"`
	Label      string    `json:"label"`
	ClassIndex int       `json:"class_index"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// PredictionRepository records and lists predictions.
type PredictionRepository struct {
	db *sql.DB
}

// Predictions returns the prediction repository for this store.
func (s *Store) Predictions() *PredictionRepository {
	return &PredictionRepository{db: s.db}
}

// Create inserts p, assigning its ID and CreatedAt when unset.
func (r *PredictionRepository) Create(p *Prediction) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(
		`INSERT INTO predictions (id, recognizer, session_id, label, class_index, confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Recognizer, p.SessionID, p.Label, p.ClassIndex, p.Confidence, p.CreatedAt,
	)
	return err
}

// List returns the most recent predictions, newest first. An empty
// recognizer lists every recognizer.
func (r *PredictionRepository) List(recognizer string, limit int) ([]Prediction, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, recognizer, session_id, label, class_index, confidence, created_at
		 FROM predictions`
	args := []any{}
	if recognizer != "" {
		query += ` WHERE recognizer = ?`
		args = append(args, recognizer)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := []Prediction{}
	for rows.Next() {
		var p Prediction
		if err := rows.Scan(&p.ID, &p.Recognizer, &p.SessionID, &p.Label,
			&p.ClassIndex, &p.Confidence, &p.CreatedAt); err != nil {
			return nil, err
		}
		predictions = append(predictions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return predictions, nil
}

// DeleteBefore removes predictions older than t and returns how many went.
func (r *PredictionRepository) DeleteBefore(t time.Time) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM predictions WHERE created_at < ?`, t)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
