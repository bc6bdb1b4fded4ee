package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Predictions table - one row per completed classification
		`CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			recognizer TEXT NOT NULL,
			session_id TEXT NOT NULL,
			label TEXT NOT NULL,
			class_index INTEGER NOT NULL,
			confidence REAL NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Samples table - labelled windows recorded for template training
		`CREATE TABLE IF NOT EXISTS samples (
			id TEXT PRIMARY KEY,
			recognizer TEXT NOT NULL,
			label TEXT NOT NULL,
			frames INTEGER NOT NULL,
			dim INTEGER NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE INDEX IF NOT EXISTS idx_predictions_recognizer ON predictions(recognizer, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_recognizer ON samples(recognizer, label)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
