//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"recapture/internal/model"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		DELETE FROM datasets;
		DELETE FROM posterior_summaries;
		DELETE FROM abundance_tables;
	`)
	return err
}

func (s *SQLiteStore) SaveDataset(ctx context.Context, dataset model.Dataset) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeDataset(dataset)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO datasets (id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, dataset.ID, dataset.SchemaVersion, dataset.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (model.Dataset, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.Dataset{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM datasets WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Dataset{}, false, nil
		}
		return model.Dataset{}, false, err
	}

	dataset, err := DecodeDataset(payload)
	if err != nil {
		return model.Dataset{}, false, fmt.Errorf("decode dataset %s: %w", id, err)
	}
	return dataset, true, nil
}

func (s *SQLiteStore) SavePosteriorSummary(ctx context.Context, summary model.PosteriorSummary) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodePosteriorSummary(summary)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO posterior_summaries (run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, summary.RunID, summary.SchemaVersion, summary.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetPosteriorSummary(ctx context.Context, runID string) (model.PosteriorSummary, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.PosteriorSummary{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM posterior_summaries WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.PosteriorSummary{}, false, nil
		}
		return model.PosteriorSummary{}, false, err
	}

	summary, err := DecodePosteriorSummary(payload)
	if err != nil {
		return model.PosteriorSummary{}, false, fmt.Errorf("decode posterior summary %s: %w", runID, err)
	}
	return summary, true, nil
}

func (s *SQLiteStore) SaveAbundance(ctx context.Context, table model.AbundanceTable) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeAbundance(table)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO abundance_tables (run_id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, table.RunID, table.SchemaVersion, table.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetAbundance(ctx context.Context, runID string) (model.AbundanceTable, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.AbundanceTable{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM abundance_tables WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.AbundanceTable{}, false, nil
		}
		return model.AbundanceTable{}, false, err
	}

	table, err := DecodeAbundance(payload)
	if err != nil {
		return model.AbundanceTable{}, false, fmt.Errorf("decode abundance table %s: %w", runID, err)
	}
	return table, true, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS posterior_summaries (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS abundance_tables (
			run_id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	return err
}
