package storage

import (
	"context"
	"sync"

	"recapture/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	datasets    map[string]model.Dataset
	posteriors  map[string]model.PosteriorSummary
	abundances  map[string]model.AbundanceTable
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Init is idempotent: repeated calls keep existing records.
func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.datasets = make(map[string]model.Dataset)
	s.posteriors = make(map[string]model.PosteriorSummary)
	s.abundances = make(map[string]model.AbundanceTable)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.datasets = make(map[string]model.Dataset)
	s.posteriors = make(map[string]model.PosteriorSummary)
	s.abundances = make(map[string]model.AbundanceTable)
	return nil
}

func (s *MemoryStore) SaveDataset(_ context.Context, dataset model.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasets[dataset.ID] = dataset
	return nil
}

func (s *MemoryStore) GetDataset(_ context.Context, id string) (model.Dataset, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dataset, ok := s.datasets[id]
	return dataset, ok, nil
}

func (s *MemoryStore) SavePosteriorSummary(_ context.Context, summary model.PosteriorSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.posteriors[summary.RunID] = summary
	return nil
}

func (s *MemoryStore) GetPosteriorSummary(_ context.Context, runID string) (model.PosteriorSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.posteriors[runID]
	return summary, ok, nil
}

func (s *MemoryStore) SaveAbundance(_ context.Context, table model.AbundanceTable) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.abundances[table.RunID] = table
	return nil
}

func (s *MemoryStore) GetAbundance(_ context.Context, runID string) (model.AbundanceTable, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	table, ok := s.abundances[runID]
	return table, ok, nil
}
