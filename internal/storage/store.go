package storage

import (
	"context"

	"recapture/internal/model"
)

// Store defines persistence operations for survey datasets and fit
// outputs. Get methods report absence with the boolean, not an error.
type Store interface {
	Init(ctx context.Context) error
	Reset(ctx context.Context) error
	SaveDataset(ctx context.Context, dataset model.Dataset) error
	GetDataset(ctx context.Context, id string) (model.Dataset, bool, error)
	SavePosteriorSummary(ctx context.Context, summary model.PosteriorSummary) error
	GetPosteriorSummary(ctx context.Context, runID string) (model.PosteriorSummary, bool, error)
	SaveAbundance(ctx context.Context, table model.AbundanceTable) error
	GetAbundance(ctx context.Context, runID string) (model.AbundanceTable, bool, error)
}
