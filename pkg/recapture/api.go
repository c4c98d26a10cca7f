// Package recapture is the programmatic surface of the abundance
// pipeline: transform a detection table into a dataset, fit the
// state-space model, and query the persisted outputs.
package recapture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"recapture/internal/abundance"
	"recapture/internal/capture"
	"recapture/internal/dataio"
	"recapture/internal/diagnostics"
	"recapture/internal/model"
	"recapture/internal/sampler"
	"recapture/internal/statespace"
	"recapture/internal/stats"
	"recapture/internal/storage"
)

const (
	defaultResultsDir = "results"
	defaultExportsDir = "exports"
	defaultDBPath     = "recapture.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	ResultsDir string
	ExportsDir string
}

type Client struct {
	store storage.Store

	resultsDir string
	exportsDir string
}

type TransformRequest struct {
	TablePath  string
	GridSpec   string
	CensorPath string
	DatasetID  string
}

type TransformSummary struct {
	DatasetID   string
	Individuals int
	Primaries   int
	Secondaries int
	Caught      []int

	ExcludedNoDetection int
	ExcludedInvalidAge  int
	ExcludedFinalFirst  int
	ExcludedNoInterval  int
}

type RunRequest struct {
	DatasetID string

	// Zero values fall back to the sampler defaults.
	Chains     int
	Iterations int
	BurnIn     int
	Thin       int
	Seed       uint64
	GammaStep  float64
	MuStep     float64
}

type RunSummary struct {
	RunID        string
	DatasetID    string
	ArtifactsDir string
	Draws        int
	Parameters   []model.ParameterSummary
	Warnings     []string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	DatasetID    string
	Individuals  int
	Primaries    int
	Chains       int
	Iterations   int
	Seed         uint64
	Warnings     int
}

type PosteriorRequest struct {
	RunID  string
	Latest bool
}

type AbundanceRequest struct {
	RunID  string
	Latest bool
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	resultsDir := opts.ResultsDir
	if resultsDir == "" {
		resultsDir = defaultResultsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		resultsDir: resultsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

func (c *Client) Reset(ctx context.Context) error {
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	return c.store.Reset(ctx)
}

func (c *Client) Transform(ctx context.Context, req TransformRequest) (TransformSummary, error) {
	if req.TablePath == "" {
		return TransformSummary{}, errors.New("transform requires a detection table path")
	}
	if req.GridSpec == "" {
		return TransformSummary{}, errors.New("transform requires an occasion grid")
	}

	grid, err := dataio.ParseOccasionGrid(req.GridSpec)
	if err != nil {
		return TransformSummary{}, err
	}

	tableFile, err := os.Open(req.TablePath)
	if err != nil {
		return TransformSummary{}, err
	}
	defer tableFile.Close()

	rows, err := dataio.ReadDetectionTable(tableFile, grid)
	if err != nil {
		return TransformSummary{}, fmt.Errorf("detection table %s: %w", req.TablePath, err)
	}

	var censor map[string]int
	if req.CensorPath != "" {
		censorFile, err := os.Open(req.CensorPath)
		if err != nil {
			return TransformSummary{}, err
		}
		defer censorFile.Close()
		censor, err = dataio.ReadCensorMap(censorFile)
		if err != nil {
			return TransformSummary{}, fmt.Errorf("censor map %s: %w", req.CensorPath, err)
		}
	}

	result, err := capture.Transform(capture.Input{Grid: grid, Rows: rows, Censor: censor})
	if err != nil {
		return TransformSummary{}, err
	}

	datasetID := req.DatasetID
	if datasetID == "" {
		datasetID = uuid.NewString()
	}
	result.Dataset.ID = datasetID

	if err := c.store.Init(ctx); err != nil {
		return TransformSummary{}, err
	}
	if err := c.store.SaveDataset(ctx, result.Dataset); err != nil {
		return TransformSummary{}, err
	}

	return TransformSummary{
		DatasetID:           datasetID,
		Individuals:         len(result.Dataset.Individuals),
		Primaries:           grid.Primaries,
		Secondaries:         len(grid.Cells),
		Caught:              append([]int(nil), result.Dataset.Caught...),
		ExcludedNoDetection: result.ExcludedNoDetection,
		ExcludedInvalidAge:  result.ExcludedInvalidAge,
		ExcludedFinalFirst:  result.ExcludedFinalFirst,
		ExcludedNoInterval:  result.ExcludedNoInterval,
	}, nil
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.DatasetID == "" {
		return RunSummary{}, errors.New("run requires a dataset id")
	}
	if err := c.store.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	dataset, ok, err := c.store.GetDataset(ctx, req.DatasetID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("dataset not found: %s", req.DatasetID)
	}

	spec, err := statespace.New(&dataset)
	if err != nil {
		return RunSummary{}, err
	}

	cfg := sampler.Config{
		Chains:     req.Chains,
		Iterations: req.Iterations,
		BurnIn:     req.BurnIn,
		Thin:       req.Thin,
		Seed:       req.Seed,
		GammaStep:  req.GammaStep,
		MuStep:     req.MuStep,
	}
	post, err := sampler.Fit(ctx, spec, cfg)
	if err != nil {
		return RunSummary{}, err
	}

	params, warnings := diagnostics.Summarize(post)
	draws := 0
	for _, chain := range post.Chains {
		draws += chain.Draws
	}

	now := time.Now().UTC()
	runID := uuid.NewString()

	summary := model.PosteriorSummary{
		VersionedRecord: model.CurrentVersion(),
		RunID:           runID,
		Chains:          post.Config.Chains,
		Iterations:      post.Config.Iterations,
		BurnIn:          post.Config.BurnIn,
		Draws:           draws,
		Parameters:      params,
		Warnings:        warnings,
	}

	rows, err := abundance.Estimate(dataset.Caught, post.PStarMatrix())
	if err != nil {
		return RunSummary{}, err
	}
	table := model.AbundanceTable{
		VersionedRecord: model.CurrentVersion(),
		RunID:           runID,
		Rows:            rows,
	}

	if err := c.store.SavePosteriorSummary(ctx, summary); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.SaveAbundance(ctx, table); err != nil {
		return RunSummary{}, err
	}

	runDir, err := stats.WriteRunArtifacts(c.resultsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:       runID,
			DatasetID:   dataset.ID,
			Individuals: len(dataset.Individuals),
			Primaries:   dataset.Grid.Primaries,
			Secondaries: len(dataset.Grid.Cells),
			Chains:      post.Config.Chains,
			Iterations:  post.Config.Iterations,
			BurnIn:      post.Config.BurnIn,
			Thin:        post.Config.Thin,
			Seed:        post.Config.Seed,
			GammaStep:   post.Config.GammaStep,
			MuStep:      post.Config.MuStep,
		},
		Posterior: summary,
		Diagnostics: stats.DiagnosticsReport{
			RunID:      runID,
			Parameters: params,
			Warnings:   warnings,
		},
		Abundance: table,
	})
	if err != nil {
		return RunSummary{}, err
	}

	if err := stats.AppendRunIndex(c.resultsDir, stats.RunIndexEntry{
		RunID:        runID,
		DatasetID:    dataset.ID,
		Individuals:  len(dataset.Individuals),
		Primaries:    dataset.Grid.Primaries,
		Chains:       post.Config.Chains,
		Iterations:   post.Config.Iterations,
		Seed:         post.Config.Seed,
		Warnings:     len(warnings),
		CreatedAtUTC: now.Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:        runID,
		DatasetID:    dataset.ID,
		ArtifactsDir: filepath.Clean(runDir),
		Draws:        draws,
		Parameters:   params,
		Warnings:     warnings,
	}, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.resultsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			DatasetID:    e.DatasetID,
			Individuals:  e.Individuals,
			Primaries:    e.Primaries,
			Chains:       e.Chains,
			Iterations:   e.Iterations,
			Seed:         e.Seed,
			Warnings:     e.Warnings,
		})
	}
	return out, nil
}

func (c *Client) Posterior(ctx context.Context, req PosteriorRequest) (model.PosteriorSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return model.PosteriorSummary{}, err
	}
	if err := c.store.Init(ctx); err != nil {
		return model.PosteriorSummary{}, err
	}

	summary, ok, err := c.store.GetPosteriorSummary(ctx, runID)
	if err != nil {
		return model.PosteriorSummary{}, err
	}
	if ok {
		return summary, nil
	}

	// Fall back to the on-disk artifacts for runs persisted by another
	// process or store.
	summary, ok, err = stats.ReadPosteriorSummary(c.resultsDir, runID)
	if err != nil {
		return model.PosteriorSummary{}, err
	}
	if !ok {
		return model.PosteriorSummary{}, fmt.Errorf("posterior summary not found for run id: %s", runID)
	}
	return summary, nil
}

func (c *Client) Abundance(ctx context.Context, req AbundanceRequest) (model.AbundanceTable, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return model.AbundanceTable{}, err
	}
	if err := c.store.Init(ctx); err != nil {
		return model.AbundanceTable{}, err
	}

	table, ok, err := c.store.GetAbundance(ctx, runID)
	if err != nil {
		return model.AbundanceTable{}, err
	}
	if ok {
		return table, nil
	}

	table, ok, err = stats.ReadAbundance(c.resultsDir, runID)
	if err != nil {
		return model.AbundanceTable{}, err
	}
	if !ok {
		return model.AbundanceTable{}, fmt.Errorf("abundance table not found for run id: %s", runID)
	}
	return table, nil
}

func (c *Client) Diagnostics(_ context.Context, req DiagnosticsRequest) (stats.DiagnosticsReport, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return stats.DiagnosticsReport{}, err
	}

	report, ok, err := stats.ReadDiagnostics(c.resultsDir, runID)
	if err != nil {
		return stats.DiagnosticsReport{}, err
	}
	if !ok {
		return stats.DiagnosticsReport{}, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	return report, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.resultsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}

	entries, err := stats.ListRunIndex(c.resultsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
