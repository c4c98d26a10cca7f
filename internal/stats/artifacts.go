package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"recapture/internal/dataio"
	"recapture/internal/model"
)

const runIndexFile = "run_index.json"

type RunConfig struct {
	RunID       string  `json:"run_id"`
	DatasetID   string  `json:"dataset_id"`
	TablePath   string  `json:"table_path,omitempty"`
	GridSpec    string  `json:"grid_spec,omitempty"`
	CensorPath  string  `json:"censor_path,omitempty"`
	Individuals int     `json:"individuals"`
	Primaries   int     `json:"primaries"`
	Secondaries int     `json:"secondaries"`
	Chains      int     `json:"chains"`
	Iterations  int     `json:"iterations"`
	BurnIn      int     `json:"burn_in"`
	Thin        int     `json:"thin"`
	Seed        uint64  `json:"seed"`
	GammaStep   float64 `json:"gamma_step"`
	MuStep      float64 `json:"mu_step"`
}

type DiagnosticsReport struct {
	RunID      string                   `json:"run_id"`
	Parameters []model.ParameterSummary `json:"parameters"`
	Warnings   []string                 `json:"warnings,omitempty"`
}

type RunArtifacts struct {
	Config      RunConfig              `json:"config"`
	Posterior   model.PosteriorSummary `json:"posterior"`
	Diagnostics DiagnosticsReport      `json:"diagnostics"`
	Abundance   model.AbundanceTable   `json:"abundance"`
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	DatasetID    string `json:"dataset_id"`
	Individuals  int    `json:"individuals"`
	Primaries    int    `json:"primaries"`
	Chains       int    `json:"chains"`
	Iterations   int    `json:"iterations"`
	Seed         uint64 `json:"seed"`
	Warnings     int    `json:"warnings"`
	CreatedAtUTC string `json:"created_at_utc"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "posterior_summary.json"), artifacts.Posterior); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "diagnostics.json"), artifacts.Diagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "abundance.json"), artifacts.Abundance); err != nil {
		return "", err
	}
	if err := writeAbundanceCSV(filepath.Join(runDir, "abundance.csv"), artifacts.Abundance.Rows); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "posterior_summary.json", "diagnostics.json", "abundance.json", "abundance.csv"}
	for _, file := range files {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadPosteriorSummary(baseDir, runID string) (model.PosteriorSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "posterior_summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.PosteriorSummary{}, false, nil
		}
		return model.PosteriorSummary{}, false, err
	}

	var summary model.PosteriorSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return model.PosteriorSummary{}, false, err
	}
	return summary, true, nil
}

func ReadDiagnostics(baseDir, runID string) (DiagnosticsReport, bool, error) {
	path := filepath.Join(baseDir, runID, "diagnostics.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DiagnosticsReport{}, false, nil
		}
		return DiagnosticsReport{}, false, err
	}

	var report DiagnosticsReport
	if err := json.Unmarshal(data, &report); err != nil {
		return DiagnosticsReport{}, false, err
	}
	return report, true, nil
}

func ReadAbundance(baseDir, runID string) (model.AbundanceTable, bool, error) {
	path := filepath.Join(baseDir, runID, "abundance.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.AbundanceTable{}, false, nil
		}
		return model.AbundanceTable{}, false, err
	}

	var table model.AbundanceTable
	if err := json.Unmarshal(data, &table); err != nil {
		return model.AbundanceTable{}, false, err
	}
	return table, true, nil
}

func writeAbundanceCSV(path string, rows []model.AbundanceRow) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return dataio.WriteAbundanceTable(file, rows)
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
