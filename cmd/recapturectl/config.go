package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// runConfigFile mirrors the run subcommand's flags. Explicitly set flags
// override file values.
type runConfigFile struct {
	DatasetID  string  `json:"dataset_id,omitempty"`
	TablePath  string  `json:"table_path,omitempty"`
	GridSpec   string  `json:"grid_spec,omitempty"`
	CensorPath string  `json:"censor_path,omitempty"`
	Chains     int     `json:"chains,omitempty"`
	Iterations int     `json:"iterations,omitempty"`
	BurnIn     int     `json:"burn_in,omitempty"`
	Thin       int     `json:"thin,omitempty"`
	Seed       uint64  `json:"seed,omitempty"`
	GammaStep  float64 `json:"gamma_step,omitempty"`
	MuStep     float64 `json:"mu_step,omitempty"`
}

func loadRunConfig(path string) (runConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return runConfigFile{}, err
	}
	var cfg runConfigFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return runConfigFile{}, fmt.Errorf("run config %s: %w", path, err)
	}
	return cfg, nil
}
