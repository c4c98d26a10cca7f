package sampler

import (
	"context"
	"math"
	"testing"

	"recapture/internal/model"
	"recapture/internal/statespace"
)

func fitDataset() *model.Dataset {
	return &model.Dataset{
		Grid: model.OccasionGrid{Primaries: 3, Secondaries: []int{5, 5, 5}},
		Individuals: []model.Individual{
			{ID: "A", First: 0, Last: 2, AgeAtFirst: 1},
			{ID: "B", First: 0, Last: 2, AgeAtFirst: 3},
			{ID: "C", First: 1, Last: 2, AgeAtFirst: 5},
		},
		Obs: [][][]int{
			{{1, 1, 0, 0, 0}, {0, 1, 1, 0, 0}, {0, 0, 0, 0, 0}},
			{{1, 0, 1, 0, 1}, {0, 0, 0, 0, 0}, {1, 1, 0, 0, 0}},
			{{0, 0, 0, 0, 0}, {1, 0, 0, 1, 0}, {0, 1, 1, 0, 0}},
		},
		Avail: [][][]int{
			{{1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}},
			{{1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}},
			{{0, 0, 0, 0, 0}, {1, 1, 1, 1, 1}, {1, 1, 1, 1, 1}},
		},
		CaptureHistory: [][]int{
			{1, 1, 0},
			{1, 0, 1},
			{0, 1, 1},
		},
		AgeClass: [][]int{
			{1, 2, 2},
			{2, 3, 3},
			{0, 3, 3},
		},
		Caught: []int{2, 3, 2},
	}
}

func fitSpec(t *testing.T) *statespace.Spec {
	t.Helper()
	spec, err := statespace.New(fitDataset())
	if err != nil {
		t.Fatalf("new spec: %v", err)
	}
	return spec
}

func TestFitShapesAndInvariants(t *testing.T) {
	spec := fitSpec(t)
	cfg := Config{Chains: 2, Iterations: 60, BurnIn: 20, Seed: 11}
	post, err := Fit(context.Background(), spec, cfg)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(post.Chains) != 2 {
		t.Fatalf("expected 2 chains, got %d", len(post.Chains))
	}

	cols := len(ParamNames)
	for k, c := range post.Chains {
		if c.Draws != 40 {
			t.Fatalf("chain %d retained %d draws, want 40", k, c.Draws)
		}
		if len(c.Params) != c.Draws*cols {
			t.Fatalf("chain %d param buffer has wrong shape", k)
		}
		for r := 0; r < c.Draws; r++ {
			row := c.Params[r*cols : (r+1)*cols]
			for i, v := range row {
				if v < 0 || v > 1 || math.IsNaN(v) {
					t.Fatalf("chain %d draw %d: %s=%v outside [0,1]", k, r, ParamNames[i], v)
				}
			}
			if row[4] > row[5] {
				t.Fatalf("chain %d draw %d violates mu ordering: %v > %v", k, r, row[4], row[5])
			}
			if math.Abs(row[6]+row[7]-1) > 1e-9 {
				t.Fatalf("chain %d draw %d: mixture weights sum to %v", k, r, row[6]+row[7])
			}
		}
	}

	pstar := post.PStarMatrix()
	r, p := pstar.Dims()
	if r != 80 || p != 3 {
		t.Fatalf("stacked pstar is %dx%d, want 80x3", r, p)
	}
	for i := 0; i < r; i++ {
		for j := 0; j < p; j++ {
			v := pstar.At(i, j)
			if v <= 0 || v > 1 {
				t.Fatalf("pstar draw (%d,%d)=%v outside (0,1]", i, j, v)
			}
		}
	}
}

func TestFitIsDeterministicForSeed(t *testing.T) {
	spec := fitSpec(t)
	cfg := Config{Chains: 2, Iterations: 40, BurnIn: 10, Seed: 5}

	a, err := Fit(context.Background(), spec, cfg)
	if err != nil {
		t.Fatalf("first fit: %v", err)
	}
	b, err := Fit(context.Background(), spec, cfg)
	if err != nil {
		t.Fatalf("second fit: %v", err)
	}
	for k := range a.Chains {
		if len(a.Chains[k].Params) != len(b.Chains[k].Params) {
			t.Fatalf("chain %d draw counts differ", k)
		}
		for i := range a.Chains[k].Params {
			if a.Chains[k].Params[i] != b.Chains[k].Params[i] {
				t.Fatalf("chain %d diverges at draw element %d", k, i)
			}
		}
	}
}

func TestFitDoesNotMutateDataset(t *testing.T) {
	ds := fitDataset()
	want := fitDataset()
	spec, err := statespace.New(ds)
	if err != nil {
		t.Fatalf("new spec: %v", err)
	}
	if _, err := Fit(context.Background(), spec, Config{Chains: 1, Iterations: 30, BurnIn: 10, Seed: 3}); err != nil {
		t.Fatalf("fit: %v", err)
	}
	for i := range want.Obs {
		for t1 := range want.Obs[i] {
			for j := range want.Obs[i][t1] {
				if ds.Obs[i][t1][j] != want.Obs[i][t1][j] || ds.Avail[i][t1][j] != want.Avail[i][t1][j] {
					t.Fatalf("dataset tensors mutated at (%d,%d,%d)", i, t1, j)
				}
			}
		}
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := Config{Iterations: 100, BurnIn: 100}
	if err := cfg.validate(); err == nil {
		t.Fatalf("expected burn-in >= iterations to fail")
	}

	def := Config{}.withDefaults()
	if def.Chains <= 0 || def.Iterations <= def.BurnIn || def.Thin <= 0 {
		t.Fatalf("bad defaults: %+v", def)
	}
}

func TestFitRespectsCancellation(t *testing.T) {
	spec := fitSpec(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Fit(ctx, spec, Config{Chains: 1, Iterations: 50, BurnIn: 10, Seed: 1}); err == nil {
		t.Fatalf("expected context error from cancelled fit")
	}
}
