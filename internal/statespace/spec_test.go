package statespace

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"

	"recapture/internal/model"
)

func testDataset() *model.Dataset {
	// Two individuals on a 3-primary grid with 2 secondaries each.
	return &model.Dataset{
		Grid: model.OccasionGrid{Primaries: 3, Secondaries: []int{2, 2, 2}},
		Individuals: []model.Individual{
			{ID: "A", First: 0, Last: 2, AgeAtFirst: 1},
			{ID: "B", First: 1, Last: 2, AgeAtFirst: 4},
		},
		Obs: [][][]int{
			{{1, 1}, {0, 0}, {1, 1}},
			{{0, 0}, {1, 1}, {0, 0}},
		},
		Avail: [][][]int{
			{{1, 1}, {1, 1}, {1, 1}},
			{{0, 0}, {1, 1}, {1, 1}},
		},
		CaptureHistory: [][]int{
			{1, 0, 1},
			{0, 1, 0},
		},
		AgeClass: [][]int{
			{1, 2, 2},
			{0, 3, 3},
		},
		Caught: []int{1, 1, 1},
	}
}

func TestNewValidatesWindows(t *testing.T) {
	ds := testDataset()
	if _, err := New(ds); err != nil {
		t.Fatalf("valid dataset rejected: %v", err)
	}

	bad := testDataset()
	bad.Individuals[0].First = 2
	bad.Individuals[0].Last = 2
	if _, err := New(bad); err == nil {
		t.Fatalf("expected rejection of first==last window")
	}

	unset := testDataset()
	unset.CaptureHistory[1][1] = 0
	if _, err := New(unset); err == nil {
		t.Fatalf("expected rejection of unset first capture")
	}
}

func TestPriorDrawOrderingInvariant(t *testing.T) {
	spec, err := New(testDataset())
	if err != nil {
		t.Fatalf("new spec: %v", err)
	}
	rng := rand.New(rand.NewSource(7))
	for k := 0; k < 500; k++ {
		par := spec.PriorDraw(rng)
		if par.Mu[0] > par.Mu[1] {
			t.Fatalf("mu ordering violated at draw %d: %v", k, par.Mu)
		}
		if math.Abs(par.Prop[0]+par.Prop[1]-1) > 1e-12 {
			t.Fatalf("mixture weights do not sum to 1: %v", par.Prop)
		}
		for _, b := range par.Beta {
			if b <= 0 || b >= 1 {
				t.Fatalf("beta outside (0,1): %v", par.Beta)
			}
		}
	}
}

func TestUpStarProperties(t *testing.T) {
	if got := UpStar([]float64{0, 0, 0}); got != 0 {
		t.Fatalf("upstar of all-zero p should be 0, got %v", got)
	}
	if got := UpStar([]float64{1, 0}); got != 1 {
		t.Fatalf("upstar with a certain cell should be 1, got %v", got)
	}
	for _, p := range [][]float64{{0.2}, {0.5, 0.5}, {0.1, 0.9, 0.3, 0.7, 0.2}} {
		got := UpStar(p)
		if got < 0 || got > 1 {
			t.Fatalf("upstar outside [0,1] for %v: %v", p, got)
		}
		if got == 0 {
			t.Fatalf("upstar should be 0 only when all p are 0: %v", p)
		}
	}
	if got, want := SeasonUpStar(0.5, 2), 0.75; math.Abs(got-want) > 1e-12 {
		t.Fatalf("season upstar: got %v want %v", got, want)
	}
}

func TestInitialLatentCoversWindow(t *testing.T) {
	spec, _ := New(testDataset())
	z := spec.InitialLatent()
	if z[0][0] != 1 || z[0][1] != 1 || z[0][2] != 1 {
		t.Fatalf("A should start alive across [0,2]: %v", z[0])
	}
	if z[1][0] != 0 || z[1][1] != 1 || z[1][2] != 1 {
		t.Fatalf("B should start alive across [1,2] only: %v", z[1])
	}
}

func TestLogLikelihoodFiniteAtInterior(t *testing.T) {
	spec, _ := New(testDataset())
	par := Params{
		Beta:  [AgeClasses]float64{0.8, 0.7, 0.6},
		Gamma: 0.2,
		Mu:    [MixtureClasses]float64{0.3, 0.6},
		Prop:  [MixtureClasses]float64{0.5, 0.5},
	}
	eta := []int{0, 1}
	z := spec.InitialLatent()
	ll := spec.LogLikelihood(par, eta, z)
	if math.IsInf(ll, 0) || math.IsNaN(ll) {
		t.Fatalf("interior likelihood should be finite, got %v", ll)
	}

	// An observed capture with a dead latent state has zero density.
	z[0][2] = 0
	if ll := spec.LogLikelihood(par, eta, z); !math.IsInf(ll, -1) {
		t.Fatalf("capture of a dead individual should be impossible, got %v", ll)
	}
}

func TestSurvivalTallies(t *testing.T) {
	spec, _ := New(testDataset())
	z := spec.InitialLatent()
	z[0][2] = 0 // A dies over interval 1->2 (age class 2)
	alive, dead := spec.SurvivalTallies(z)
	// A: interval 0->1 survives (class 1), interval 1->2 dies (class 2).
	// B: interval 1->2 survives (class 3).
	if alive[0] != 1 || dead[0] != 0 {
		t.Fatalf("class 1 tallies: alive=%d dead=%d", alive[0], dead[0])
	}
	if alive[1] != 0 || dead[1] != 1 {
		t.Fatalf("class 2 tallies: alive=%d dead=%d", alive[1], dead[1])
	}
	if alive[2] != 1 || dead[2] != 0 {
		t.Fatalf("class 3 tallies: alive=%d dead=%d", alive[2], dead[2])
	}
}

func TestPStarAveragesOverIndividuals(t *testing.T) {
	spec, _ := New(testDataset())
	par := Params{Mu: [MixtureClasses]float64{0.5, 0.5}}
	eta := []int{0, 1}
	pstar := spec.PStar(par, eta)
	for t1, got := range pstar {
		if math.Abs(got-0.75) > 1e-12 {
			t.Fatalf("pstar[%d]: got %v want 0.75", t1, got)
		}
	}
}
