// Package statespace declares the hierarchical generative model for the
// robust design: age-dependent survival, random temporary emigration, and
// two-class finite-mixture detection heterogeneity. The declaration is
// engine-agnostic; any sampler that respects the conditional distributions
// exposed here targets the same posterior.
package statespace

import (
	"fmt"
	"math"
	"sort"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"recapture/internal/model"
)

const (
	AgeClasses     = 3
	MixtureClasses = 2
)

// Params is one point in parameter space. Beta is indexed by age class-1.
// Mu is kept ascending: class 0 is always the lower-detectability class,
// which resolves mixture label switching by construction.
type Params struct {
	Beta  [AgeClasses]float64
	Gamma float64
	Mu    [MixtureClasses]float64
	Prop  [MixtureClasses]float64
}

// Spec binds the generative model to one immutable dataset.
type Spec struct {
	ds *model.Dataset
}

// New validates the dataset against the model's structural assumptions.
func New(ds *model.Dataset) (*Spec, error) {
	if ds == nil || len(ds.Individuals) == 0 {
		return nil, fmt.Errorf("state-space model needs at least one modeled individual")
	}
	p := ds.Grid.Primaries
	for i, ind := range ds.Individuals {
		if ind.First < 0 || ind.First >= ind.Last || ind.Last >= p {
			return nil, fmt.Errorf("individual %s: window [%d,%d] invalid for %d primaries", ind.ID, ind.First, ind.Last, p)
		}
		if ds.CaptureHistory[i][ind.First] != 1 {
			return nil, fmt.Errorf("individual %s: capture history unset at first occasion", ind.ID)
		}
		for t := ind.First; t < p; t++ {
			if a := ds.AgeClass[i][t]; a < AgeClassMin || a > AgeClassMax {
				return nil, fmt.Errorf("individual %s: age class %d at occasion %d", ind.ID, a, t+1)
			}
		}
	}
	return &Spec{ds: ds}, nil
}

const (
	AgeClassMin = 1
	AgeClassMax = AgeClasses
)

// Dataset returns the bound data. Callers must not mutate it.
func (s *Spec) Dataset() *model.Dataset { return s.ds }

// PriorDraw samples all top-level parameters from their priors: Uniform(0,1)
// survival and emigration, two independent Uniform(0,1) detection rates
// sorted ascending, and Dirichlet(1,1) mixture weights.
func (s *Spec) PriorDraw(rng *rand.Rand) Params {
	u := distuv.Uniform{Min: 0, Max: 1, Src: rng}
	var par Params
	for a := range par.Beta {
		par.Beta[a] = u.Rand()
	}
	par.Gamma = u.Rand()
	mu := []float64{u.Rand(), u.Rand()}
	sort.Float64s(mu)
	par.Mu[0], par.Mu[1] = mu[0], mu[1]
	w := u.Rand()
	par.Prop[0], par.Prop[1] = w, 1-w
	return par
}

// InitialLatent returns the latent-state assignment the sampler starts
// from: alive and present across each individual's whole window.
func (s *Spec) InitialLatent() [][]int {
	z := make([][]int, len(s.ds.Individuals))
	for i, ind := range s.ds.Individuals {
		z[i] = make([]int, s.ds.Grid.Primaries)
		for t := ind.First; t <= ind.Last; t++ {
			z[i][t] = 1
		}
	}
	return z
}

// UpStar is the season-pooled detection probability for arbitrary per-cell
// probabilities: 1 - prod(1-p_j). It is 0 iff every p_j is 0.
func UpStar(p []float64) float64 {
	q := 1.0
	for _, pj := range p {
		q *= 1 - pj
	}
	return 1 - q
}

// SeasonUpStar specialises UpStar to the model's constant within-season
// detection rate.
func SeasonUpStar(mu float64, secondaries int) float64 {
	return 1 - math.Pow(1-mu, float64(secondaries))
}

// PStar is the derived pooled per-season detection probability: the mean of
// upstar over all modeled individuals, per primary occasion.
func (s *Spec) PStar(par Params, eta []int) []float64 {
	p := s.ds.Grid.Primaries
	out := make([]float64, p)
	n := float64(len(s.ds.Individuals))
	for t := 0; t < p; t++ {
		sum := 0.0
		for i := range s.ds.Individuals {
			sum += SeasonUpStar(par.Mu[eta[i]], s.ds.Grid.Secondaries[t])
		}
		out[t] = sum / n
	}
	return out
}

// LogTransitions is the survival part of the joint density: for t in
// (first,last], z[t] ~ Bernoulli(z[t-1] * beta[age[t-1]]).
func (s *Spec) LogTransitions(beta [AgeClasses]float64, z [][]int) float64 {
	ll := 0.0
	for i, ind := range s.ds.Individuals {
		for t := ind.First + 1; t <= ind.Last; t++ {
			p := float64(z[i][t-1]) * beta[s.ds.AgeClass[i][t-1]-1]
			ll += logBernoulli(z[i][t], p)
		}
	}
	return ll
}

// LogPrimaryEmission is one individual's detected-at-least-once terms:
// ch[t] ~ Bernoulli(z[t] * (1-gamma) * upstar) for t in (first,last].
func (s *Spec) LogPrimaryEmission(i int, gamma, mu float64, z []int) float64 {
	ind := s.ds.Individuals[i]
	ll := 0.0
	for t := ind.First + 1; t <= ind.Last; t++ {
		up := SeasonUpStar(mu, s.ds.Grid.Secondaries[t])
		p := float64(z[t]) * (1 - gamma) * up
		ll += logBernoulli(s.ds.CaptureHistory[i][t], p)
	}
	return ll
}

// LogSecondaryEmission is one individual's within-season terms:
// obs[t][j] ~ Bernoulli(avail[t][j] * mu) for t in [first,last]. Cells
// with avail=0 contribute nothing.
func (s *Spec) LogSecondaryEmission(i int, mu float64) float64 {
	ind := s.ds.Individuals[i]
	ll := 0.0
	for t := ind.First; t <= ind.Last; t++ {
		for j, a := range s.ds.Avail[i][t] {
			if a == 0 {
				continue
			}
			ll += logBernoulli(s.ds.Obs[i][t][j], mu)
		}
	}
	return ll
}

// LogLikelihood is the full data log-density at (par, eta, z).
func (s *Spec) LogLikelihood(par Params, eta []int, z [][]int) float64 {
	ll := s.LogTransitions(par.Beta, z)
	for i := range s.ds.Individuals {
		mu := par.Mu[eta[i]]
		ll += s.LogPrimaryEmission(i, par.Gamma, mu, z[i])
		ll += s.LogSecondaryEmission(i, mu)
	}
	return ll
}

// SurvivalTallies counts, per age class, the z transitions out of an alive
// state: alive[a] survived the interval, dead[a] did not. These are the
// sufficient statistics for the conjugate beta update.
func (s *Spec) SurvivalTallies(z [][]int) (alive, dead [AgeClasses]int) {
	for i, ind := range s.ds.Individuals {
		for t := ind.First + 1; t <= ind.Last; t++ {
			if z[i][t-1] != 1 {
				continue
			}
			a := s.ds.AgeClass[i][t-1] - 1
			if z[i][t] == 1 {
				alive[a]++
			} else {
				dead[a]++
			}
		}
	}
	return alive, dead
}

// MixtureTallies counts individuals per detection class.
func MixtureTallies(eta []int) (counts [MixtureClasses]int) {
	for _, c := range eta {
		counts[c]++
	}
	return counts
}

func logBernoulli(x int, p float64) float64 {
	if x == 1 {
		if p <= 0 {
			return math.Inf(-1)
		}
		return math.Log(p)
	}
	if p >= 1 {
		return math.Inf(-1)
	}
	return math.Log1p(-p)
}
