// Package diagnostics summarises posterior draws and flags
// non-convergence. Warnings are always surfaced to the caller; a fit with
// disagreeing chains is never accepted silently.
package diagnostics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"recapture/internal/model"
	"recapture/internal/sampler"
)

// RHatThreshold is the conventional cutoff above which chains are
// considered to disagree.
const RHatThreshold = 1.1

// SplitRHat computes the split-chain potential scale reduction factor.
// Each chain is halved, so a single long chain still yields a meaningful
// statistic. Returns NaN when there is not enough data.
func SplitRHat(chains [][]float64) float64 {
	var halves [][]float64
	for _, c := range chains {
		if len(c) < 4 {
			return math.NaN()
		}
		mid := len(c) / 2
		halves = append(halves, c[:mid], c[mid:mid*2])
	}

	n := float64(len(halves[0]))
	means := make([]float64, len(halves))
	vars := make([]float64, len(halves))
	for i, h := range halves {
		means[i] = stat.Mean(h, nil)
		vars[i] = stat.Variance(h, nil)
	}
	w := stat.Mean(vars, nil)
	b := n * stat.Variance(means, nil)
	if w <= 0 {
		if b <= 0 {
			return 1
		}
		return math.Inf(1)
	}
	vhat := (n-1)/n*w + b/n
	return math.Sqrt(vhat / w)
}

// Summarize builds per-parameter posterior summaries from the pooled
// draws and returns them with any convergence warnings.
func Summarize(post *sampler.Posterior) ([]model.ParameterSummary, []string) {
	var warnings []string
	summaries := make([]model.ParameterSummary, 0, len(sampler.ParamNames))

	for col, name := range sampler.ParamNames {
		perChain := post.ParamColumn(col)
		pooled := make([]float64, 0)
		for _, c := range perChain {
			pooled = append(pooled, c...)
		}
		sorted := append([]float64(nil), pooled...)
		sort.Float64s(sorted)

		rhat := SplitRHat(perChain)
		summaries = append(summaries, model.ParameterSummary{
			Name:   name,
			Mean:   stat.Mean(pooled, nil),
			SD:     math.Sqrt(stat.Variance(pooled, nil)),
			Q025:   stat.Quantile(0.025, stat.Empirical, sorted, nil),
			Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
			Q975:   stat.Quantile(0.975, stat.Empirical, sorted, nil),
			RHat:   rhat,
		})
		if rhat > RHatThreshold {
			warnings = append(warnings, fmt.Sprintf("chains disagree on %s: split-Rhat %.3f exceeds %.2f", name, rhat, RHatThreshold))
		}
	}

	warnings = append(warnings, orderingWarnings(post)...)
	warnings = append(warnings, acceptanceWarnings(post)...)
	return summaries, warnings
}

// orderingWarnings checks the mu1 <= mu2 identifiability invariant over
// every retained draw. The sampler enforces it at proposal time, so any
// violation indicates a broken engine rather than label switching.
func orderingWarnings(post *sampler.Posterior) []string {
	lo := paramIndex("mu1")
	hi := paramIndex("mu2")
	cols := len(sampler.ParamNames)
	for k, c := range post.Chains {
		for r := 0; r < c.Draws; r++ {
			if c.Params[r*cols+lo] > c.Params[r*cols+hi] {
				return []string{fmt.Sprintf("chain %d draw %d violates the mu ordering invariant", k+1, r+1)}
			}
		}
	}
	return nil
}

func acceptanceWarnings(post *sampler.Posterior) []string {
	var warnings []string
	for k, c := range post.Chains {
		if c.AcceptGamma < 0.02 {
			warnings = append(warnings, fmt.Sprintf("chain %d: gamma acceptance rate %.3f is degenerate", k+1, c.AcceptGamma))
		}
		if c.AcceptMu < 0.02 {
			warnings = append(warnings, fmt.Sprintf("chain %d: mu acceptance rate %.3f is degenerate", k+1, c.AcceptMu))
		}
	}
	return warnings
}

func paramIndex(name string) int {
	for i, n := range sampler.ParamNames {
		if n == name {
			return i
		}
	}
	return -1
}
