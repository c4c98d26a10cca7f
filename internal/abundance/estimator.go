// Package abundance turns raw per-occasion counts and posterior draws of
// the pooled detection probability into abundance estimates with
// uncertainty, via the Horvitz-Thompson inverse-detection estimator.
package abundance

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"recapture/internal/model"
)

// Estimate computes, per primary occasion, the mean and empirical 95%
// interval of caught[t]/pstar over the posterior draws. Draws with
// pstar=0 are excluded from the summary and counted per occasion. The
// function never mutates its inputs.
func Estimate(caught []int, pstar mat.Matrix) ([]model.AbundanceRow, error) {
	draws, primaries := pstar.Dims()
	if primaries != len(caught) {
		return nil, fmt.Errorf("pstar has %d occasions, caught has %d", primaries, len(caught))
	}
	if draws == 0 {
		return nil, fmt.Errorf("no posterior draws")
	}

	rows := make([]model.AbundanceRow, 0, primaries)
	for t := 0; t < primaries; t++ {
		valid := make([]float64, 0, draws)
		excluded := 0
		for r := 0; r < draws; r++ {
			p := pstar.At(r, t)
			if p == 0 {
				excluded++
				continue
			}
			valid = append(valid, float64(caught[t])/p)
		}
		row := model.AbundanceRow{
			Occasion:      t + 1,
			Caught:        caught[t],
			ExcludedDraws: excluded,
		}
		if len(valid) == 0 {
			return nil, fmt.Errorf("occasion %d: every posterior draw has pstar=0", t+1)
		}
		sort.Float64s(valid)
		row.Estimate = stat.Mean(valid, nil)
		row.Lower = stat.Quantile(0.025, stat.Empirical, valid, nil)
		row.Upper = stat.Quantile(0.975, stat.Empirical, valid, nil)
		rows = append(rows, row)
	}
	return rows, nil
}
