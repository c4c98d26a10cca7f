// Package capture turns raw per-individual detection records into the
// tensors consumed by the state-space model: encounter and availability
// tensors, primary capture histories, survival age classes and per-occasion
// raw counts.
package capture

import (
	"fmt"

	"recapture/internal/model"
)

// Age buckets applying to the interval t -> t+1.
const (
	AgeClassJuvenile = 1 // age < 2
	AgeClassSubadult = 2 // 2 <= age <= 3
	AgeClassAdult    = 3 // age > 3
)

// Input carries everything the transformer needs. Censor maps individual id
// to a zero-based last-observed primary occasion; it is untrusted input and
// is validated against the detection rows before any computation.
type Input struct {
	Grid   model.OccasionGrid
	Rows   []model.RawIndividual
	Censor map[string]int
}

// Result is the transformed dataset plus exclusion bookkeeping. Excluded
// individuals are not errors: the run continues without them.
type Result struct {
	Dataset model.Dataset

	ExcludedNoDetection int
	ExcludedInvalidAge  int
	ExcludedFinalFirst  int
	ExcludedNoInterval  int
}

// Transform builds the dataset. Configuration errors (grid/column
// mismatches, unknown or out-of-range censor entries) are returned before
// any per-individual work starts.
func Transform(in Input) (Result, error) {
	if err := validate(in); err != nil {
		return Result{}, err
	}

	grid := in.Grid
	p := grid.Primaries

	type working struct {
		row   model.RawIndividual
		obs   [][]int
		total []int
		first int
		last  int
	}

	kept := make([]working, 0, len(in.Rows))
	res := Result{}
	for _, row := range in.Rows {
		obs := reshape(row.Detections, grid.Secondaries)
		total := make([]int, p)
		first := -1
		for t := 0; t < p; t++ {
			for _, v := range obs[t] {
				total[t] += v
			}
			if total[t] > 0 && first < 0 {
				first = t
			}
		}
		if first < 0 {
			res.ExcludedNoDetection++
			continue
		}
		if row.AgeAtFirst < 0 {
			res.ExcludedInvalidAge++
			continue
		}
		// First seen in the final primary: no transition interval can
		// ever exist, so the individual contributes nothing, not even
		// to the raw counts.
		if first == p-1 {
			res.ExcludedFinalFirst++
			continue
		}

		last := p - 1
		if c, ok := in.Censor[row.ID]; ok {
			last = c
		}
		if last < first {
			return Result{}, fmt.Errorf("censor occasion %d for %s precedes first detection %d", last+1, row.ID, first+1)
		}
		kept = append(kept, working{row: row, obs: obs, total: total, first: first, last: last})
	}

	// Raw counts come before the no-interval exclusion: a censored
	// individual still contributes its pre-correction detections.
	caught := make([]int, p)
	for _, w := range kept {
		for t := 0; t < p; t++ {
			if w.total[t] > 0 {
				caught[t]++
			}
		}
	}

	ds := model.Dataset{
		VersionedRecord: model.CurrentVersion(),
		Grid:            grid,
		Caught:          caught,
	}
	for _, w := range kept {
		if w.first == w.last {
			res.ExcludedNoInterval++
			continue
		}

		avail := make([][]int, p)
		ch := make([]int, p)
		age := make([]int, p)
		for t := 0; t < p; t++ {
			avail[t] = make([]int, grid.Secondaries[t])
			if t >= w.first && t <= w.last && w.total[t] > 0 {
				ch[t] = 1
			}
		}
		correctAvailability(w.obs, avail, w.total, w.first, w.last)
		fillAgeClasses(age, w.row.AgeAtFirst, w.first, p)

		ds.Individuals = append(ds.Individuals, model.Individual{
			ID:         w.row.ID,
			Sex:        w.row.Sex,
			AgeAtFirst: w.row.AgeAtFirst,
			First:      w.first,
			Last:       w.last,
		})
		ds.Obs = append(ds.Obs, w.obs)
		ds.Avail = append(ds.Avail, avail)
		ds.CaptureHistory = append(ds.CaptureHistory, ch)
		ds.AgeClass = append(ds.AgeClass, age)
	}

	res.Dataset = ds
	return res, nil
}

// correctAvailability applies the non-informative tie correction inside
// [first,last]. A season with a single detection keeps its informative
// zeros but drops the detected cell from both tensors: that one event is
// what produced the primary capture and carries no independent information
// about secondary detectability. The correction is idempotent.
func correctAvailability(obs, avail [][]int, total []int, first, last int) {
	for t := first; t <= last; t++ {
		switch {
		case total[t] > 1:
			for j := range avail[t] {
				avail[t][j] = 1
			}
		case total[t] == 1:
			for j := range avail[t] {
				if obs[t][j] == 1 {
					obs[t][j] = 0
					avail[t][j] = 0
				} else {
					avail[t][j] = 1
				}
			}
		default:
			// total == 0: nothing observed, nothing available.
		}
	}
}

// fillAgeClasses buckets the accumulated age for every interval start in
// [first, p-1]. The bucket sequence is non-decreasing and caps at the
// adult class.
func fillAgeClasses(age []int, ageAtFirst, first, p int) {
	a := ageAtFirst
	for t := first; t < p; t++ {
		age[t] = bucketAge(a)
		a++
	}
}

func bucketAge(a int) int {
	switch {
	case a < 2:
		return AgeClassJuvenile
	case a <= 3:
		return AgeClassSubadult
	default:
		return AgeClassAdult
	}
}

func reshape(flat []int, secondaries []int) [][]int {
	out := make([][]int, len(secondaries))
	k := 0
	for t, s := range secondaries {
		out[t] = make([]int, s)
		copy(out[t], flat[k:k+s])
		k += s
	}
	return out
}

func validate(in Input) error {
	grid := in.Grid
	if grid.Primaries <= 0 || len(grid.Secondaries) != grid.Primaries {
		return fmt.Errorf("occasion grid: %d primaries with %d secondary counts", grid.Primaries, len(grid.Secondaries))
	}
	cells := 0
	for t, s := range grid.Secondaries {
		if s <= 0 {
			return fmt.Errorf("occasion grid: primary %d has %d secondaries", t+1, s)
		}
		cells += s
	}
	if len(grid.Cells) > 0 && len(grid.Cells) != cells {
		return fmt.Errorf("occasion grid: %d cells listed, secondary counts sum to %d", len(grid.Cells), cells)
	}

	known := make(map[string]bool, len(in.Rows))
	for _, row := range in.Rows {
		if len(row.Detections) != cells {
			return fmt.Errorf("individual %s: %d detection columns, grid has %d cells", row.ID, len(row.Detections), cells)
		}
		known[row.ID] = true
	}
	for id, occ := range in.Censor {
		if !known[id] {
			return fmt.Errorf("censor map references unknown individual %s", id)
		}
		if occ < 0 || occ >= grid.Primaries {
			return fmt.Errorf("censor occasion %d for %s outside grid of %d primaries", occ+1, id, grid.Primaries)
		}
	}
	return nil
}
