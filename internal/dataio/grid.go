package dataio

import (
	"fmt"
	"strconv"
	"strings"

	"recapture/internal/model"
)

// ParseOccasionGrid parses a comma-separated list of YYYY-MM cells into an
// occasion grid. Cells belonging to the same year form one primary
// occasion; a year's cells must be contiguous and no year may reappear.
func ParseOccasionGrid(spec string) (model.OccasionGrid, error) {
	parts := strings.Split(spec, ",")
	cells := make([]model.OccasionCell, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cell, err := parseCell(part)
		if err != nil {
			return model.OccasionGrid{}, err
		}
		cells = append(cells, cell)
	}
	if len(cells) == 0 {
		return model.OccasionGrid{}, fmt.Errorf("occasion grid is empty")
	}

	grid := model.OccasionGrid{Cells: cells}
	seen := make(map[int]bool)
	year := cells[0].Year - 1
	for _, cell := range cells {
		if cell.Year != year {
			if seen[cell.Year] {
				return model.OccasionGrid{}, fmt.Errorf("occasion grid: year %d split across non-contiguous cells", cell.Year)
			}
			seen[cell.Year] = true
			year = cell.Year
			grid.Primaries++
			grid.Secondaries = append(grid.Secondaries, 0)
		}
		grid.Secondaries[grid.Primaries-1]++
	}
	return grid, nil
}

func parseCell(raw string) (model.OccasionCell, error) {
	sep := strings.IndexByte(raw, '-')
	if sep < 0 {
		return model.OccasionCell{}, fmt.Errorf("occasion cell %q is not YYYY-MM", raw)
	}
	year, err := strconv.Atoi(raw[:sep])
	if err != nil {
		return model.OccasionCell{}, fmt.Errorf("occasion cell %q year: %w", raw, err)
	}
	month, err := strconv.Atoi(raw[sep+1:])
	if err != nil {
		return model.OccasionCell{}, fmt.Errorf("occasion cell %q month: %w", raw, err)
	}
	if month < 1 || month > 12 {
		return model.OccasionCell{}, fmt.Errorf("occasion cell %q month out of range", raw)
	}
	return model.OccasionCell{Year: year, Month: month}, nil
}
