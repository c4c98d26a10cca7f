package dataio

import (
	"strings"
	"testing"

	"recapture/internal/model"
)

func TestParseOccasionGrid(t *testing.T) {
	grid, err := ParseOccasionGrid("2015-05,2015-06,2015-07,2016-05,2016-06")
	if err != nil {
		t.Fatalf("parse grid: %v", err)
	}
	if grid.Primaries != 2 {
		t.Fatalf("expected 2 primaries, got %d", grid.Primaries)
	}
	if grid.Secondaries[0] != 3 || grid.Secondaries[1] != 2 {
		t.Fatalf("unexpected secondary counts: %v", grid.Secondaries)
	}
	if len(grid.Cells) != 5 || grid.Cells[3].Year != 2016 || grid.Cells[3].Month != 5 {
		t.Fatalf("unexpected cells: %+v", grid.Cells)
	}
}

func TestParseOccasionGridRejectsSplitYear(t *testing.T) {
	if _, err := ParseOccasionGrid("2015-05,2016-05,2015-06"); err == nil {
		t.Fatalf("expected split-year error")
	}
	if _, err := ParseOccasionGrid(""); err == nil {
		t.Fatalf("expected empty-grid error")
	}
	if _, err := ParseOccasionGrid("2015-13"); err == nil {
		t.Fatalf("expected month range error")
	}
}

func TestReadDetectionTable(t *testing.T) {
	grid := model.OccasionGrid{Primaries: 2, Secondaries: []int{2, 2}}
	in := strings.NewReader(
		"id,sex,birth_year,first_capture,age_at_first,c1,c2,c3,c4\n" +
			"A,F,2013,1,2,1,0,0,1\n" +
			"B,M,2014,0,,0,1,0,0\n",
	)
	rows, err := ReadDetectionTable(in, grid)
	if err != nil {
		t.Fatalf("read table: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	a := rows[0]
	if a.ID != "A" || a.Sex != "F" || a.BirthYear != 2013 || !a.FirstCapture || a.AgeAtFirst != 2 {
		t.Fatalf("unexpected row A: %+v", a)
	}
	if a.Detections[0] != 1 || a.Detections[3] != 1 {
		t.Fatalf("unexpected detections for A: %v", a.Detections)
	}
	if rows[1].AgeAtFirst != -1 {
		t.Fatalf("missing age should map to -1, got %d", rows[1].AgeAtFirst)
	}
}

func TestReadDetectionTableColumnMismatch(t *testing.T) {
	grid := model.OccasionGrid{Primaries: 2, Secondaries: []int{2, 2}}
	in := strings.NewReader("id,sex,birth_year,first_capture,age_at_first,c1,c2\nA,F,2013,1,2,1,0\n")
	if _, err := ReadDetectionTable(in, grid); err == nil || !strings.Contains(err.Error(), "requires") {
		t.Fatalf("expected column mismatch error, got %v", err)
	}
}

func TestReadDetectionTableRejectsNonBinary(t *testing.T) {
	grid := model.OccasionGrid{Primaries: 1, Secondaries: []int{2}}
	in := strings.NewReader("id,sex,birth_year,first_capture,age_at_first,c1,c2\nA,F,2013,1,2,1,3\n")
	if _, err := ReadDetectionTable(in, grid); err == nil {
		t.Fatalf("expected binary cell error")
	}
}

func TestReadCensorMap(t *testing.T) {
	in := strings.NewReader("id,occasion\nA,3\nB,1\n")
	censor, err := ReadCensorMap(in)
	if err != nil {
		t.Fatalf("read censor map: %v", err)
	}
	if censor["A"] != 2 || censor["B"] != 0 {
		t.Fatalf("expected zero-based occasions, got %v", censor)
	}

	dup := strings.NewReader("A,3\nA,2\n")
	if _, err := ReadCensorMap(dup); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestWriteAbundanceTable(t *testing.T) {
	rows := []model.AbundanceRow{
		{Occasion: 1, Estimate: 42.5, Lower: 30.1, Upper: 61.9, Caught: 17, ExcludedDraws: 0},
		{Occasion: 2, Estimate: 39, Lower: 28, Upper: 55, Caught: 15, ExcludedDraws: 2},
	}
	var out strings.Builder
	if err := WriteAbundanceTable(&out, rows); err != nil {
		t.Fatalf("write table: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "occasion,estimate,lower,upper,caught,excluded_draws" {
		t.Fatalf("unexpected header: %s", lines[0])
	}
	if !strings.HasPrefix(lines[2], "2,39,") || !strings.HasSuffix(lines[2], ",15,2") {
		t.Fatalf("unexpected row: %s", lines[2])
	}
}
