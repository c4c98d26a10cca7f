// Package dataio reads the external survey inputs (detection table,
// occasion grid, censoring map) and writes the abundance output table.
package dataio

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"recapture/internal/model"
)

// Fixed leading columns of the detection table, before the per-cell 0/1
// detection columns.
var leadingColumns = []string{"id", "sex", "birth_year", "first_capture", "age_at_first"}

// ReadDetectionTable parses the detection table against the occasion grid.
// Column-count mismatches are configuration errors; a missing or unparsable
// age column yields AgeAtFirst=-1 and is left to the transformer's data
// error handling.
func ReadDetectionTable(in io.Reader, grid model.OccasionGrid) ([]model.RawIndividual, error) {
	cells := 0
	for _, s := range grid.Secondaries {
		cells += s
	}

	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read detection table header: %w", err)
	}
	if len(header) != len(leadingColumns)+cells {
		return nil, fmt.Errorf("detection table has %d columns, occasion grid requires %d", len(header), len(leadingColumns)+cells)
	}
	for i, want := range leadingColumns {
		if got := strings.ToLower(strings.TrimSpace(header[i])); got != want {
			return nil, fmt.Errorf("detection table column %d is %q, want %q", i+1, header[i], want)
		}
	}

	rows := make([]model.RawIndividual, 0, 256)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read detection table row %d: %w", line, err)
		}
		line++
		if blankRecord(record) {
			continue
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("detection table row %d has %d columns, want %d", line, len(record), len(header))
		}

		row := model.RawIndividual{
			ID:  strings.TrimSpace(record[0]),
			Sex: strings.TrimSpace(record[1]),
		}
		if row.ID == "" {
			return nil, fmt.Errorf("detection table row %d has an empty id", line)
		}
		if v, err := strconv.Atoi(strings.TrimSpace(record[2])); err == nil {
			row.BirthYear = v
		}
		row.FirstCapture = parseFlag(record[3])
		row.AgeAtFirst = parseAge(record[4])

		row.Detections = make([]int, cells)
		for i := 0; i < cells; i++ {
			v, err := parseBinary(record[len(leadingColumns)+i])
			if err != nil {
				return nil, fmt.Errorf("detection table row %d cell %d: %w", line, i+1, err)
			}
			row.Detections[i] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadCensorMap parses id,occasion pairs. Occasions are one-based in the
// file and returned zero-based; id existence is validated later by the
// transformer, which sees the full detection table.
func ReadCensorMap(in io.Reader) (map[string]int, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	censor := make(map[string]int)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read censor map row %d: %w", line+1, err)
		}
		line++
		if blankRecord(record) {
			continue
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "id") {
			continue
		}
		if len(record) < 2 {
			return nil, fmt.Errorf("censor map row %d needs id and occasion", line)
		}
		id := strings.TrimSpace(record[0])
		occ, err := strconv.Atoi(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("censor map row %d occasion: %w", line, err)
		}
		if _, dup := censor[id]; dup {
			return nil, fmt.Errorf("censor map lists %s twice", id)
		}
		censor[id] = occ - 1
	}
	return censor, nil
}

// WriteAbundanceTable emits one row per primary occasion for external
// reporting.
func WriteAbundanceTable(w io.Writer, rows []model.AbundanceRow) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"occasion", "estimate", "lower", "upper", "caught", "excluded_draws"}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			strconv.Itoa(row.Occasion),
			strconv.FormatFloat(row.Estimate, 'f', -1, 64),
			strconv.FormatFloat(row.Lower, 'f', -1, 64),
			strconv.FormatFloat(row.Upper, 'f', -1, 64),
			strconv.Itoa(row.Caught),
			strconv.Itoa(row.ExcludedDraws),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseBinary(raw string) (int, error) {
	switch strings.TrimSpace(raw) {
	case "0", "":
		return 0, nil
	case "1":
		return 1, nil
	default:
		return 0, fmt.Errorf("detection value %q is not 0 or 1", raw)
	}
}

func parseAge(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		return -1
	}
	return v
}

func parseFlag(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "y", "yes":
		return true
	default:
		return false
	}
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
