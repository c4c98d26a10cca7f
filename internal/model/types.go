package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

// CurrentVersion stamps a record with the versions this build writes.
func CurrentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// OccasionCell is one secondary sampling occasion, identified by its
// calendar position inside the survey season.
type OccasionCell struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// OccasionGrid is the ordered list of secondary occasions grouped into
// primary occasions (years). Secondaries[t] is the number of secondary
// occasions inside primary t.
type OccasionGrid struct {
	Cells       []OccasionCell `json:"cells"`
	Primaries   int            `json:"primaries"`
	Secondaries []int          `json:"secondaries"`
}

// RawIndividual is one row of the detection table before transformation.
// Detections holds one 0/1 entry per grid cell, in grid order.
// AgeAtFirst is -1 when the source column was missing or unparsable.
type RawIndividual struct {
	ID           string `json:"id"`
	Sex          string `json:"sex"`
	BirthYear    int    `json:"birth_year"`
	FirstCapture bool   `json:"first_capture"`
	AgeAtFirst   int    `json:"age_at_first"`
	Detections   []int  `json:"detections"`
}

// Individual is a modeled animal after transformation. First and Last are
// zero-based primary occasion indexes bounding every tensor row for this
// individual.
type Individual struct {
	ID         string `json:"id"`
	Sex        string `json:"sex"`
	AgeAtFirst int    `json:"age_at_first"`
	First      int    `json:"first"`
	Last       int    `json:"last"`
}

// Dataset is the immutable output of the transformer. All tensors are
// indexed [individual][primary][secondary] (or [individual][primary]) and
// are meaningful only inside each individual's [First,Last] window; Avail
// doubles as the defined/undefined mask for the secondary cells.
type Dataset struct {
	VersionedRecord
	ID          string       `json:"id"`
	Grid        OccasionGrid `json:"grid"`
	Individuals []Individual `json:"individuals"`

	Obs            [][][]int `json:"obs"`
	Avail          [][][]int `json:"avail"`
	CaptureHistory [][]int   `json:"capture_history"`
	AgeClass       [][]int   `json:"age_class"`

	// Caught counts individuals with at least one raw detection per
	// primary occasion, before the availability correction. It includes
	// individuals censored out of the modeled set.
	Caught []int `json:"caught"`
}

// ParameterSummary is the posterior summary of one scalar parameter.
type ParameterSummary struct {
	Name   string  `json:"name"`
	Mean   float64 `json:"mean"`
	SD     float64 `json:"sd"`
	Q025   float64 `json:"q025"`
	Median float64 `json:"median"`
	Q975   float64 `json:"q975"`
	RHat   float64 `json:"rhat"`
}

// PosteriorSummary aggregates the retained draws of a fit.
type PosteriorSummary struct {
	VersionedRecord
	RunID      string             `json:"run_id"`
	Chains     int                `json:"chains"`
	Iterations int                `json:"iterations"`
	BurnIn     int                `json:"burn_in"`
	Draws      int                `json:"draws"`
	Parameters []ParameterSummary `json:"parameters"`
	Warnings   []string           `json:"warnings,omitempty"`
}

// AbundanceRow is one primary occasion of the output table. Occasion is
// one-based for reporting. ExcludedDraws counts posterior draws discarded
// because their pooled detection probability was zero.
type AbundanceRow struct {
	Occasion      int     `json:"occasion"`
	Estimate      float64 `json:"estimate"`
	Lower         float64 `json:"lower"`
	Upper         float64 `json:"upper"`
	Caught        int     `json:"caught"`
	ExcludedDraws int     `json:"excluded_draws"`
}

// AbundanceTable is the persisted estimate set for one run.
type AbundanceTable struct {
	VersionedRecord
	RunID string         `json:"run_id"`
	Rows  []AbundanceRow `json:"rows"`
}
