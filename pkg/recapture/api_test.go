package recapture

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testGrid = "2019-06,2019-07,2020-06,2020-07"

const testTable = `id,sex,birth_year,first_capture,age_at_first,2019-06,2019-07,2020-06,2020-07
a,f,2017,1,2,1,0,1,0
b,m,2018,1,1,0,1,0,0
c,f,2019,1,0,0,0,1,1
`

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{
		StoreKind:  "memory",
		ResultsDir: filepath.Join(t.TempDir(), "results"),
		ExportsDir: filepath.Join(t.TempDir(), "exports"),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Fatalf("close client: %v", err)
		}
	})
	return client
}

func writeTestTable(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "detections.csv")
	if err := os.WriteFile(path, []byte(testTable), 0o644); err != nil {
		t.Fatalf("write table: %v", err)
	}
	return path
}

func TestTransformBuildsDataset(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	summary, err := client.Transform(ctx, TransformRequest{
		TablePath: writeTestTable(t),
		GridSpec:  testGrid,
		DatasetID: "ds-test",
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}

	if summary.DatasetID != "ds-test" {
		t.Fatalf("unexpected dataset id: %s", summary.DatasetID)
	}
	if summary.Individuals != 2 {
		t.Fatalf("expected 2 modeled individuals, got %d", summary.Individuals)
	}
	if summary.Primaries != 2 || summary.Secondaries != 4 {
		t.Fatalf("unexpected grid shape: %d primaries, %d secondaries", summary.Primaries, summary.Secondaries)
	}
	if summary.ExcludedFinalFirst != 1 {
		t.Fatalf("expected 1 final-first exclusion, got %d", summary.ExcludedFinalFirst)
	}
	if len(summary.Caught) != 2 || summary.Caught[0] != 2 || summary.Caught[1] != 1 {
		t.Fatalf("unexpected caught counts: %v", summary.Caught)
	}
}

func TestTransformGeneratesDatasetID(t *testing.T) {
	client := newTestClient(t)

	summary, err := client.Transform(context.Background(), TransformRequest{
		TablePath: writeTestTable(t),
		GridSpec:  testGrid,
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if summary.DatasetID == "" {
		t.Fatalf("expected generated dataset id")
	}
}

func TestTransformRejectsMissingInputs(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Transform(ctx, TransformRequest{GridSpec: testGrid}); err == nil {
		t.Fatalf("expected error for missing table path")
	}
	if _, err := client.Transform(ctx, TransformRequest{TablePath: writeTestTable(t)}); err == nil {
		t.Fatalf("expected error for missing grid")
	}
	if _, err := client.Transform(ctx, TransformRequest{
		TablePath: filepath.Join(t.TempDir(), "missing.csv"),
		GridSpec:  testGrid,
	}); err == nil {
		t.Fatalf("expected error for missing table file")
	}
}

func TestRunFitAndQueries(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Transform(ctx, TransformRequest{
		TablePath: writeTestTable(t),
		GridSpec:  testGrid,
		DatasetID: "ds-run",
	}); err != nil {
		t.Fatalf("transform: %v", err)
	}

	run, err := client.Run(ctx, RunRequest{
		DatasetID:  "ds-run",
		Chains:     2,
		Iterations: 60,
		BurnIn:     30,
		Seed:       11,
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if run.RunID == "" {
		t.Fatalf("expected run id")
	}
	if run.Draws != 60 {
		t.Fatalf("expected 60 retained draws, got %d", run.Draws)
	}
	if len(run.Parameters) == 0 {
		t.Fatalf("expected parameter summaries")
	}
	if _, err := os.Stat(filepath.Join(run.ArtifactsDir, "abundance.csv")); err != nil {
		t.Fatalf("expected abundance artifact: %v", err)
	}

	runs, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != run.RunID {
		t.Fatalf("unexpected run listing: %+v", runs)
	}
	if runs[0].DatasetID != "ds-run" || runs[0].Chains != 2 {
		t.Fatalf("unexpected run entry: %+v", runs[0])
	}

	posterior, err := client.Posterior(ctx, PosteriorRequest{Latest: true})
	if err != nil {
		t.Fatalf("posterior: %v", err)
	}
	if posterior.RunID != run.RunID || posterior.Draws != 60 {
		t.Fatalf("unexpected posterior summary: %+v", posterior)
	}

	table, err := client.Abundance(ctx, AbundanceRequest{RunID: run.RunID})
	if err != nil {
		t.Fatalf("abundance: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 abundance rows, got %d", len(table.Rows))
	}
	for _, row := range table.Rows {
		if row.Estimate < float64(row.Caught) {
			t.Fatalf("estimate %f below caught count %d", row.Estimate, row.Caught)
		}
	}

	report, err := client.Diagnostics(ctx, DiagnosticsRequest{Latest: true})
	if err != nil {
		t.Fatalf("diagnostics: %v", err)
	}
	if report.RunID != run.RunID {
		t.Fatalf("unexpected diagnostics run id: %s", report.RunID)
	}

	export, err := client.Export(ctx, ExportRequest{Latest: true})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if export.RunID != run.RunID {
		t.Fatalf("unexpected export run id: %s", export.RunID)
	}
	if _, err := os.Stat(filepath.Join(export.Directory, "posterior_summary.json")); err != nil {
		t.Fatalf("expected exported summary: %v", err)
	}
}

func TestRunRequiresKnownDataset(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Run(ctx, RunRequest{}); err == nil {
		t.Fatalf("expected error for missing dataset id")
	}

	_, err := client.Run(ctx, RunRequest{DatasetID: "nope", Chains: 1, Iterations: 10, BurnIn: 5})
	if err == nil || !strings.Contains(err.Error(), "dataset not found") {
		t.Fatalf("expected dataset not found, got %v", err)
	}
}

func TestRunIDResolution(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Posterior(ctx, PosteriorRequest{RunID: "r", Latest: true}); err == nil {
		t.Fatalf("expected error for run id and latest together")
	}
	if _, err := client.Posterior(ctx, PosteriorRequest{}); err == nil {
		t.Fatalf("expected error for neither run id nor latest")
	}
	if _, err := client.Posterior(ctx, PosteriorRequest{Latest: true}); err == nil {
		t.Fatalf("expected error when no runs exist")
	}
	if _, err := client.Posterior(ctx, PosteriorRequest{RunID: "unknown"}); err == nil {
		t.Fatalf("expected error for unknown run id")
	}
}
