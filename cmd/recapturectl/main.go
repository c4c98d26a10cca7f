package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"recapture/internal/storage"
	api "recapture/pkg/recapture"
)

const (
	resultsDir = "results"
	exportsDir = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "transform":
		return runTransform(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "posterior":
		return runPosterior(ctx, args[1:])
	case "abundance":
		return runAbundance(ctx, args[1:])
	case "diagnostics":
		return runDiagnostics(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func storeFlags(fs *flag.FlagSet) (storeKind, dbPath *string) {
	storeKind = fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath = fs.String("db-path", "recapture.db", "sqlite database path")
	return storeKind, dbPath
}

func newClient(storeKind, dbPath string) (*api.Client, error) {
	return api.New(api.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		ResultsDir: resultsDir,
		ExportsDir: exportsDir,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runTransform(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("transform", flag.ContinueOnError)
	tablePath := fs.String("table", "", "detection table CSV path")
	gridSpec := fs.String("grid", "", "comma-separated secondary occasions, YYYY-MM each")
	censorPath := fs.String("censor", "", "optional censor map CSV path")
	datasetID := fs.String("dataset-id", "", "explicit dataset id (optional)")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *tablePath == "" {
		return errors.New("transform requires --table")
	}
	if *gridSpec == "" {
		return errors.New("transform requires --grid")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Transform(ctx, api.TransformRequest{
		TablePath:  *tablePath,
		GridSpec:   *gridSpec,
		CensorPath: *censorPath,
		DatasetID:  *datasetID,
	})
	if err != nil {
		return err
	}

	fmt.Printf("transformed dataset_id=%s individuals=%d primaries=%d secondaries=%d excluded_no_detection=%d excluded_invalid_age=%d excluded_final_first=%d excluded_no_interval=%d\n",
		summary.DatasetID,
		summary.Individuals,
		summary.Primaries,
		summary.Secondaries,
		summary.ExcludedNoDetection,
		summary.ExcludedInvalidAge,
		summary.ExcludedFinalFirst,
		summary.ExcludedNoInterval,
	)
	for t, caught := range summary.Caught {
		fmt.Printf("occasion=%d caught=%d\n", t+1, caught)
	}
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config JSON path")
	datasetID := fs.String("dataset-id", "", "dataset id to fit (omit when transforming inline)")
	tablePath := fs.String("table", "", "detection table CSV path for an inline transform")
	gridSpec := fs.String("grid", "", "occasion grid for an inline transform")
	censorPath := fs.String("censor", "", "optional censor map CSV path for an inline transform")
	chains := fs.Int("chains", 4, "independent chain count")
	iterations := fs.Int("iters", 2000, "iterations per chain")
	burnIn := fs.Int("burn-in", 0, "burn-in iterations (0 uses half the iterations)")
	thin := fs.Int("thin", 1, "retain every n-th post burn-in draw")
	seed := fs.Uint64("seed", 1, "rng seed")
	gammaStep := fs.Float64("gamma-step", 0.1, "emigration proposal step")
	muStep := fs.Float64("mu-step", 0.1, "detection proposal step")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *configPath != "" {
		cfg, err := loadRunConfig(*configPath)
		if err != nil {
			return err
		}
		setFlags := make(map[string]bool)
		fs.Visit(func(f *flag.Flag) {
			setFlags[f.Name] = true
		})
		if !setFlags["dataset-id"] && cfg.DatasetID != "" {
			*datasetID = cfg.DatasetID
		}
		if !setFlags["table"] && cfg.TablePath != "" {
			*tablePath = cfg.TablePath
		}
		if !setFlags["grid"] && cfg.GridSpec != "" {
			*gridSpec = cfg.GridSpec
		}
		if !setFlags["censor"] && cfg.CensorPath != "" {
			*censorPath = cfg.CensorPath
		}
		if !setFlags["chains"] && cfg.Chains > 0 {
			*chains = cfg.Chains
		}
		if !setFlags["iters"] && cfg.Iterations > 0 {
			*iterations = cfg.Iterations
		}
		if !setFlags["burn-in"] && cfg.BurnIn > 0 {
			*burnIn = cfg.BurnIn
		}
		if !setFlags["thin"] && cfg.Thin > 0 {
			*thin = cfg.Thin
		}
		if !setFlags["seed"] && cfg.Seed > 0 {
			*seed = cfg.Seed
		}
		if !setFlags["gamma-step"] && cfg.GammaStep > 0 {
			*gammaStep = cfg.GammaStep
		}
		if !setFlags["mu-step"] && cfg.MuStep > 0 {
			*muStep = cfg.MuStep
		}
	}

	if *datasetID == "" && *tablePath == "" {
		return errors.New("run requires --dataset-id or --table with --grid")
	}
	if *datasetID != "" && *tablePath != "" {
		return errors.New("use either --dataset-id or an inline transform, not both")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if *tablePath != "" {
		if *gridSpec == "" {
			return errors.New("inline transform requires --grid")
		}
		transformed, err := client.Transform(ctx, api.TransformRequest{
			TablePath:  *tablePath,
			GridSpec:   *gridSpec,
			CensorPath: *censorPath,
		})
		if err != nil {
			return err
		}
		*datasetID = transformed.DatasetID
		fmt.Printf("transformed dataset_id=%s individuals=%d\n", transformed.DatasetID, transformed.Individuals)
	}

	summary, err := client.Run(ctx, api.RunRequest{
		DatasetID:  *datasetID,
		Chains:     *chains,
		Iterations: *iterations,
		BurnIn:     *burnIn,
		Thin:       *thin,
		Seed:       *seed,
		GammaStep:  *gammaStep,
		MuStep:     *muStep,
	})
	if err != nil {
		return err
	}

	fmt.Printf("run_id=%s dataset_id=%s draws=%d warnings=%d artifacts=%s\n",
		summary.RunID,
		summary.DatasetID,
		summary.Draws,
		len(summary.Warnings),
		summary.ArtifactsDir,
	)
	for _, p := range summary.Parameters {
		fmt.Printf("param=%s mean=%.6f sd=%.6f q025=%.6f median=%.6f q975=%.6f rhat=%.4f\n",
			p.Name, p.Mean, p.SD, p.Q025, p.Median, p.Q975, p.RHat)
	}
	for _, w := range summary.Warnings {
		fmt.Printf("warning=%s\n", w)
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, api.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s created_at=%s dataset_id=%s individuals=%d primaries=%d chains=%d iters=%d seed=%d warnings=%d\n",
			item.RunID,
			item.CreatedAtUTC,
			item.DatasetID,
			item.Individuals,
			item.Primaries,
			item.Chains,
			item.Iterations,
			item.Seed,
			item.Warnings,
		)
	}
	return nil
}

func runPosterior(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("posterior", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	jsonOut := fs.Bool("json", false, "emit posterior summary as JSON")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Posterior(ctx, api.PosteriorRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Printf("run_id=%s chains=%d iters=%d burn_in=%d draws=%d\n",
		summary.RunID, summary.Chains, summary.Iterations, summary.BurnIn, summary.Draws)
	for _, p := range summary.Parameters {
		fmt.Printf("param=%s mean=%.6f sd=%.6f q025=%.6f median=%.6f q975=%.6f rhat=%.4f\n",
			p.Name, p.Mean, p.SD, p.Q025, p.Median, p.Q975, p.RHat)
	}
	for _, w := range summary.Warnings {
		fmt.Printf("warning=%s\n", w)
	}
	return nil
}

func runAbundance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("abundance", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	jsonOut := fs.Bool("json", false, "emit abundance table as JSON")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	table, err := client.Abundance(ctx, api.AbundanceRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(table)
	}

	fmt.Printf("run_id=%s occasions=%d\n", table.RunID, len(table.Rows))
	for _, row := range table.Rows {
		fmt.Printf("occasion=%d estimate=%.2f lower=%.2f upper=%.2f caught=%d excluded_draws=%d\n",
			row.Occasion, row.Estimate, row.Lower, row.Upper, row.Caught, row.ExcludedDraws)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "use the most recent run from the run index")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	report, err := client.Diagnostics(ctx, api.DiagnosticsRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Printf("run_id=%s warnings=%d\n", report.RunID, len(report.Warnings))
	for _, p := range report.Parameters {
		fmt.Printf("param=%s rhat=%.4f\n", p.Name, p.RHat)
	}
	for _, w := range report.Warnings {
		fmt.Printf("warning=%s\n", w)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	storeKind, dbPath := storeFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, api.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", summary.RunID, summary.Directory)
	return nil
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: recapturectl <init|reset|transform|run|runs|posterior|abundance|diagnostics|export> [flags]", msg)
}
