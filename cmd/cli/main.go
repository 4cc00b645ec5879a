// Command cli runs the full analysis pipeline over a CSV or Excel file and
// prints the run document as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"datapulse/adapters/ingest"
	"datapulse/adapters/postgres"
	"datapulse/app"
	"datapulse/domain/core"
	"datapulse/domain/dataset"
	"datapulse/internal"
	"datapulse/internal/config"
	"datapulse/internal/preprocess"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	var (
		file    = flag.String("file", "", "path to a CSV or XLSX input file")
		targets = flag.String("targets", "", "comma-separated target metric columns")
		region  = flag.String("region", "", "region column for volatility and anomaly context")
		timeCol = flag.String("time", "", "datetime column for trend and seasonality")
		dims    = flag.String("dims", "", "comma-separated dimension columns for slicing")
		save    = flag.Bool("save", false, "persist the run to DATABASE_URL")
		show    = flag.String("show", "", "print a stored run by ID instead of analyzing")
		list    = flag.Bool("list", false, "list recent stored runs instead of analyzing")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := internal.DefaultLogger

	if *show != "" || *list {
		return showStored(cfg, *show, *list)
	}

	if *file == "" || *targets == "" {
		flag.Usage()
		return fmt.Errorf("-file and -targets are required")
	}

	header, raw, err := ingest.NewFileReader(log).Read(*file)
	if err != nil {
		return err
	}

	tbl, quality, err := preprocess.New(preprocess.DefaultConfig()).Run(header, raw)
	if err != nil {
		return err
	}
	log.Info("preprocessed %d rows, quality score %.3f", tbl.RowCount(), quality.QualityScore)

	roles := dataset.ColumnRoles{
		Targets:    splitList(*targets),
		Region:     *region,
		Time:       *timeCol,
		Dimensions: splitList(*dims),
	}

	ctx := context.Background()
	result, err := app.NewOrchestrator(cfg.Analysis, log).Run(ctx, filepath.Base(*file), tbl, roles, quality)
	if err != nil {
		return err
	}

	if *save {
		if cfg.Database.URL == "" {
			return fmt.Errorf("-save requires DATABASE_URL")
		}
		db, err := postgres.Connect(cfg.Database.URL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.NewAnalysisRepository(db).Create(ctx, result); err != nil {
			return err
		}
		log.Info("saved analysis run %s", result.ID)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// showStored prints stored runs from the database, either one by ID or the
// most recent list.
func showStored(cfg *config.Config, runID string, list bool) error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("-show and -list require DATABASE_URL")
	}
	db, err := postgres.Connect(cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	repo := postgres.NewAnalysisRepository(db)
	ctx := context.Background()

	if list {
		runs, err := repo.List(ctx, 20)
		if err != nil {
			return err
		}
		for _, r := range runs {
			fmt.Printf("%s  %s  completed %s\n", r.ID, r.DatasetName, r.CompletedAt.Time().Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	id, err := core.ParseRunID(runID)
	if err != nil {
		return err
	}
	run, err := repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
