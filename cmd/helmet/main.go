package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/helmet/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(runStage).ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("helmet failed")
		stop()
		os.Exit(1)
	}
}

// stageRunner executes one stage with its optional positional path.
type stageRunner func(ctx context.Context, stage, arg string) error

func runStage(ctx context.Context, stage, arg string) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := a.Run(ctx, stage, arg); err != nil {
		return err
	}
	log.Info().Str("stage", stage).Dur("elapsed", time.Since(start)).Msg("stage complete")
	return nil
}

func newRootCommand(run stageRunner) *cobra.Command {
	root := &cobra.Command{
		Use:   "helmet",
		Short: "Health-economics literature mining pipeline",
		Long: "helmet harvests PubMed Central papers, builds question and table databases from them\n" +
			"and writes everything under output_db/. Configuration comes from helmet.yaml,\n" +
			".env files and the environment.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	stages := []struct {
		use, short string
		stage      string
	}{
		{"papers [instructions-file]", "Search PMC and store metadata and full text (default DataLake/slr_cem.txt)", app.StagePapers},
		{"index [storage-dir]", "Merge stored paper records into index_db/index_db.csv", app.StageIndex},
		{"query [output-dir]", "Generate sentence questions for new or changed abstracts", app.StageQuery},
		{"slr [output-dir]", "Collect reviews, harvest and triage their tables, and answer table questions", app.StageSLR},
		{"tables [output-dir]", "Harvest review tables only", app.StageTables},
		{"triage [slr-tables-dir]", "Sort harvested tables into kept and discarded", app.StageTriage},
		{"label [output-dir]", "Build the section-labelling database from redacted full texts", app.StageLabel},
	}
	for _, s := range stages {
		stage := s.stage
		root.AddCommand(&cobra.Command{
			Use:   s.use,
			Short: s.short,
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				arg := ""
				if len(args) == 1 {
					arg = args[0]
				}
				return run(cmd.Context(), stage, arg)
			},
		})
	}
	return root
}
