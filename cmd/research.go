package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"deepresearch/config"
	"deepresearch/internal/research"
	"deepresearch/internal/store"
	"deepresearch/internal/telemetry"
)

func researchCMD() *cobra.Command {
	var (
		cfgPath string
		breadth int
		depth   int
		asJSON  bool
		noStore bool
	)
	var cmd = &cobra.Command{
		Use:   "research <query>",
		Short: "Run a recursive deep-research pass over a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			logger := log.New(os.Stdout, "[DEEPRESEARCH] ", log.LstdFlags)
			tel := telemetry.New(cfg.Telemetry, logger)

			orch, err := research.NewOrchestrator(cfg, logger, tel)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if cfg.General.MaxProcessingTime > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.General.MaxProcessingTime)
				defer cancel()
			}

			start := time.Now()
			result, err := orch.Run(ctx, args[0], breadth, depth)
			if err != nil && !errors.Is(err, research.ErrNoLearnings) {
				return err
			}
			if errors.Is(err, research.ErrNoLearnings) {
				logger.Printf("run finished with no learnings (%d branch errors)", len(result.Errors))
			}

			if !noStore && cfg.Storage.Redis.Enabled {
				if serr := saveRun(cmd.Context(), cfg, args[0], breadth, depth, start, result); serr != nil {
					logger.Printf("saving run failed: %v", serr)
				}
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
				return err
			}
			printResult(result)
			return err
		},
	}
	cmd.Flags().IntVarP(&breadth, "breadth", "b", 0, "sub-queries per level (0 uses the configured default)")
	cmd.Flags().IntVarP(&depth, "depth", "d", 0, "recursion depth (0 uses the configured default)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "skip persisting the run")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")
	return cmd
}

func saveRun(ctx context.Context, cfg *config.Config, query string, breadth, depth int, start time.Time, result research.Result) error {
	s, err := store.Connect(ctx, cfg.Storage.Redis)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.SaveRun(ctx, store.RunRecord{
		RunID:       uuid.New().String(),
		Query:       query,
		Breadth:     breadth,
		Depth:       depth,
		Learnings:   result.Learnings,
		VisitedURLs: result.VisitedURLs,
		Errors:      result.Errors,
		StartedAt:   start,
		FinishedAt:  time.Now(),
	})
}

func printResult(result research.Result) {
	fmt.Printf("\nLearnings (%d):\n", len(result.Learnings))
	for _, l := range result.Learnings {
		fmt.Printf("  - %s\n", l)
	}
	fmt.Printf("\nVisited URLs (%d):\n", len(result.VisitedURLs))
	for _, u := range result.VisitedURLs {
		fmt.Printf("  - %s\n", u)
	}
	if len(result.Errors) > 0 {
		fmt.Printf("\nBranch errors (%d):\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}
