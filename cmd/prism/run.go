package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/prismlabs/PRISM/internal/config"
	"github.com/prismlabs/PRISM/internal/logging"
	"github.com/prismlabs/PRISM/internal/pipeline"
	"github.com/prismlabs/PRISM/internal/store"
)

var (
	problemPath string
	runID       string
	noHistory   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one optimization to completion",
	Long: `Loads a problem definition, runs the adjoint optimization loop until a
terminal state and prints the result as JSON. Every trial is appended to
the run's history file unless history is disabled.`,
	RunE: runProblem,
}

func init() {
	runCmd.Flags().StringVar(&problemPath, "problem", "", "Problem definition YAML (required)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (default: random UUID)")
	runCmd.Flags().BoolVar(&noHistory, "no-history", false, "Skip writing the trial history")

	runCmd.MarkFlagRequired("problem")
	rootCmd.AddCommand(runCmd)
}

func runProblem(cmd *cobra.Command, args []string) error {
	problem, err := config.LoadProblem(problemPath)
	if err != nil {
		return err
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	var history *store.TraceWriter
	if !noHistory && svcCfg.History.Dir != "" {
		history, err = store.NewTraceWriter(svcCfg.History.Dir, runID)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer history.Close()
	}

	runLogger := logger.WithFields(map[string]interface{}{
		"problem": problem.Name,
	})
	opts := pipeline.Options{
		RunID:   runID,
		History: history,
		Logger:  logging.NewZapLogger(runLogger),
	}

	// Interrupts stop the run at the next iteration boundary; partial
	// progress stays usable.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runLogger.Info("Starting optimization", map[string]interface{}{
		"run_id":     runID,
		"parameters": len(pipeline.Initial(problem)),
	})
	result, err := pipeline.Run(ctx, problem, svcCfg, opts, pipeline.Initial(problem))
	if err != nil {
		return fmt.Errorf("run %s: %w", runID, err)
	}

	out := map[string]interface{}{
		"run_id":     runID,
		"status":     result.Status.String(),
		"parameters": result.Params,
		"fom":        result.FOM,
		"iterations": result.Iteration,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
