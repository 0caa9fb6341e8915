// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [source-ids...]",
	Short: "Run the pipeline for one or more ingested sources",
	Long: `Run drives sources through extraction, review, and question generation.
Unattended runs require --auto-accept: candidates that pass schema validation
and provenance verification are promoted without review, and the first
approved fact becomes a question awaiting 'review approve'. Flagged
candidates always wait for a human regardless of the flag.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide one or more source IDs (see 'mcq-forge kb sources')")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	return orch.RunBatch(context.Background(), args)
}

func init() {
	runCmd.Flags().Bool("auto-accept", false, "promote validated candidates without human review")

	rootCmd.AddCommand(runCmd)
}
