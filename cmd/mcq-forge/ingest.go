// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/mcq-forge/internal/source"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Bring sources into the knowledge base",
	Long: `Ingest registers source material for extraction. PubMed articles are
fetched by PMID or found via a search query; local text files are split into
section chunks (Abstract, Methods, Results, Discussion, Conclusion) that are
extracted independently.`,
}

var ingestPubMedCmd = &cobra.Command{
	Use:   "pubmed [pmids...]",
	Short: "Fetch PubMed articles by PMID or search query",
	RunE:  runIngestPubMed,
}

func runIngestPubMed(cmd *cobra.Command, args []string) error {
	query, _ := cmd.Flags().GetString("search")
	if len(args) == 0 && query == "" {
		return fmt.Errorf("provide PMIDs or a --search query")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	pmids := args

	if query != "" {
		max, _ := cmd.Flags().GetInt("max")
		client := source.NewPubMedClient(cfg.Ingest)
		found, err := client.Search(ctx, query, max)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return fmt.Errorf("no PubMed results for %q", query)
		}
		fmt.Fprintf(os.Stdout, "found %d articles for %q\n", len(found), query)
		pmids = append(pmids, found...)
	}

	failed := 0
	for _, pmid := range pmids {
		if _, err := orch.IngestPubMed(ctx, pmid); err != nil {
			fmt.Fprintf(os.Stdout, "failed  %s: %v\n", pmid, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d article(s) failed ingestion", failed)
	}
	return nil
}

var ingestFileCmd = &cobra.Command{
	Use:   "file [paths...]",
	Short: "Chunk and register local text files",
	RunE:  runIngestFile,
}

func runIngestFile(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide one or more text files")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	failed := 0
	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stdout, "failed  %s: %v\n", path, err)
			failed++
			continue
		}
		name := filepath.Base(path)
		if !strings.HasSuffix(name, ".txt") {
			fmt.Fprintf(os.Stdout, "skipped %s: only .txt files are supported\n", path)
			continue
		}
		if _, _, err := orch.IngestFile(ctx, name, string(data)); err != nil {
			fmt.Fprintf(os.Stdout, "failed  %s: %v\n", path, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d file(s) failed ingestion", failed)
	}
	return nil
}

func init() {
	ingestPubMedCmd.Flags().String("search", "", "PubMed search query instead of explicit PMIDs")
	ingestPubMedCmd.Flags().Int("max", 5, "maximum search results to ingest")

	ingestCmd.AddCommand(ingestPubMedCmd)
	ingestCmd.AddCommand(ingestFileCmd)
	rootCmd.AddCommand(ingestCmd)
}
