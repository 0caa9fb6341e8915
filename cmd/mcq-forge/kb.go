// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/mcq-forge/pkg/types"
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Query and export the knowledge base",
	Long: `KB inspects the accumulated knowledge: ingested sources, approved
triplets, and gated question records. Export writes records with their full
provenance chain for downstream consumers.`,
}

var kbSourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List ingested sources",
	RunE:  runKBSources,
}

func runKBSources(cmd *cobra.Command, args []string) error {
	cfg := pipelineConfig(cmd)
	store, _, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sources, err := store.ListSources(context.Background())
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No sources.")
		return nil
	}
	for _, s := range sources {
		title := s.Title
		if s.Section != "" {
			title = fmt.Sprintf("%s [%s]", title, s.Section)
		}
		fmt.Fprintf(os.Stdout, "%-28s  %-10s  %s\n", s.ID, s.Type, title)
	}
	return nil
}

var kbSearchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Full-text search over approved triplets",
	RunE:  runKBSearch,
}

func runKBSearch(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("provide a search query")
	}

	cfg := pipelineConfig(cmd)
	store, _, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.SearchTriplets(context.Background(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for i, t := range results {
		fmt.Fprintf(os.Stdout, "%-4d %s  %s %s %s (%s)  source %s\n",
			i+1, t.ID, t.Subject, t.Action, t.Object, t.Relation, t.SourceID)
	}
	return nil
}

var kbRecordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List question records",
	RunE:  runKBRecords,
}

func runKBRecords(cmd *cobra.Command, args []string) error {
	cfg := pipelineConfig(cmd)
	store, _, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	status, _ := cmd.Flags().GetString("status")
	records, err := store.ListRecords(context.Background(), types.RecordStatus(status))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No records.")
		return nil
	}
	for _, r := range records {
		fmt.Fprintf(os.Stdout, "%-36s  v%-2d  %-11s  %s\n", r.ID, r.Version, r.Status, r.Question)
	}
	return nil
}

var kbExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export records with their provenance chain",
	RunE:  runKBExport,
}

func runKBExport(cmd *cobra.Command, args []string) error {
	cfg := pipelineConfig(cmd)
	store, _, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	status, _ := cmd.Flags().GetString("status")
	format, _ := cmd.Flags().GetString("format")

	ctx := context.Background()
	var path string
	switch format {
	case "yaml", "":
		path, err = store.ExportYAML(ctx, types.RecordStatus(status))
	case "json":
		path, err = store.ExportJSON(ctx, types.RecordStatus(status))
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Exported to %s\n", path)
	return nil
}

func init() {
	kbRecordsCmd.Flags().String("status", "", "filter by status: pending, approved, rejected, superseded")
	kbExportCmd.Flags().String("status", "approved", "record status to export (empty for all)")
	kbExportCmd.Flags().String("format", "yaml", "export format: yaml or json")

	kbCmd.AddCommand(kbSourcesCmd)
	kbCmd.AddCommand(kbSearchCmd)
	kbCmd.AddCommand(kbRecordsCmd)
	kbCmd.AddCommand(kbExportCmd)
	rootCmd.AddCommand(kbCmd)
}
