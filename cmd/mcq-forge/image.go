// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/mcq-forge/internal/llm"
	"github.com/pdiddy/mcq-forge/internal/secrets"
	"github.com/pdiddy/mcq-forge/internal/visual"
)

var imageCmd = &cobra.Command{
	Use:   "image [record-id]",
	Short: "Generate an illustration for an approved question record",
	Long: `Image refines the record's seed visual prompt into an image-model
prompt and generates one illustration, stored under the data directory.
Images are only ever produced by this explicit request; the pipeline never
generates one on its own.`,
	RunE: runImage,
}

func runImage(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one record ID")
	}

	cfg := pipelineConfig(cmd)
	store, _, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	rec, err := store.GetRecord(ctx, args[0])
	if err != nil {
		return err
	}

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		return err
	}
	prompt, err := visual.NewRefiner(provider).Refine(ctx, *rec)
	if err != nil {
		return err
	}
	fmt.Printf("refined prompt: %s\n", prompt)

	gen, err := visual.NewGenerator(cfg.Visual, loadedSecrets[secrets.KeyOpenAI],
		viper.GetString("visual.base_url"), store.DataDir())
	if err != nil {
		return err
	}
	path, err := gen.Generate(ctx, rec.ID, prompt)
	if err != nil {
		return err
	}

	if err := store.SetRecordImage(ctx, rec.ID, prompt, path); err != nil {
		return err
	}
	fmt.Printf("image written to %s\n", path)
	return nil
}

func init() {
	rootCmd.AddCommand(imageCmd)
}
