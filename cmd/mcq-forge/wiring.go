// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/mcq-forge/internal/extract"
	"github.com/pdiddy/mcq-forge/internal/kb"
	"github.com/pdiddy/mcq-forge/internal/llm"
	"github.com/pdiddy/mcq-forge/internal/pipeline"
	"github.com/pdiddy/mcq-forge/internal/provenance"
	"github.com/pdiddy/mcq-forge/internal/refine"
	"github.com/pdiddy/mcq-forge/internal/schema"
	"github.com/pdiddy/mcq-forge/internal/secrets"
	"github.com/pdiddy/mcq-forge/internal/session"
	"github.com/pdiddy/mcq-forge/internal/source"
	"github.com/pdiddy/mcq-forge/pkg/types"
)

// pipelineConfig assembles the full stage configuration from viper and the
// loaded secrets. Flags override config file values where both exist.
func pipelineConfig(cmd *cobra.Command) types.PipelineConfig {
	cfg := types.PipelineConfig{
		Ingest: types.IngestConfig{
			NCBIAPIKey:        loadedSecrets[secrets.KeyNCBI],
			RequestsPerSecond: viper.GetFloat64("ingest.requests_per_second"),
			CacheTTL:          viper.GetDuration("ingest.cache_ttl"),
		},
		Schema: types.SchemaConfig{
			Path: viper.GetString("schema.path"),
		},
		Provenance: types.ProvenanceConfig{
			FuzzyThreshold: viper.GetFloat64("provenance.fuzzy_threshold"),
		},
		KB: types.KBConfig{
			DataDir:    viper.GetString("kb.data_dir"),
			MaxResults: viper.GetInt("kb.max_results"),
		},
		LLM: types.LLMConfig{
			Provider:  viper.GetString("llm.provider"),
			Model:     viper.GetString("llm.model"),
			BaseURL:   viper.GetString("llm.base_url"),
			Timeout:   viper.GetDuration("llm.timeout"),
			MaxTokens: viper.GetInt("llm.max_tokens"),
		},
		Refine: types.RefineConfig{
			MaxIterations: viper.GetInt("refine.max_iterations"),
			PassThreshold: viper.GetFloat64("refine.pass_threshold"),
		},
		Visual: types.VisualConfig{
			Model: viper.GetString("visual.model"),
			Size:  viper.GetString("visual.size"),
		},
		AutoAccept:           viper.GetBool("auto_accept"),
		MaxConcurrentSources: viper.GetInt("max_concurrent_sources"),
	}

	cfg.LLM.APIKey = secrets.ForProvider(loadedSecrets, cfg.LLM.Provider)

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.KB.DataDir = dataDir
	}
	if auto, _ := cmd.Flags().GetBool("auto-accept"); auto {
		cfg.AutoAccept = true
	}
	return cfg
}

// openStores opens the knowledge base and its session store.
func openStores(cfg types.PipelineConfig) (*kb.Store, *session.Store, error) {
	store, err := kb.NewStore(cfg.KB)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := session.NewStore(store.DB())
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, sessions, nil
}

// buildOrchestrator wires the full pipeline. The caller closes the returned
// store.
func buildOrchestrator(cfg types.PipelineConfig, w io.Writer) (*pipeline.Orchestrator, *kb.Store, error) {
	store, sessions, err := openStores(cfg)
	if err != nil {
		return nil, nil, err
	}

	provider, err := llm.New(cfg.LLM)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	sch, err := schema.Load(cfg.Schema)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	ex := extract.NewExtractor(provider, sch, provenance.NewVerifier(cfg.Provenance))
	loop := refine.NewLoop(provider, cfg.Refine)
	fetcher := source.NewPubMedClient(cfg.Ingest)

	return pipeline.New(cfg, store, sessions, fetcher, ex, loop, w), store, nil
}
