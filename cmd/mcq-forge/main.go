// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the mcq-forge CLI: provenance-gated
// multiple-choice question generation from medical source text.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/mcq-forge/internal/secrets"
)

// version is set at build time via ldflags.
var version = "dev"

// loadedSecrets holds API keys loaded from .secrets/ at startup.
var loadedSecrets map[string]string

// rootCmd is the base command for the mcq-forge CLI.
var rootCmd = &cobra.Command{
	Use:   "mcq-forge",
	Short: "Provenance-gated MCQ generation from medical sources",
	Long: `mcq-forge builds exam questions from medical literature with a provable
provenance chain. Sources come from PubMed or uploaded text files; extracted
facts are validated against a relation taxonomy and verified verbatim against
the source before a reviewer ever sees them. Questions only persist after the
provenance gate links them back to an approved fact.

Each pipeline stage is a subcommand: ingest, run, session, review, kb, and
image. Interactive review is the default; pass --auto-accept to run
unattended.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := secrets.Load(".secrets/")
		if err != nil {
			return err
		}
		loadedSecrets = s
		if len(s) > 0 {
			keys := make([]string, 0, len(s))
			for k := range s {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(os.Stderr, "Loaded secrets: %v\n", keys)
		}
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./mcq-forge.yaml or ~/.config/mcq-forge/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "base directory for the knowledge base and images (default: data)")
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("mcq-forge")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "mcq-forge"))
		}
	}

	viper.SetEnvPrefix("MCQ_FORGE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
