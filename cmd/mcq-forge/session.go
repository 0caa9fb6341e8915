// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage review sessions",
	Long: `Session manages the durable state of each source-to-question unit of
work. Sessions survive restarts: every stage transition is checkpointed, and
terminal sessions keep their full error trail.`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start [source-id]",
	Short: "Open a session for an ingested source and run extraction",
	RunE:  runSessionStart,
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one source ID")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := orch.StartSession(ctx, args[0])
	if err != nil {
		return err
	}
	return orch.RunExtraction(ctx, sess)
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions, newest first",
	RunE:  runSessionList,
}

func runSessionList(cmd *cobra.Command, args []string) error {
	cfg := pipelineConfig(cmd)
	store, sessions, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	activeOnly, _ := cmd.Flags().GetBool("active")
	list, err := sessions.List(context.Background(), activeOnly)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No sessions.")
		return nil
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-18s  %-24s  %s\n", "ID", "Stage", "Source", "Updated")
	for _, s := range list {
		fmt.Fprintf(os.Stdout, "%-36s  %-18s  %-24s  %s\n",
			s.ID, s.Stage, s.SourceID, s.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show a session's full state as JSON",
	RunE:  runSessionShow,
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one session ID")
	}

	cfg := pipelineConfig(cmd)
	store, sessions, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := sessions.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sess)
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel [session-id]",
	Short: "Abandon an active session",
	RunE:  runSessionCancel,
}

func runSessionCancel(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one session ID")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := orch.CancelSession(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Printf("session %s cancelled\n", args[0])
	return nil
}

func init() {
	sessionListCmd.Flags().Bool("active", false, "exclude terminal sessions")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionCancelCmd)
	rootCmd.AddCommand(sessionCmd)
}
