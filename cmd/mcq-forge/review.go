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

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review extracted facts and generated questions",
	Long: `Review is the human checkpoint in the pipeline. Candidates lists a
session's extracted triplets with any validator flags; accept promotes a
triplet into the knowledge base (deduplicated against prior knowledge);
generate runs the critique loop for an accepted triplet. Approve, deny, and
revise act on the session's gated question record.`,
}

var reviewCandidatesCmd = &cobra.Command{
	Use:   "candidates [session-id]",
	Short: "List a session's candidate triplets",
	RunE:  runReviewCandidates,
}

func runReviewCandidates(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one session ID")
	}

	cfg := pipelineConfig(cmd)
	store, sessions, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := sessions.Get(ctx, args[0])
	if err != nil {
		return err
	}

	triplets, err := store.ListBySource(ctx, sess.SourceID)
	if err != nil {
		return err
	}
	if len(triplets) == 0 {
		fmt.Println("No candidates.")
		return nil
	}

	for _, t := range triplets {
		fmt.Fprintf(os.Stdout, "%s  [%s]  %s %s %s (%s)\n",
			t.ID, t.Status, t.Subject, t.Action, t.Object, t.Relation)
		for _, s := range t.ContextSentences {
			fmt.Fprintf(os.Stdout, "    evidence: %s\n", s)
		}
		for _, r := range t.ReviewReasons {
			fmt.Fprintf(os.Stdout, "    flagged: %s\n", r)
		}
	}
	return nil
}

var reviewAcceptCmd = &cobra.Command{
	Use:   "accept [session-id] [triplet-ids...]",
	Short: "Promote candidate triplets into the knowledge base",
	RunE:  runReviewAccept,
}

func runReviewAccept(cmd *cobra.Command, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("provide a session ID and at least one triplet ID")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	for _, tripletID := range args[1:] {
		if _, err := orch.AcceptTriplet(ctx, args[0], tripletID); err != nil {
			return err
		}
	}
	return nil
}

var reviewRejectCmd = &cobra.Command{
	Use:   "reject [session-id] [triplet-id]",
	Short: "Decline a candidate triplet",
	RunE:  runReviewReject,
}

func runReviewReject(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("provide a session ID and a triplet ID")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	return orch.RejectTriplet(context.Background(), args[0], args[1])
}

var reviewGenerateCmd = &cobra.Command{
	Use:   "generate [session-id] [triplet-id]",
	Short: "Generate a question from an accepted triplet",
	RunE:  runReviewGenerate,
}

func runReviewGenerate(cmd *cobra.Command, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("provide a session ID and an accepted triplet ID")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := orch.GenerateMCQ(context.Background(), args[0], args[1])
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

var reviewApproveCmd = &cobra.Command{
	Use:   "approve [session-id]",
	Short: "Approve the session's question record",
	RunE:  runReviewApprove,
}

func runReviewApprove(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one session ID")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	return orch.ApproveMCQ(context.Background(), args[0])
}

var reviewDenyCmd = &cobra.Command{
	Use:   "deny [session-id]",
	Short: "Reject the session's question record",
	RunE:  runReviewDeny,
}

func runReviewDeny(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one session ID")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	return orch.RejectMCQ(context.Background(), args[0])
}

var reviewReviseCmd = &cobra.Command{
	Use:   "revise [session-id]",
	Short: "Send the session's record back through the loop with feedback",
	RunE:  runReviewRevise,
}

func runReviewRevise(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("provide exactly one session ID")
	}
	feedback, _ := cmd.Flags().GetString("feedback")
	if strings.TrimSpace(feedback) == "" {
		return fmt.Errorf("provide revision guidance with --feedback")
	}

	cfg := pipelineConfig(cmd)
	orch, store, err := buildOrchestrator(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := orch.RequestRevision(context.Background(), args[0], feedback)
	if err != nil {
		return err
	}
	printRecord(rec)
	return nil
}

// printRecord renders one question record for terminal review.
func printRecord(rec *types.MCQRecord) {
	fmt.Fprintf(os.Stdout, "\nrecord %s (v%d)\n", rec.ID, rec.Version)
	fmt.Fprintf(os.Stdout, "%s\n%s\n", rec.Stem, rec.Question)
	for i, opt := range rec.Options {
		marker := " "
		if i == rec.CorrectIndex {
			marker = "*"
		}
		fmt.Fprintf(os.Stdout, "  %s %c. %s\n", marker, 'A'+i, opt)
	}
	fmt.Fprintf(os.Stdout, "provenance: triplet %s, source %s\n", rec.TripletID, rec.SourceID)
}

func init() {
	reviewReviseCmd.Flags().String("feedback", "", "what the revision must fix")

	reviewCmd.AddCommand(reviewCandidatesCmd)
	reviewCmd.AddCommand(reviewAcceptCmd)
	reviewCmd.AddCommand(reviewRejectCmd)
	reviewCmd.AddCommand(reviewGenerateCmd)
	reviewCmd.AddCommand(reviewApproveCmd)
	reviewCmd.AddCommand(reviewDenyCmd)
	reviewCmd.AddCommand(reviewReviseCmd)
	rootCmd.AddCommand(reviewCmd)
}
