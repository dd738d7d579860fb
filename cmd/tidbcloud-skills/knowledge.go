package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/freedeaths/tidbcloud-skills/internal/knowledge"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Export and share accumulated knowledge",
	}
	cmd.AddCommand(newKnowledgeExportCmd())
	cmd.AddCommand(newKnowledgePublishCmd())
	return cmd
}

func newKnowledgeExportCmd() *cobra.Command {
	var (
		out            string
		minOccurrences int64
		minSuccesses   int64
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a sanitized knowledge snapshot",
		Long: `export builds a shareable snapshot of the SUT's patterns, pitfalls
and operation statistics. Credentials are redacted and URLs, long ids
and long numbers are replaced with neutral markers. When the output
file already exists the snapshot is merged into it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			export, err := knowledge.BuildExport(cmd.Context(), app.knowledge, app.sut, knowledge.ExportOptions{
				MinOccurrences:      minOccurrences,
				MinPatternSuccesses: minSuccesses,
			})
			if err != nil {
				return err
			}
			if out == "" {
				out = fmt.Sprintf("knowledge-%s.yaml", app.sut)
			}
			if err := knowledge.WriteExport(out, export); err != nil {
				return err
			}
			fmt.Printf("wrote %s (%d patterns, %d pitfalls, %d operations)\n",
				out, len(export.Patterns), len(export.Pitfalls), len(export.Stats))
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Output file (defaults to knowledge-<sut>.yaml)")
	cmd.Flags().Int64Var(&minOccurrences, "min-occurrences", 2, "Drop pitfalls seen fewer times than this")
	cmd.Flags().Int64Var(&minSuccesses, "min-successes", 1, "Drop patterns with fewer successes than this")
	return cmd
}

func newKnowledgePublishCmd() *cobra.Command {
	var (
		bucket         string
		prefix         string
		minOccurrences int64
		minSuccesses   int64
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload a sanitized snapshot to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if bucket == "" {
				return fmt.Errorf("--bucket is required")
			}
			app, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			export, err := knowledge.BuildExport(cmd.Context(), app.knowledge, app.sut, knowledge.ExportOptions{
				MinOccurrences:      minOccurrences,
				MinPatternSuccesses: minSuccesses,
			})
			if err != nil {
				return err
			}

			publisher, err := knowledge.NewPublisher(cmd.Context(), bucket, prefix)
			if err != nil {
				return err
			}
			key, err := publisher.Publish(cmd.Context(), export)
			if err != nil {
				return err
			}
			fmt.Printf("published s3://%s/%s\n", bucket, key)
			return nil
		},
	}
	cmd.Flags().StringVar(&bucket, "bucket", "", "S3 bucket to publish to")
	cmd.Flags().StringVar(&prefix, "prefix", "knowledge", "Key prefix inside the bucket")
	cmd.Flags().Int64Var(&minOccurrences, "min-occurrences", 2, "Drop pitfalls seen fewer times than this")
	cmd.Flags().Int64Var(&minSuccesses, "min-successes", 1, "Drop patterns with fewer successes than this")
	return cmd
}
