package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/pkg/ingest"
	"github.com/byessilyurt/polish-legal-assistant/pkg/processor"
)

var (
	ingestStrategy string
	ingestReplace  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <files...>",
	Short: "Chunk, embed and index knowledge files",
	Long: `Loads JSON knowledge files of the form {"documents": [...]}, where each
document has an id, content and metadata, and stores their chunks in the
vector index.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestStrategy, "strategy", "", "chunking strategy: semantic, structural or hybrid (default from config)")
	ingestCmd.Flags().BoolVar(&ingestReplace, "replace", false, "remove stored chunks of each document that the new version does not replace")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	var docs []models.Document
	for _, path := range args {
		loaded, err := ingest.LoadKnowledgeFile(path)
		if err != nil {
			return err
		}
		color.Blue("Loaded %d documents from %s", len(loaded), path)
		docs = append(docs, loaded...)
	}

	return ingestDocuments(cmd, a, docs, ingestReplace)
}

// ingestDocuments runs the pipeline over docs with a progress bar and prints
// the report.
func ingestDocuments(cmd *cobra.Command, a *app, docs []models.Document, replace bool) error {
	ctx := cmd.Context()

	pipeline, proc, err := a.newPipeline(replace)
	if err != nil {
		return err
	}

	strategy := proc.Config().Strategy
	if ingestStrategy != "" {
		s, ok := processor.ParseStrategy(ingestStrategy)
		if !ok {
			return fmt.Errorf("unknown chunking strategy %q", ingestStrategy)
		}
		strategy = s
	}

	bar := getProgressBar(len(docs), "Indexing documents...")
	report, err := pipeline.Run(ctx, docs, strategy, func(done, _ int) {
		_ = bar.Set(done)
	})
	_ = bar.Finish()
	if err != nil {
		return err
	}

	fmt.Println()
	color.Green("✓ Indexed %d documents into %d chunks", report.Documents, report.Chunks)
	if report.Skipped > 0 {
		color.Yellow("Skipped %d documents", report.Skipped)
	}
	for _, e := range report.Errors {
		color.Red("  %s", e.Error())
	}
	if n, ok := a.indexSize(ctx); ok {
		color.Cyan("Index now holds %d chunks", n)
	}
	return nil
}
