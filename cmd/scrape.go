package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/byessilyurt/polish-legal-assistant/pkg/ingest"
	"github.com/byessilyurt/polish-legal-assistant/pkg/scraper"
)

var (
	scrapeDepth        int
	scrapeCategory     string
	scrapeOrganization string
	scrapeOutput       string
	scrapeNoIndex      bool
	scrapeReplace      bool
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Scrape an official website into the knowledge base",
	Long: `Crawls pages on the same host as <url>, extracts their main content
and indexes the resulting documents. With --output the documents are also
written as a knowledge file that the ingest command accepts.`,
	Args: cobra.ExactArgs(1),
	RunE: runScrape,
}

func init() {
	scrapeCmd.Flags().IntVar(&scrapeDepth, "depth", 0, "maximum link depth (default from config)")
	scrapeCmd.Flags().StringVar(&scrapeCategory, "category", "", "category stamped on scraped documents")
	scrapeCmd.Flags().StringVar(&scrapeOrganization, "organization", "", "organization stamped on scraped documents (default: site host)")
	scrapeCmd.Flags().StringVarP(&scrapeOutput, "output", "o", "", "write scraped documents to this knowledge file")
	scrapeCmd.Flags().BoolVar(&scrapeNoIndex, "no-index", false, "skip indexing, only write --output")
	scrapeCmd.Flags().BoolVar(&scrapeReplace, "replace", true, "remove stored chunks of each page that the new version does not replace")
}

func runScrape(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	startURL := args[0]

	if scrapeNoIndex && scrapeOutput == "" {
		return fmt.Errorf("--no-index requires --output")
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.config.Scraper
	if scrapeDepth > 0 {
		cfg.MaxDepth = scrapeDepth
	}
	if scrapeCategory != "" {
		cfg.Category = scrapeCategory
	}
	if scrapeOrganization != "" {
		cfg.Organization = scrapeOrganization
	}

	color.Blue("Starting scrape of %s", startURL)
	spinner := getSpinner("Scraping pages...")
	pages := 0

	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:           startURL,
		MaxDepth:          cfg.MaxDepth,
		RateLimit:         cfg.RateLimit,
		IgnorePatterns:    cfg.IgnorePatterns,
		AllowedExtensions: cfg.AllowedExtensions,
		Organization:      cfg.Organization,
		Category:          cfg.Category,
		Logger:            a.logger.Named("scraper"),
		OnProgress: func(string) {
			pages++
			spinner.Describe(color.CyanString("Scraping pages... (%d)", pages))
			_ = spinner.Add(1)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	docs, err := s.Scrape(ctx, startURL)
	_ = spinner.Finish()
	fmt.Println()
	if err != nil {
		return fmt.Errorf("failed to scrape %s: %w", startURL, err)
	}
	color.Green("✓ Scraped %d documents", len(docs))

	if scrapeOutput != "" {
		data, err := json.MarshalIndent(ingest.KnowledgeFile{Documents: docs}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode documents: %w", err)
		}
		if err := os.WriteFile(scrapeOutput, data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", scrapeOutput, err)
		}
		color.Green("✓ Wrote %s", scrapeOutput)
	}

	if scrapeNoIndex || len(docs) == 0 {
		return nil
	}
	return ingestDocuments(cmd, a, docs, scrapeReplace)
}
