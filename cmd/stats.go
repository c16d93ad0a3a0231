package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/byessilyurt/polish-legal-assistant/pkg/metrics"
)

var (
	statsFile string
	statsJSON bool
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded query metrics",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVarP(&statsFile, "file", "f", "", "metrics file (default from config)")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the summary as JSON")
}

func runStats(cmd *cobra.Command, _ []string) error {
	path := statsFile
	if path == "" {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path = cfg.Metrics.File
	}
	if path == "" {
		return fmt.Errorf("no metrics file configured, pass --file or set METRICS_FILE")
	}

	records, err := metrics.ReadFile(path)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(nil)
	collector.Restore(records)
	summary := collector.Summary()

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	printSummary(summary)
	return nil
}

func printSummary(s metrics.Summary) {
	td := s.TierDistribution

	color.Cyan("Query metrics")
	fmt.Printf("  Total queries:   %d\n", s.TotalQueries)
	fmt.Printf("  Response rate:   %.1f%%\n", s.ResponseRate*100)
	fmt.Printf("  Failed queries:  %d\n", s.FailedQueriesCount)

	color.Cyan("\nRetrieval tiers")
	color.Green("  tier1       %5d  %5.1f%%  avg score %.4f", td.Tier1Success, td.Tier1Rate*100, s.SimilarityScores.Tier1Avg)
	color.Yellow("  tier2       %5d  %5.1f%%  avg score %.4f", td.Tier2Success, td.Tier2Rate*100, s.SimilarityScores.Tier2Avg)
	color.Red("  no context  %5d  %5.1f%%", td.NoContext, td.NoContextRate*100)

	if len(s.CategoryDistribution) > 0 {
		color.Cyan("\nCategories")
		names := make([]string, 0, len(s.CategoryDistribution))
		for name := range s.CategoryDistribution {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-20s %d\n", name, s.CategoryDistribution[name])
		}
	}

	if len(s.RecentFailures) > 0 {
		color.Cyan("\nRecent failures")
		for _, f := range s.RecentFailures {
			line := fmt.Sprintf("  %s  %s", f.Timestamp.Format("2006-01-02 15:04:05"), f.Query)
			if f.Error != "" {
				line += "  (" + f.Error + ")"
			}
			fmt.Println(line)
		}
	}
}
