package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/byessilyurt/polish-legal-assistant/pkg/rag"
	"github.com/byessilyurt/polish-legal-assistant/pkg/retriever"
)

var (
	chatCategory  string
	chatKnowledge []string
	chatStream    bool
	chatDebug     bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Ask questions in an interactive session",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatCategory, "category", "", "restrict retrieval to one category")
	chatCmd.Flags().StringSliceVar(&chatKnowledge, "knowledge", nil, "knowledge files to index before chatting")
	chatCmd.Flags().BoolVar(&chatStream, "stream", false, "stream answers as they are generated (default from config)")
	chatCmd.Flags().BoolVar(&chatDebug, "debug", false, "print retrieval details after each answer")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.preload(ctx, chatKnowledge); err != nil {
		return err
	}

	collector, err := a.newCollector(ctx)
	if err != nil {
		return err
	}
	service, err := a.newService(collector)
	if err != nil {
		return err
	}

	streaming := a.config.LLM.Streaming
	if cmd.Flags().Changed("stream") {
		streaming = chatStream
	}
	category := retriever.CategoryOf(chatCategory)

	color.Cyan("\nAsk about Polish law and daily life (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.EqualFold(query, "exit") {
			break
		}

		req := rag.Request{Query: query, Category: category, IncludeDebug: chatDebug}

		var resp rag.Response
		if streaming {
			fmt.Println()
			assistantPrompt("Assistant: ")
			resp = service.AskStream(ctx, req, func(chunk string) error {
				fmt.Print(chunk)
				return nil
			})
			fmt.Println()
		} else {
			spinner := getSpinner("Searching the knowledge base...")
			resp = service.Ask(ctx, req)
			_ = spinner.Finish()
			fmt.Print("\r")
			assistantPrompt("\nAssistant: %s\n", resp.Answer)
		}

		printSources(resp)
		if ctx.Err() != nil {
			break
		}
	}

	return scanner.Err()
}

func printSources(resp rag.Response) {
	if resp.Error != "" {
		color.Red("Error: %s", resp.Error)
	}
	if len(resp.Sources) > 0 {
		color.Yellow("\nSources:")
		for i, src := range resp.Sources {
			line := fmt.Sprintf("  [%d] %s (%s, relevance %.2f)", i+1, src.Title, src.Organization, src.RelevanceScore)
			if src.URL != "" {
				line += " " + src.URL
			}
			fmt.Println(line)
		}
	}
	color.White("Confidence: %.0f%%", resp.Confidence*100)

	if d := resp.Debug; d != nil {
		dim := color.New(color.FgHiBlack).PrintfFunc()
		dim("tier=%s retrieved=%d category=%s finish=%s\n",
			d.Tier, d.RetrievedCount, d.DetectedCategory, d.FinishReason)
		for _, s := range d.RetrievalScores {
			dim("  %s %.4f\n", s.ID, s.Score)
		}
	}
}
