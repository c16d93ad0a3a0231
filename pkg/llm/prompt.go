package llm

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
)

// NoContextMessage stands in for the context when nothing was retrieved.
const NoContextMessage = "No relevant information found in the knowledge base."

const systemPromptTemplate = `You are a helpful legal assistant specializing in Polish law and daily life information for foreigners living in Poland.

CRITICAL RULES:
1. ONLY use information from the provided context below
2. ALWAYS cite sources using inline citations like [1], [2], etc.
3. If the context doesn't contain enough information to answer the question, explicitly state this
4. When relevant, highlight whether information is from before or after the July 2025 legal changes
5. For complex legal matters, recommend consulting official sources or legal professionals
6. Use clear, simple English suitable for non-native speakers
7. Be precise and accurate - legal information must be correct
8. If you're uncertain about any detail, say so explicitly

RESPONSE FORMAT:
- Use inline citations [1], [2] after each factual statement
- Break down complex information into clear steps or bullet points
- Use simple language and explain legal terms when necessary
- Be direct and concise

Context:
%s

User Query: %s

Provide a helpful, accurate answer based ONLY on the context above:`

// BuildSystemPrompt fills the assistant instructions with context and query.
func BuildSystemPrompt(context, query string) string {
	return fmt.Sprintf(systemPromptTemplate, context, query)
}

// FormatContext renders documents as numbered source blocks. Blocks are added
// until their combined length exceeds maxChars; the block that crosses the
// limit is still included so the top document is never dropped.
func FormatContext(docs []models.RetrievedDocument, maxChars int) string {
	if len(docs) == 0 {
		return NoContextMessage
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxContextLength
	}

	parts := make([]string, 0, len(docs))
	length := 0
	for i, doc := range docs {
		block := fmt.Sprintf("[Source %d: %s - %s]\n%s\n", i+1, doc.Title, doc.Organization, doc.Content)
		parts = append(parts, block)
		length += utf8.RuneCountInString(block)
		if length > maxChars {
			break
		}
	}
	return strings.Join(parts, "\n")
}
