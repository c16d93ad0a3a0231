package processor

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/byessilyurt/polish-legal-assistant/internal/models"
	"github.com/byessilyurt/polish-legal-assistant/internal/types"
)

// Strategy selects how document text is split into chunks.
type Strategy string

const (
	StrategySemantic   Strategy = "semantic"
	StrategyStructural Strategy = "structural"
	StrategyHybrid     Strategy = "hybrid"
)

const (
	DefaultChunkSize    = 600
	DefaultChunkOverlap = 100
	// NoOverlap disables overlap; a zero ChunkOverlap means the default.
	NoOverlap = -1
)

// ParseStrategy maps a configuration value to a Strategy. Unknown values
// report ok=false.
func ParseStrategy(s string) (Strategy, bool) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategySemantic:
		return StrategySemantic, true
	case StrategyStructural:
		return StrategyStructural, true
	case StrategyHybrid, "":
		return StrategyHybrid, true
	default:
		return StrategyHybrid, false
	}
}

type ProcessorConfig struct {
	ChunkSize int
	// ChunkOverlap is the token budget carried into the next chunk in
	// semantic mode. Zero selects the default, a negative value disables it.
	ChunkOverlap int
	Strategy     Strategy
	Counter      types.TokenCounter
}

type Processor struct {
	config ProcessorConfig
}

// Structural markers: a header, numbered item, "Label:" or bullet that opens
// a paragraph (start of text or after a blank line).
var (
	markerPattern  = `(?:#{1,6}[ \t]+|\d+\.[ \t]+|\p{Lu}\p{Ll}+:[ \t]+|[-*•][ \t]+)`
	structureRe    = regexp.MustCompile(`(?:^|\r?\n[ \t]*\r?\n)[ \t]*` + markerPattern)
	sectionBreakRe = regexp.MustCompile(`\r?\n[ \t]*\r?\n[ \t]*` + markerPattern)
)

func NewWithConfig(config ProcessorConfig) *Processor {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = DefaultChunkOverlap
	} else if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.Strategy == "" {
		config.Strategy = StrategyHybrid
	}
	if config.Counter == nil {
		config.Counter = WordCounter{}
	}

	return &Processor{
		config: config,
	}
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}

// CountTokens counts tokens with the processor's configured tokenizer.
func (p *Processor) CountTokens(text string) int {
	return p.config.Counter.CountTokens(text)
}

// Process chunks every document with the configured strategy.
func (p *Processor) Process(docs []models.Document) []models.Chunk {
	return p.ChunkAll(docs, p.config.Strategy)
}

// ChunkAll concatenates the chunks of each document in input order.
func (p *Processor) ChunkAll(docs []models.Document, strategy Strategy) []models.Chunk {
	var chunks []models.Chunk
	for _, doc := range docs {
		chunks = append(chunks, p.ChunkDocument(doc, strategy)...)
	}
	return chunks
}

// ChunkDocument splits a document into ordered chunks. The output depends only
// on the document and the processor configuration.
func (p *Processor) ChunkDocument(doc models.Document, strategy Strategy) []models.Chunk {
	var texts []string
	switch strategy {
	case StrategySemantic:
		texts = p.semanticChunks(doc.Content)
	case StrategyStructural:
		texts = p.structuralChunks(doc.Content)
	default:
		texts = p.hybridChunks(doc.Content)
	}

	chunks := make([]models.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, models.Chunk{
			ID:      models.ChunkID(doc.ID, i),
			Content: text,
			Metadata: models.ChunkMetadata{
				DocumentMetadata: doc.Metadata,
				ChunkIndex:       i,
				TotalChunks:      len(texts),
				ParentDocumentID: doc.ID,
				TokenCount:       p.CountTokens(text),
			},
		})
	}
	return chunks
}

// HasStructure reports whether text contains any structural marker.
func HasStructure(text string) bool {
	return structureRe.MatchString(text)
}

func (p *Processor) hybridChunks(text string) []string {
	if HasStructure(text) {
		return p.structuralChunks(text)
	}
	return p.semanticChunks(text)
}

func (p *Processor) semanticChunks(text string) []string {
	var chunks []string
	var current []string

	for _, sentence := range splitIntoSentences(text) {
		// An oversized sentence becomes a chunk of its own and carries no
		// overlap forward.
		if p.CountTokens(sentence) > p.config.ChunkSize {
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
			}
			chunks = append(chunks, sentence)
			current = nil
			continue
		}

		if len(current) > 0 && p.joinedTokens(append(current, sentence), " ") > p.config.ChunkSize {
			chunks = append(chunks, strings.Join(current, " "))
			current = p.overlapTail(current, sentence)
		}

		current = append(current, sentence)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// joinedTokens counts parts as they are emitted, separators included.
func (p *Processor) joinedTokens(parts []string, sep string) int {
	return p.CountTokens(strings.Join(parts, sep))
}

// overlapTail returns the trailing sentences of a closed chunk that fit in
// the overlap budget and still leave the next chunk within ChunkSize once
// the pending sentence is added.
func (p *Processor) overlapTail(sentences []string, pending string) []string {
	start := len(sentences)
	for i := len(sentences) - 1; i >= 0; i-- {
		tail := sentences[i:]
		if p.joinedTokens(tail, " ") > p.config.ChunkOverlap {
			break
		}
		withPending := append(append([]string(nil), tail...), pending)
		if p.joinedTokens(withPending, " ") > p.config.ChunkSize {
			break
		}
		start = i
	}
	return append([]string(nil), sentences[start:]...)
}

func (p *Processor) structuralChunks(text string) []string {
	var chunks []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n\n"))
		}
		current = nil
	}

	for _, section := range splitIntoSections(text) {
		switch {
		case p.CountTokens(section) > p.config.ChunkSize:
			flush()
			chunks = append(chunks, p.semanticChunks(section)...)
		case len(current) > 0 && p.joinedTokens(append(current, section), "\n\n") > p.config.ChunkSize:
			flush()
			current = []string{section}
		default:
			current = append(current, section)
		}
	}

	flush()
	return chunks
}

// splitIntoSections cuts text in front of every structural marker. Markers
// stay with the section they open.
func splitIntoSections(text string) []string {
	var sections []string
	start := 0
	for _, loc := range sectionBreakRe.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[0]]); s != "" {
			sections = append(sections, s)
		}
		start = loc[0]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sections = append(sections, s)
	}
	return sections
}

// splitIntoSentences breaks text after '.', '!' or '?' when followed by
// whitespace. Empty sentences are dropped.
func splitIntoSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
		default:
			continue
		}
		if i+1 >= len(runes) || !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			sentences = append(sentences, s)
		}
		start = i + 1
	}

	if start < len(runes) {
		if s := strings.TrimSpace(string(runes[start:])); s != "" {
			sentences = append(sentences, s)
		}
	}
	return sentences
}
