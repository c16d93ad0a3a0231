package processor

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/pkoukk/tiktoken-go"

	"github.com/byessilyurt/polish-legal-assistant/internal/types"
)

const (
	TokenizerWords    = "words"
	TokenizerTiktoken = "tiktoken"

	DefaultEncoding = "cl100k_base"
)

// WordCounter approximates tokens as whitespace separated words. It needs no
// vocabulary files, which makes it the default for tests and offline runs.
type WordCounter struct{}

func (WordCounter) CountTokens(text string) int {
	count := 0
	inWord := false

	for _, r := range text {
		if unicode.IsSpace(r) {
			if inWord {
				count++
				inWord = false
			}
		} else {
			inWord = true
		}
	}
	if inWord {
		count++
	}

	return count
}

// TiktokenCounter counts BPE tokens with an OpenAI encoding, matching what the
// embedding model sees.
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{encoding: enc}, nil
}

func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// NewCounter builds the tokenizer named in configuration.
func NewCounter(name, encoding string) (types.TokenCounter, error) {
	switch strings.ToLower(name) {
	case "", TokenizerWords:
		return WordCounter{}, nil
	case TokenizerTiktoken:
		return NewTiktokenCounter(encoding)
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", name)
	}
}
