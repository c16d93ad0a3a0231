package query

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// PolishAbbreviations are abbreviations common in Polish legal and official
// texts. No expansion contains a key as a whole word, so expanding is
// idempotent.
var PolishAbbreviations = map[string]string{
	"np.":   "na przykład",
	"tj.":   "to jest",
	"tzn.":  "to znaczy",
	"itp.":  "i tak podobnie",
	"itd.":  "i tak dalej",
	"m.in.": "między innymi",
	"zł":    "złotych",
	"PLN":   "złotych polskich",
	"tys.":  "tysięcy",
	"mln":   "milionów",
	"mld":   "miliardów",
	"dr":    "doktor",
	"prof.": "profesor",
	"mgr":   "magister",
	"inż.":  "inżynier",
	"ul.":   "ulica",
	"al.":   "aleja",
	"pl.":   "plac",
	"godz.": "godzina",
	"min.":  "minut",
	"sek.":  "sekund",
	"r.":    "roku",
	"nr":    "numer",
	"art.":  "artykuł",
	"ust.":  "ustęp",
	"pkt":   "punkt",
	"lit.":  "litera",
	"par.":  "paragraf",
	"str.":  "strona",
	"ww.":   "wyżej wymieniony",
	"wg":    "według",
	"dot.":  "dotyczący",
	"zob.":  "zobacz",
	"por.":  "porównaj",
	"tzw.":  "tak zwany",
	"ok.":   "około",
	"max":   "maksymalnie",
	"min":   "minimalnie",
	"śr.":   "średnio",
	"temp.": "temperatura",
	"proc.": "procent",
	"%":     "procent",
}

var (
	whitespaceRe    = regexp.MustCompile(`\s+`)
	repeatedMarkRe  = regexp.MustCompile(`[?!]{2,}`)
	danglingTrailRe = regexp.MustCompile(`(?:\s+[.,;:]+)+\s*$`)
)

type abbreviation struct {
	key       []rune
	expansion string
}

// Normalizer canonicalizes user queries before they are embedded.
type Normalizer struct {
	abbreviations []abbreviation
}

// New returns a Normalizer using PolishAbbreviations.
func New() *Normalizer {
	return NewWithAbbreviations(PolishAbbreviations)
}

func NewWithAbbreviations(dict map[string]string) *Normalizer {
	abbrs := make([]abbreviation, 0, len(dict))
	for k, v := range dict {
		if k == "" {
			continue
		}
		abbrs = append(abbrs, abbreviation{key: []rune(k), expansion: v})
	}
	// Longest keys first so "min." wins over "min"; ties sorted for a
	// deterministic order.
	sort.Slice(abbrs, func(i, j int) bool {
		if len(abbrs[i].key) != len(abbrs[j].key) {
			return len(abbrs[i].key) > len(abbrs[j].key)
		}
		return string(abbrs[i].key) < string(abbrs[j].key)
	})
	return &Normalizer{abbreviations: abbrs}
}

// Normalize collapses whitespace, expands abbreviations, cleans punctuation
// and collapses whitespace again. Normalize(Normalize(q)) == Normalize(q).
func (n *Normalizer) Normalize(q string) string {
	if q == "" {
		return q
	}
	q = normalizeWhitespace(q)
	q = n.expandAbbreviations(q)
	q = cleanPunctuation(q)
	return normalizeWhitespace(q)
}

// Variations returns the deduplicated set of the original and normalized
// query, original first. It is meant for multi-query retrieval.
func (n *Normalizer) Variations(q string) []string {
	variations := []string{q}
	if normalized := n.Normalize(q); normalized != q {
		variations = append(variations, normalized)
	}
	return variations
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func cleanPunctuation(s string) string {
	s = repeatedMarkRe.ReplaceAllString(s, "?")
	return danglingTrailRe.ReplaceAllString(s, "")
}

// expandAbbreviations makes one left-to-right pass over the text so that an
// expansion is never itself expanded. A key only matches as a whole word: a
// key starting (ending) with a letter or digit must not be preceded
// (followed) by one.
func (n *Normalizer) expandAbbreviations(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(runes); {
		if a, ok := n.matchAt(runes, i); ok {
			if isWordRune(lastRune(b.String())) {
				b.WriteByte(' ')
			}
			b.WriteString(a.expansion)
			i += len(a.key)
			if i < len(runes) && isWordRune(runes[i]) {
				b.WriteByte(' ')
			}
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

func (n *Normalizer) matchAt(runes []rune, i int) (abbreviation, bool) {
	for _, a := range n.abbreviations {
		end := i + len(a.key)
		if end > len(runes) {
			continue
		}
		if !strings.EqualFold(string(runes[i:end]), string(a.key)) {
			continue
		}
		if isWordRune(a.key[0]) && i > 0 && isWordRune(runes[i-1]) {
			continue
		}
		if isWordRune(a.key[len(a.key)-1]) && end < len(runes) && isWordRune(runes[end]) {
			continue
		}
		return a, true
	}
	return abbreviation{}, false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func lastRune(s string) rune {
	if s == "" {
		return utf8.RuneError
	}
	r, _ := utf8.DecodeLastRuneInString(s)
	return r
}
