package format

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Strategy selects how line breaks are derived from recognized text.
type Strategy int

const (
	// PunctuationBreaks inserts a break after every sentence-terminal mark.
	PunctuationBreaks Strategy = iota
	// SentenceWrap packs whole sentences into lines up to a fixed width.
	SentenceWrap
)

const (
	DefaultWidth = 80

	// Recognizers often emit long run-on text with little or no punctuation.
	// Below this many terminal marks the chunking fallback kicks in so the
	// result is not one unreadable block.
	sparsePunctuationThreshold = 2

	chunkWidth   = 55
	minClauseLen = 15
	commaTailMin = 20
)

type Options struct {
	Strategy Strategy
	Width    int // line width for SentenceWrap, DefaultWidth when zero
}

var terminalMarks = map[rune]bool{
	'。': true, '！': true, '？': true,
	'.': true, '!': true, '?': true,
}

// Closing quotes and parens stay attached to the sentence they close; a break
// between the terminal mark and the closer reads wrong.
var closingMarks = map[rune]bool{
	'」': true, '』': true, '）': true, ')': true,
}

// Discourse particles that commonly end a spoken clause. Longest first so the
// suffix match is unambiguous.
var trailingParticles = []string{"もんね", "けども", "だって", "って", "から", "けど", "もん"}

// Format renders raw recognition output readable with the default
// punctuation-break strategy. It is deterministic and never fails; empty
// input stays empty.
func Format(text string) string {
	return FormatWith(text, Options{})
}

func FormatWith(text string, opts Options) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}

	var formatted string
	switch opts.Strategy {
	case SentenceWrap:
		width := opts.Width
		if width <= 0 {
			width = DefaultWidth
		}
		formatted = wrapSentences(text, width)
	default:
		formatted = breakAfterPunctuation(text)
	}

	if countTerminalMarks(text) < sparsePunctuationThreshold {
		formatted = chunkSparseText(formatted, countTerminalMarks(text) == 0)
	}

	return strings.TrimSpace(collapseBreaks(formatted, 2))
}

// breakAfterPunctuation inserts a line break after each terminal mark unless
// the next rune closes a quotation or parenthetical, then collapses runs of
// breaks down to one.
func breakAfterPunctuation(text string) string {
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text) + len(text)/16)

	for i, r := range runes {
		b.WriteRune(r)
		if !terminalMarks[r] || i == len(runes)-1 {
			continue
		}

		next := runes[i+1]
		if closingMarks[next] {
			continue
		}
		// An ASCII period inside a number is not a sentence end.
		if r == '.' && unicode.IsDigit(next) {
			continue
		}

		b.WriteByte('\n')
	}

	return trimLines(collapseBreaks(b.String(), 1))
}

// wrapSentences splits on terminal punctuation, keeping the mark (and any
// closing quote) attached, then packs sentences into lines capped at width.
func wrapSentences(text string, width int) string {
	sentences := splitSentences(text)

	var lines []string
	var line strings.Builder
	for _, sentence := range sentences {
		joiner := ""
		if line.Len() > 0 && asciiJoin(line.String(), sentence) {
			joiner = " "
		}

		length := len([]rune(joiner)) + len([]rune(sentence))
		current := len([]rune(line.String()))

		if current > 0 && current+length > width {
			lines = append(lines, line.String())
			line.Reset()
			joiner = ""
		}
		line.WriteString(joiner)
		line.WriteString(sentence)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}

	return strings.Join(lines, "\n")
}

// asciiJoin reports whether two adjoining sentences need a separating space:
// only when both sides of the boundary are ASCII. CJK sentences join without
// one.
func asciiJoin(before, after string) bool {
	prev, _ := utf8.DecodeLastRuneInString(before)
	next, _ := utf8.DecodeRuneInString(after)
	return prev <= unicode.MaxASCII && next <= unicode.MaxASCII
}

func splitSentences(text string) []string {
	runes := []rune(strings.ReplaceAll(text, "\n", ""))

	var sentences []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !terminalMarks[runes[i]] {
			continue
		}
		if runes[i] == '.' && i+1 < len(runes) && unicode.IsDigit(runes[i+1]) {
			continue
		}

		end := i + 1
		for end < len(runes) && closingMarks[runes[end]] {
			end++
		}

		sentence := strings.TrimSpace(string(runes[start:end]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = end
		i = end - 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}

	return sentences
}

// chunkSparseText re-segments nearly punctuation-free text into fixed-width
// chunks. Commas break a chunk early when enough text follows them, and with
// no punctuation at all, trailing discourse particles do too.
func chunkSparseText(text string, breakOnParticles bool) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		lines = append(lines, chunkLine(line, breakOnParticles)...)
	}
	return strings.Join(lines, "\n")
}

func chunkLine(line string, breakOnParticles bool) []string {
	runes := []rune(line)
	if len(runes) <= chunkWidth && !breakOnParticles {
		return []string{line}
	}

	var chunks []string
	start := 0
	for i := 0; i < len(runes); i++ {
		length := i - start + 1
		remaining := len(runes) - i - 1

		breakHere := false
		switch {
		case length >= chunkWidth:
			breakHere = true
		case (runes[i] == '、' || runes[i] == ',') && length >= minClauseLen && remaining >= commaTailMin:
			breakHere = true
		case breakOnParticles && length >= minClauseLen && endsWithParticle(runes[start:i+1]):
			breakHere = true
		}

		if breakHere {
			chunks = append(chunks, string(runes[start:i+1]))
			start = i + 1
		}
	}

	if start < len(runes) {
		chunks = append(chunks, string(runes[start:]))
	}
	return chunks
}

func endsWithParticle(chunk []rune) bool {
	s := string(chunk)
	for _, particle := range trailingParticles {
		if strings.HasSuffix(s, particle) {
			return true
		}
	}
	return false
}

func countTerminalMarks(text string) int {
	count := 0
	for _, r := range text {
		if terminalMarks[r] {
			count++
		}
	}
	return count
}

// collapseBreaks reduces runs of consecutive line breaks to at most max.
func collapseBreaks(text string, max int) string {
	limit := strings.Repeat("\n", max)
	for {
		collapsed := strings.ReplaceAll(text, limit+"\n", limit)
		if collapsed == text {
			return collapsed
		}
		text = collapsed
	}
}

func trimLines(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
