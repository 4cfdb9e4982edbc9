package corpus

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	defaultTargetRunes = 1200
	defaultMaxRunes    = 2000
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// ChunkOptions controls chunk sizing. Sizes are measured in runes.
type ChunkOptions struct {
	// TargetRunes is the length short paragraphs are merged up to.
	TargetRunes int
	// MaxRunes is the hard upper bound of a chunk.
	MaxRunes int
}

func (o ChunkOptions) withDefaults() ChunkOptions {
	if o.TargetRunes <= 0 {
		o.TargetRunes = defaultTargetRunes
	}
	if o.MaxRunes <= 0 {
		o.MaxRunes = defaultMaxRunes
	}
	if o.MaxRunes < o.TargetRunes {
		o.MaxRunes = o.TargetRunes
	}
	return o
}

// ChunkAll splits every document, preserving document order.
func ChunkAll(docs []Document, opts ChunkOptions) []Chunk {
	var chunks []Chunk
	for _, doc := range docs {
		chunks = append(chunks, ChunkDocument(doc, opts)...)
	}
	return chunks
}

// ChunkDocument splits a document on paragraph boundaries, merging short
// paragraphs until the target length is reached. Paragraphs above the maximum
// are split between sentences.
func ChunkDocument(doc Document, opts ChunkOptions) []Chunk {
	opts = opts.withDefaults()

	var pieces []string
	for _, paragraph := range paragraphBreak.Split(doc.Text, -1) {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		if runeLen(paragraph) > opts.MaxRunes {
			pieces = append(pieces, splitLong(paragraph, opts.MaxRunes)...)
			continue
		}
		pieces = append(pieces, paragraph)
	}

	var texts []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			texts = append(texts, current.String())
			current.Reset()
		}
	}

	for _, piece := range pieces {
		currentLen := runeLen(current.String())
		switch {
		case current.Len() == 0:
		case currentLen >= opts.TargetRunes, currentLen+2+runeLen(piece) > opts.MaxRunes:
			flush()
		default:
			current.WriteString("\n\n")
		}
		current.WriteString(piece)
	}
	flush()

	chunks := make([]Chunk, 0, len(texts))
	for seq, text := range texts {
		chunks = append(chunks, Chunk{
			ID:       ChunkID(doc.Key, seq),
			DocKey:   doc.Key,
			DocOrder: doc.Order,
			Seq:      seq,
			Text:     text,
			Metadata: doc.Metadata,
		})
	}
	return chunks
}

// splitLong packs whole sentences into pieces no longer than limit. Only a
// single sentence above the limit is cut, at the last whitespace before it.
func splitLong(paragraph string, limit int) []string {
	var pieces []string
	var current strings.Builder

	for _, sentence := range splitSentences(paragraph) {
		for runeLen(sentence) > limit {
			head, tail := hardSplit(sentence, limit)
			if current.Len() > 0 {
				pieces = append(pieces, current.String())
				current.Reset()
			}
			pieces = append(pieces, head)
			sentence = tail
		}
		if sentence == "" {
			continue
		}

		if current.Len() > 0 && runeLen(current.String())+1+runeLen(sentence) > limit {
			pieces = append(pieces, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}

	if current.Len() > 0 {
		pieces = append(pieces, current.String())
	}
	return pieces
}

func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0

	for i, r := range runes {
		if !isSentenceEnd(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if sentence := strings.TrimSpace(string(runes[start : i+1])); sentence != "" {
			sentences = append(sentences, sentence)
		}
		start = i + 1
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}

func hardSplit(text string, limit int) (string, string) {
	runes := []rune(text)
	cut := limit
	for i := limit; i > limit/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])), strings.TrimSpace(string(runes[cut:]))
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
