package corpus

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestExtractMetadata(t *testing.T) {
	t.Parallel()

	tests := []struct {
		identifier string
		expect     Metadata
	}{
		{
			identifier: "russian_general_guidelines",
			expect: Metadata{
				Language: LanguageRU, Market: MarketRU, Industry: IndustryGeneral,
				Role: RoleGeneral, Category: CategoryGuidelines,
			},
		},
		{
			identifier: "english_us_guidelines",
			expect: Metadata{
				Language: LanguageEN, Market: MarketUS, Industry: IndustryGeneral,
				Role: RoleGeneral, Category: CategoryGuidelines,
			},
		},
		{
			identifier: "tech_backend_best_practices",
			expect: Metadata{
				Language: LanguageGeneral, Market: MarketGeneral, Industry: IndustryTech,
				Role: RoleBackend, Category: CategoryGuidelines,
			},
		},
		{
			identifier: "uk-fullstack-ats",
			expect: Metadata{
				Language: LanguageEN, Market: MarketUK, Industry: IndustryTech,
				Role: RoleFullstack, Category: CategoryATS,
			},
		},
		{
			identifier: "ru/gpt_engineer_examples",
			expect: Metadata{
				Language: LanguageRU, Market: MarketRU, Industry: IndustryTech,
				Role: RoleGPTEngineer, Category: CategoryExamples,
			},
		},
		{
			identifier: "finance_formatting",
			expect: Metadata{
				Language: LanguageGeneral, Market: MarketGeneral, Industry: IndustryFinance,
				Role: RoleGeneral, Category: CategoryFormatting,
			},
		},
		{
			identifier: "notes",
			expect:     GeneralMetadata(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expect, ExtractMetadata(tt.identifier))
		})
	}
}

func TestExtractMetadataDoesNotMatchSubstrings(t *testing.T) {
	// "russian" contains "us" but must not be treated as the US market.
	md := ExtractMetadata("russian_backend")
	assert.Equal(t, MarketRU, md.Market)
	assert.Equal(t, LanguageRU, md.Language)
}

func TestParseEnums(t *testing.T) {
	lang, err := ParseLanguage(" RU ")
	require.NoError(t, err)
	assert.Equal(t, LanguageRU, lang)

	role, err := ParseRole("GPT_Engineer")
	require.NoError(t, err)
	assert.Equal(t, RoleGPTEngineer, role)

	_, err = ParseRole("frontend")
	require.Error(t, err)

	_, err = ParseCategory("guideline")
	require.Error(t, err)

	var market Market
	require.NoError(t, market.UnmarshalText([]byte("UK")))
	assert.Equal(t, MarketUK, market)
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "russian_backend_guidelines.md", "# Backend\n\nUse formal tone.")
	writeFile(t, root, "english_us_ats.md", "Keep it to one page.")
	writeFile(t, root, "nested/general_formatting.txt", "Use bullet points.")
	writeFile(t, root, "ignored.pdf", "binary")
	writeFile(t, root, ".hidden/secret.md", "do not load")

	docs, err := Load(context.Background(), root, LoadOptions{})
	require.NoError(t, err)
	require.Len(t, docs, 3)

	keys := []string{docs[0].Key, docs[1].Key, docs[2].Key}
	assert.Equal(t, []string{"english_us_ats", "nested/general_formatting", "russian_backend_guidelines"}, keys)

	for i, doc := range docs {
		assert.Equal(t, i, doc.Order)
	}
	assert.Equal(t, RoleBackend, docs[2].Metadata.Role)
	assert.Equal(t, CategoryFormatting, docs[1].Metadata.Category)
}

func TestLoadEmptyRoot(t *testing.T) {
	docs, err := Load(context.Background(), t.TempDir(), LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
	}{
		{
			name: "missing root",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "absent")
			},
		},
		{
			name: "root is a file",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "file.md", "text")
				return filepath.Join(dir, "file.md")
			},
		},
		{
			name: "empty document",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "good.md", "text")
				writeFile(t, dir, "empty.md", "  \n\n ")
				return dir
			},
		},
		{
			name: "invalid utf8",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "good.md", "text")
				writeFile(t, dir, "broken.md", string([]byte{0xff, 0xfe, 0xfd}))
				return dir
			},
		},
		{
			name: "duplicate key",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "ats.md", "one")
				writeFile(t, dir, "ats.txt", "two")
				return dir
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := Load(context.Background(), tt.setup(t), LoadOptions{})
			require.Error(t, err)
			assert.Nil(t, docs)
			assert.True(t, errors.Is(err, ErrCorpus), "expected corpus error, got %v", err)

			var corpusErr *Error
			assert.True(t, errors.As(err, &corpusErr))
		})
	}
}

func TestChunkDocumentMergesShortParagraphs(t *testing.T) {
	doc := Document{
		Key:      "russian_backend_guidelines",
		Order:    4,
		Metadata: ExtractMetadata("russian_backend_guidelines"),
		Text:     "First paragraph.\n\nSecond paragraph.\n\nThird paragraph.",
	}

	chunks := ChunkDocument(doc, ChunkOptions{TargetRunes: 30, MaxRunes: 60})
	require.Len(t, chunks, 2)

	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", chunks[0].Text)
	assert.Equal(t, "Third paragraph.", chunks[1].Text)
	assert.Equal(t, "russian_backend_guidelines#0000", chunks[0].ID)
	assert.Equal(t, "russian_backend_guidelines#0001", chunks[1].ID)

	for _, chunk := range chunks {
		assert.Equal(t, doc.Metadata, chunk.Metadata)
		assert.Equal(t, doc.Key, chunk.DocKey)
		assert.Equal(t, doc.Order, chunk.DocOrder)
	}
}

func TestChunkDocumentSplitsLongParagraphOnSentences(t *testing.T) {
	sentence := "This sentence has exactly forty runes ok."
	paragraph := strings.Repeat(sentence+" ", 5)

	chunks := ChunkDocument(Document{Key: "doc", Text: paragraph}, ChunkOptions{TargetRunes: 50, MaxRunes: 100})
	require.NotEmpty(t, chunks)

	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 100)
		assert.True(t, strings.HasSuffix(chunk.Text, "."), "chunk split mid-sentence: %q", chunk.Text)
	}
}

func TestChunkDocumentHardSplitsHugeSentence(t *testing.T) {
	text := strings.Repeat("word ", 100)

	chunks := ChunkDocument(Document{Key: "doc", Text: text}, ChunkOptions{TargetRunes: 40, MaxRunes: 50})
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len([]rune(chunk.Text)), 50)
	}
}

func TestChunkIDsStableAcrossRuns(t *testing.T) {
	doc := Document{Key: "english_us_ats", Text: "a.\n\nb.\n\nc."}
	opts := ChunkOptions{TargetRunes: 1, MaxRunes: 10}

	assert.Equal(t, ChunkDocument(doc, opts), ChunkDocument(doc, opts))
}

func TestFingerprintChangesWithContent(t *testing.T) {
	a := []Document{{Key: "a", Text: "one"}}
	b := []Document{{Key: "a", Text: "two"}}

	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
