package filtering

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/index"
)

func entries(identifiers ...string) []*index.Entry {
	out := make([]*index.Entry, 0, len(identifiers))
	for _, id := range identifiers {
		out = append(out, &index.Entry{Chunk: corpus.Chunk{ID: id, Metadata: corpus.ExtractMetadata(id)}})
	}
	return out
}

func ids(entries []*index.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Chunk.ID)
	}
	return out
}

func TestRunAppliesLanguageAndRoleWithWildcards(t *testing.T) {
	t.Parallel()

	all := entries(
		"russian_backend_guidelines",
		"russian_fullstack_ats",
		"english_us_backend_guidelines",
		"general_formatting",
		"russian_general_guidelines",
	)

	tests := []struct {
		name   string
		cfg    Config
		expect []string
	}{
		{
			name:   "russian backend",
			cfg:    Config{Language: corpus.LanguageRU, Role: corpus.RoleBackend},
			expect: []string{"russian_backend_guidelines", "general_formatting", "russian_general_guidelines"},
		},
		{
			name:   "english fullstack",
			cfg:    Config{Language: corpus.LanguageEN, Role: corpus.RoleFullstack},
			expect: []string{"general_formatting"},
		},
		{
			name:   "general query keeps everything",
			cfg:    Config{Language: corpus.LanguageGeneral, Role: corpus.RoleGeneral},
			expect: ids(all),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := Run(context.Background(), &tt.cfg, Deps{}, Default(), all)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			gotIDs := ids(got)
			if len(gotIDs) != len(tt.expect) {
				t.Fatalf("expected %v, got %v", tt.expect, gotIDs)
			}
			for i := range gotIDs {
				if gotIDs[i] != tt.expect[i] {
					t.Fatalf("expected %v, got %v", tt.expect, gotIDs)
				}
			}
		})
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := &Config{Language: "de", Role: corpus.RoleBackend}
	if _, err := Run(context.Background(), cfg, Deps{}, Default(), entries("a")); err == nil {
		t.Fatal("expected error for unknown language")
	}

	cfg = &Config{Language: corpus.LanguageRU, Role: "designer"}
	if _, err := Run(context.Background(), cfg, Deps{}, Default(), entries("a")); err == nil {
		t.Fatal("expected error for unknown role")
	}

	if _, err := Run(context.Background(), nil, Deps{}, Default(), entries("a")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestRunLogsSteps(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	cfg := &Config{Language: corpus.LanguageRU, Role: corpus.RoleBackend}

	_, err := Run(context.Background(), cfg, Deps{Logger: zap.New(core)}, Default(),
		entries("russian_backend_guidelines", "english_us_ats", "russian_fullstack_ats"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logged := observed.FilterMessage("filter step").All()
	if len(logged) != 2 {
		t.Fatalf("expected 2 step logs, got %d", len(logged))
	}

	first := logged[0].ContextMap()
	if first["name"] != "language" || first["dropped"] != int64(1) || first["left"] != int64(2) {
		t.Fatalf("unexpected language step: %v", first)
	}

	second := logged[1].ContextMap()
	if second["name"] != "role" || second["initial"] != int64(2) || second["left"] != int64(1) {
		t.Fatalf("unexpected role step: %v", second)
	}
}
