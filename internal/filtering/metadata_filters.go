package filtering

import (
	"context"
	"errors"
	"fmt"

	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/index"
)

var errNoConfig = errors.New("filter config is required")

type languageFilter struct{}

// NewLanguage creates a filter that keeps entries written in the query
// language or marked general. A general query language keeps everything.
func NewLanguage() Filter {
	return &languageFilter{}
}

func (f *languageFilter) Name() string { return "language" }

func (f *languageFilter) Validate(cfg *Config) error {
	if cfg == nil {
		return errNoConfig
	}
	if _, err := corpus.ParseLanguage(string(cfg.Language)); err != nil {
		return fmt.Errorf("invalid query language: %w", err)
	}
	return nil
}

func (f *languageFilter) Apply(_ context.Context, cfg *Config, _ Deps, entries []*index.Entry) ([]*index.Entry, Step, error) {
	out, step := keep(entries, func(e *index.Entry) bool {
		return LanguageMatches(cfg.Language, e.Chunk.Metadata.Language)
	})
	return out, step, nil
}

type roleFilter struct{}

// NewRole creates a filter that keeps entries written for the query role or
// marked general. A general query role keeps everything.
func NewRole() Filter {
	return &roleFilter{}
}

func (f *roleFilter) Name() string { return "role" }

func (f *roleFilter) Validate(cfg *Config) error {
	if cfg == nil {
		return errNoConfig
	}
	if _, err := corpus.ParseRole(string(cfg.Role)); err != nil {
		return fmt.Errorf("invalid query role: %w", err)
	}
	return nil
}

func (f *roleFilter) Apply(_ context.Context, cfg *Config, _ Deps, entries []*index.Entry) ([]*index.Entry, Step, error) {
	out, step := keep(entries, func(e *index.Entry) bool {
		return RoleMatches(cfg.Role, e.Chunk.Metadata.Role)
	})
	return out, step, nil
}

// LanguageMatches reports whether a chunk language satisfies the query language.
func LanguageMatches(query, chunk corpus.Language) bool {
	return query.IsGeneral() || chunk == query || chunk.IsGeneral()
}

// RoleMatches reports whether a chunk role satisfies the query role.
func RoleMatches(query, chunk corpus.Role) bool {
	return query.IsGeneral() || chunk == query || chunk.IsGeneral()
}
