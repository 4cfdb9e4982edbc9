package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/index"
)

// Filter represents a single filtering step applied to index entries.
type Filter interface {
	Name() string

	Validate(cfg *Config) error
	Apply(ctx context.Context, cfg *Config, deps Deps, entries []*index.Entry) ([]*index.Entry, Step, error)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Logger *zap.Logger
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config carries the query attributes the filters match against.
type Config struct {
	Language corpus.Language
	Role     corpus.Role
}

// Default returns the metadata filters applied to every query.
func Default() []Filter {
	return []Filter{NewLanguage(), NewRole()}
}

// Run executes the supplied filters sequentially and returns the entries left.
// The input slice is not modified.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, entries []*index.Entry) ([]*index.Entry, error) {
	for _, step := range steps {
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, step := range steps {
		next, info, err := step.Apply(ctx, cfg, deps, entries)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil {
			deps.Logger.Debug("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		entries = next
	}

	return entries, nil
}

// keep returns the entries match accepts in a new slice.
func keep(entries []*index.Entry, match func(*index.Entry) bool) ([]*index.Entry, Step) {
	out := make([]*index.Entry, 0, len(entries))
	for _, entry := range entries {
		if match(entry) {
			out = append(out, entry)
		}
	}
	return out, Step{Initial: len(entries), Dropped: len(entries) - len(out), Left: len(out)}
}
