package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/engine"
	"github.com/spigell/resumekit-rag/internal/headhunter"
	"github.com/spigell/resumekit-rag/internal/retriever"
	"github.com/spigell/resumekit-rag/internal/secrets"
)

const (
	outputText = "text"
	outputJSON = "json"
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Retrieve guidance for a job description and print the prompt context",
	Run: func(cmd *cobra.Command, _ []string) {
		query(cmd)
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringP("language", "l", "", "resume language (ru, en, general). Asked interactively when unset")
	queryCmd.Flags().StringP("role", "r", "", "target role (backend, fullstack, gpt_engineer, general). Asked interactively when unset")
	queryCmd.Flags().String("job-text", "", "job description text")
	queryCmd.Flags().String("job-file", "", "file with the job description")
	queryCmd.Flags().String("vacancy", "", "hh.ru vacancy id or url to use as the job description")
	queryCmd.Flags().IntP("top-k", "k", 0, "number of excerpts (default from rag.top-k)")
	queryCmd.Flags().StringP("output", "o", outputText, "output format: text or json")
	queryCmd.MarkFlagsMutuallyExclusive("job-text", "job-file", "vacancy")
}

type jobInput struct {
	Text    string
	File    string
	Vacancy string
}

// jobDescription is the resolved query input. Language and Role are guesses
// from a vacancy and empty otherwise.
type jobDescription struct {
	Text     string
	Language corpus.Language
	Role     corpus.Role
}

func query(cmd *cobra.Command) {
	ctx := commandContext(cmd)
	logger, config := setup()

	output, _ := cmd.Flags().GetString("output")
	if output != outputText && output != outputJSON {
		logger.Fatal("invalid output format", zap.String("output", output))
	}

	input := jobInput{}
	input.Text, _ = cmd.Flags().GetString("job-text")
	input.File, _ = cmd.Flags().GetString("job-file")
	input.Vacancy, _ = cmd.Flags().GetString("vacancy")

	job, err := resolveJobDescription(ctx, input, newHeadHunter(config, logger))
	if err != nil {
		logger.Fatal("reading job description", zap.Error(err))
	}

	language, _ := cmd.Flags().GetString("language")
	role, _ := cmd.Flags().GetString("role")
	if language == "" && job.Language != "" {
		language = string(job.Language)
		logger.Info("language guessed from vacancy", zap.String("language", language))
	}
	if role == "" && job.Role != "" {
		role = string(job.Role)
		logger.Info("role guessed from vacancy", zap.String("role", role))
	}
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if language == "" && !interactive {
		language = corpus.General
	}
	if role == "" && !interactive {
		role = corpus.General
	}
	if language == "" {
		if language, err = selectValue("Resume language", enumStrings(corpus.Languages())); err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
	}
	if role == "" {
		if role, err = selectValue("Target role", enumStrings(corpus.Roles())); err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
	}

	topK, _ := cmd.Flags().GetInt("top-k")

	eng := newEngine(ctx, config, logger, nil)
	defer eng.Close(context.Background())

	if err := ensureIndex(ctx, eng); err != nil {
		logger.Fatal("preparing index", zap.Error(err))
	}

	results, err := eng.Retrieve(ctx, retriever.Query{
		Language:       corpus.Language(language),
		Role:           corpus.Role(role),
		JobDescription: job.Text,
		TopK:           topK,
	})
	if err != nil {
		logger.Fatal("retrieving guidance", zap.Error(err))
	}

	excerptRunes := retriever.DefaultExcerptRunes
	if config.Server != nil {
		excerptRunes = config.Server.ExcerptRunes
	}
	if err := renderResults(os.Stdout, output, results, excerptRunes); err != nil {
		logger.Fatal("writing results", zap.Error(err))
	}
	if len(results) == 0 {
		logger.Info("no guidance found", zap.String("language", language), zap.String("role", role))
	}
}

// ensureIndex publishes the persisted index or builds one in the foreground.
func ensureIndex(ctx context.Context, eng *engine.Engine) error {
	if !eng.Enabled() {
		return nil
	}

	loaded, err := eng.LoadPersisted(ctx)
	if err != nil || loaded {
		return err
	}

	_, err = eng.Build(ctx)
	return err
}

func newHeadHunter(config *Config, logger *zap.Logger) *headhunter.Client {
	hhCfg := config.HeadHunter
	if hhCfg == nil {
		hhCfg = &HeadHunterConfig{}
	}

	token, err := secrets.Optional(secrets.Source{
		Name: "headhunter token",
		File: hhCfg.TokenFile,
	})
	if err != nil {
		logger.Warn("reading headhunter token, continuing anonymously", zap.Error(err))
	}

	hh := headhunter.New(logger, token)
	if hhCfg.UserAgent != "" {
		hh.UserAgent = hhCfg.UserAgent
	}
	return hh
}

type vacancyGetter interface {
	GetVacancy(ctx context.Context, id string) (*headhunter.Vacancy, error)
}

func resolveJobDescription(ctx context.Context, input jobInput, hh vacancyGetter) (jobDescription, error) {
	switch {
	case strings.TrimSpace(input.Text) != "":
		return jobDescription{Text: strings.TrimSpace(input.Text)}, nil
	case input.File != "":
		data, err := os.ReadFile(input.File)
		if err != nil {
			return jobDescription{}, fmt.Errorf("reading job file: %w", err)
		}
		return jobDescription{Text: strings.TrimSpace(string(data))}, nil
	case input.Vacancy != "":
		id, err := headhunter.ParseVacancyID(input.Vacancy)
		if err != nil {
			return jobDescription{}, err
		}
		vacancy, err := hh.GetVacancy(ctx, id)
		if err != nil {
			return jobDescription{}, err
		}
		return jobDescription{
			Text:     vacancy.JobDescription(),
			Language: vacancy.Language(),
			Role:     vacancy.Role(),
		}, nil
	default:
		// Without a job description only metadata ranking applies.
		return jobDescription{}, nil
	}
}

type queryOutput struct {
	Excerpts      []engine.Excerpt `json:"excerpts"`
	PromptContext string           `json:"prompt_context"`
}

func renderResults(w io.Writer, format string, results []retriever.Result, excerptRunes int) error {
	promptContext := retriever.FormatPromptContext(results, excerptRunes)

	if format == outputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(queryOutput{
			Excerpts:      engine.Excerpts(results),
			PromptContext: promptContext,
		})
	}

	_, err := io.WriteString(w, promptContext)
	return err
}

func selectValue(label string, items []string) (string, error) {
	prompt := promptui.Select{
		Label: label,
		Items: append(items, corpus.General),
	}

	_, value, err := prompt.Run()
	return value, err
}

func enumStrings[T ~string](values []T) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, string(v))
	}
	return out
}
