package cmd

import (
	"errors"
	"log"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/resumekit-rag/internal/corpus"
	"github.com/spigell/resumekit-rag/internal/retriever"
	"github.com/spigell/resumekit-rag/internal/server"
	"github.com/spigell/resumekit-rag/internal/watcher"
)

const (
	app = "resumekit-rag"
)

type Config struct {
	RAG        *RAGConfig        `mapstructure:"rag"`
	Corpus     *CorpusConfig     `mapstructure:"corpus"`
	Embedding  *EmbeddingConfig  `mapstructure:"embedding"`
	Storage    *StorageConfig    `mapstructure:"storage"`
	Server     *server.Config    `mapstructure:"server"`
	HeadHunter *HeadHunterConfig `mapstructure:"headhunter"`
}

type RAGConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	retriever.Config `mapstructure:",squash"`
}

type CorpusConfig struct {
	Root          string        `mapstructure:"root"`
	TargetRunes   int           `mapstructure:"target-runes"`
	MaxRunes      int           `mapstructure:"max-runes"`
	Watch         bool          `mapstructure:"watch"`
	WatchDebounce time.Duration `mapstructure:"watch-debounce"`
}

type EmbeddingConfig struct {
	// Provider is gemini, openai or none.
	Provider  string        `mapstructure:"provider"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch-size"`
	Gemini    *GeminiConfig `mapstructure:"gemini"`
	OpenAI    *OpenAIConfig `mapstructure:"openai"`
}

type GeminiConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	// RequestsPerMinute paces embedding calls. Zero means unlimited.
	RequestsPerMinute int `mapstructure:"requests-per-minute"`
}

type OpenAIConfig struct {
	APIKey     string `mapstructure:"api-key"`
	APIKeyFile string `mapstructure:"api-key-file"`
	BaseURL    string `mapstructure:"base-url"`
	Model      string `mapstructure:"model"`
	BatchSize  int    `mapstructure:"batch-size"`
}

type StorageConfig struct {
	// DataDir holds embedding caches and persisted indexes. Empty keeps
	// everything in memory.
	DataDir string `mapstructure:"data-dir"`
}

type HeadHunterConfig struct {
	TokenFile string `mapstructure:"token-file"`
	UserAgent string `mapstructure:"user-agent"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "resumekit-rag retrieves resume-writing guidance for tailoring prompts",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	envs := map[string]string{
		"rag.enabled":                   "RAG_ENABLED",
		"rag.top-k":                     "RAG_TOP_K",
		"embedding.gemini.api-key-file": "GEMINI_API_KEY_FILE",
		"embedding.openai.api-key":      "OPENAI_API_KEY",
		"embedding.openai.base-url":     "OPENAI_API_BASE",
		"headhunter.token-file":         "HH_TOKEN_FILE",
	}
	for key, env := range envs {
		if err := viper.BindEnv(key, env); err != nil {
			log.Fatalf("binding %s environment variable: %v", env, err)
		}
	}

	setDefaults()

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is resumekit-rag.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func setDefaults() {
	defaults := retriever.DefaultConfig()

	priority := make([]string, 0, len(defaults.CategoryPriority))
	for _, c := range defaults.CategoryPriority {
		priority = append(priority, string(c))
	}

	viper.SetDefault("rag.enabled", true)
	viper.SetDefault("rag.top-k", defaults.TopK)
	viper.SetDefault("rag.similarity-threshold", defaults.SimilarityThreshold)
	viper.SetDefault("rag.exact-match-bonus", defaults.ExactMatchBonus)
	viper.SetDefault("rag.filter-match-bonus", defaults.FilterMatchBonus)
	viper.SetDefault("rag.category-priority", priority)
	viper.SetDefault("rag.query-max-runes", defaults.QueryMaxRunes)

	viper.SetDefault("corpus.root", "corpus")
	viper.SetDefault("corpus.watch", true)
	viper.SetDefault("corpus.watch-debounce", watcher.DefaultDebounce)

	viper.SetDefault("embedding.provider", "gemini")
	viper.SetDefault("embedding.timeout", 15*time.Second)
	viper.SetDefault("embedding.batch-size", 32)

	viper.SetDefault("storage.data-dir", ".resumekit-rag")

	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.excerpt-runes", retriever.DefaultExcerptRunes)
}

func initConfig() {
	// version needs no configuration.
	if versionCmd.CalledAs() != "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// An explicit config must be readable. Without one, defaults and the
	// environment are enough.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			log.Fatal(err)
		}
	}
}

func getConfig() (*Config, error) {
	var config *Config
	err := viper.Unmarshal(&config)
	if err != nil {
		return config, err
	}

	return config, nil
}

// chunkOptions maps the corpus section onto chunker settings.
func (c *CorpusConfig) chunkOptions() corpus.ChunkOptions {
	return corpus.ChunkOptions{
		TargetRunes: c.TargetRunes,
		MaxRunes:    c.MaxRunes,
	}
}
