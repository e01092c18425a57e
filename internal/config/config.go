package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	ragerr "docqa/internal/errors"
)

// EnvPrefix prefixes environment overrides, e.g. DOCQA_RAG_TOP_K.
const EnvPrefix = "DOCQA"

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env" mapstructure:"api_key_env"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string               `yaml:"type" mapstructure:"type"`
	Dimension int                  `yaml:"dimension" mapstructure:"dimension"`
	OpenAI    OpenAIEmbedderConfig `yaml:"openai" mapstructure:"openai"`
}

// ChunkerConfig configures how documents are split into passages.
type ChunkerConfig struct {
	Type         string `yaml:"type" mapstructure:"type"`
	ChunkSize    int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
}

// VectorStoreConfig locates the persisted index artifacts.
type VectorStoreConfig struct {
	Dir          string `yaml:"dir" mapstructure:"dir"`
	IndexFile    string `yaml:"index_file" mapstructure:"index_file"`
	MetadataFile string `yaml:"metadata_file" mapstructure:"metadata_file"`
}

// GeneratorConfig selects the answer-generation provider. An empty
// APIKeyEnv selects the provider's conventional variable.
type GeneratorConfig struct {
	Type        string  `yaml:"type" mapstructure:"type"`
	Model       string  `yaml:"model" mapstructure:"model"`
	APIKeyEnv   string  `yaml:"api_key_env" mapstructure:"api_key_env"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
}

type RAGConfig struct {
	TopK            int `yaml:"top_k" mapstructure:"top_k"`
	PreviewChars    int `yaml:"preview_chars" mapstructure:"preview_chars"`
	PreviewPassages int `yaml:"preview_passages" mapstructure:"preview_passages"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	Type         string `yaml:"type" mapstructure:"type"`
	MaxSentences int    `yaml:"max_sentences" mapstructure:"max_sentences"`
}

type HistoryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen      string   `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
	UploadDir   string   `yaml:"upload_dir" mapstructure:"upload_dir"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder" mapstructure:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker" mapstructure:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store" mapstructure:"vector_store"`
	Generator   GeneratorConfig   `yaml:"generator" mapstructure:"generator"`
	RAG         RAGConfig         `yaml:"rag" mapstructure:"rag"`
	Summarizer  SummarizerConfig  `yaml:"summarizer" mapstructure:"summarizer"`
	History     HistoryConfig     `yaml:"history" mapstructure:"history"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
}

// Load reads configuration from path (or defaults only, when path is empty)
// with DOCQA_ environment overrides, then validates it.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v, defaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and
// loads them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "locating user config: %w", err)
	}
	if _, err := os.Stat(userPath); err != nil {
		if err := Save(userPath, defaultConfig()); err != nil {
			return nil, "", err
		}
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue, "encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ragerr.Errorf(ragerr.CodeConfigLoadReadFailure, "writing config %s: %w", path, err)
	}
	return nil
}

// Default returns a copy of the built-in configuration.
func Default() *AppConfig { return defaultConfig() }

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Embedder: EmbedderConfig{
			Type:      "hashed",
			Dimension: 384,
			OpenAI: OpenAIEmbedderConfig{
				BaseURL:     "https://api.openai.com/v1",
				APIKeyEnv:   "OPENAI_API_KEY",
				Model:       "text-embedding-3-small",
				TimeoutSecs: 30,
				BatchSize:   64,
			},
		},
		Chunker:     ChunkerConfig{Type: "paragraph", ChunkSize: 1000, ChunkOverlap: 200},
		VectorStore: VectorStoreConfig{Dir: "data/vector_store", IndexFile: "index.bin", MetadataFile: "metadata.json"},
		Generator: GeneratorConfig{
			Type:        "openai",
			Temperature: 0.7,
			MaxTokens:   500,
		},
		RAG:        RAGConfig{TopK: 3, PreviewChars: 200, PreviewPassages: 2},
		Summarizer: SummarizerConfig{Type: "frequency", MaxSentences: 3},
		History:    HistoryConfig{Path: "data/history.db"},
		Server:     ServerConfig{Listen: "127.0.0.1:8080", CORSOrigins: []string{"*"}, MaxUploadMB: 10, UploadDir: "data/uploads"},
	}
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *AppConfig) {
	v.SetDefault("embedder.type", d.Embedder.Type)
	v.SetDefault("embedder.dimension", d.Embedder.Dimension)
	v.SetDefault("embedder.openai.base_url", d.Embedder.OpenAI.BaseURL)
	v.SetDefault("embedder.openai.api_key_env", d.Embedder.OpenAI.APIKeyEnv)
	v.SetDefault("embedder.openai.model", d.Embedder.OpenAI.Model)
	v.SetDefault("embedder.openai.timeout_secs", d.Embedder.OpenAI.TimeoutSecs)
	v.SetDefault("embedder.openai.batch_size", d.Embedder.OpenAI.BatchSize)

	v.SetDefault("chunker.type", d.Chunker.Type)
	v.SetDefault("chunker.chunk_size", d.Chunker.ChunkSize)
	v.SetDefault("chunker.chunk_overlap", d.Chunker.ChunkOverlap)

	v.SetDefault("vector_store.dir", d.VectorStore.Dir)
	v.SetDefault("vector_store.index_file", d.VectorStore.IndexFile)
	v.SetDefault("vector_store.metadata_file", d.VectorStore.MetadataFile)

	v.SetDefault("generator.type", d.Generator.Type)
	v.SetDefault("generator.model", d.Generator.Model)
	v.SetDefault("generator.api_key_env", d.Generator.APIKeyEnv)
	v.SetDefault("generator.base_url", d.Generator.BaseURL)
	v.SetDefault("generator.temperature", d.Generator.Temperature)
	v.SetDefault("generator.max_tokens", d.Generator.MaxTokens)

	v.SetDefault("rag.top_k", d.RAG.TopK)
	v.SetDefault("rag.preview_chars", d.RAG.PreviewChars)
	v.SetDefault("rag.preview_passages", d.RAG.PreviewPassages)

	v.SetDefault("summarizer.type", d.Summarizer.Type)
	v.SetDefault("summarizer.max_sentences", d.Summarizer.MaxSentences)

	v.SetDefault("history.path", d.History.Path)

	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)
	v.SetDefault("server.upload_dir", d.Server.UploadDir)
}

// Validate checks the configuration for logical errors and returns every
// problem found.
func (c *AppConfig) Validate() []error {
	var errs []error

	errs = append(errs, c.validateEmbedder()...)
	errs = append(errs, c.validateChunker()...)
	errs = append(errs, c.validateGenerator()...)
	errs = append(errs, c.validateRAG()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateServer()...)

	return errs
}

func invalid(format string, args ...any) error {
	return ragerr.Errorf(ragerr.CodeConfigValidateInvalidValue, "config: "+format, args...)
}

func oneOf(field, got string, allowed ...string) error {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return invalid("%s must be one of [%s], got %q", field, strings.Join(allowed, ", "), got)
}

func (c *AppConfig) validateEmbedder() []error {
	var errs []error
	if err := oneOf("embedder.type", c.Embedder.Type, "hashed", "openai"); err != nil {
		errs = append(errs, err)
	}
	switch c.Embedder.Type {
	case "hashed":
		if c.Embedder.Dimension <= 0 {
			errs = append(errs, invalid("embedder.dimension must be positive, got %d", c.Embedder.Dimension))
		}
	case "openai":
		if c.Embedder.OpenAI.Model == "" {
			errs = append(errs, invalid("embedder.openai.model must not be empty"))
		}
		if c.Embedder.OpenAI.BatchSize <= 0 {
			errs = append(errs, invalid("embedder.openai.batch_size must be positive, got %d", c.Embedder.OpenAI.BatchSize))
		}
		if c.Embedder.OpenAI.TimeoutSecs < 0 {
			errs = append(errs, invalid("embedder.openai.timeout_secs must not be negative"))
		}
	}
	return errs
}

func (c *AppConfig) validateChunker() []error {
	var errs []error
	if err := oneOf("chunker.type", c.Chunker.Type, "paragraph", "sentence", "semantic"); err != nil {
		errs = append(errs, err)
	}
	if c.Chunker.ChunkSize <= 0 {
		errs = append(errs, invalid("chunker.chunk_size must be positive, got %d", c.Chunker.ChunkSize))
	}
	if c.Chunker.ChunkOverlap < 0 || c.Chunker.ChunkOverlap >= c.Chunker.ChunkSize {
		errs = append(errs, invalid("chunker.chunk_overlap must be in [0, chunk_size), got %d", c.Chunker.ChunkOverlap))
	}
	return errs
}

func (c *AppConfig) validateGenerator() []error {
	var errs []error
	if err := oneOf("generator.type", c.Generator.Type, "openai", "anthropic", "google"); err != nil {
		errs = append(errs, err)
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		errs = append(errs, invalid("generator.temperature must be between 0 and 2, got %g", c.Generator.Temperature))
	}
	if c.Generator.MaxTokens <= 0 {
		errs = append(errs, invalid("generator.max_tokens must be positive, got %d", c.Generator.MaxTokens))
	}
	return errs
}

func (c *AppConfig) validateRAG() []error {
	var errs []error
	if c.RAG.TopK <= 0 {
		errs = append(errs, invalid("rag.top_k must be positive, got %d", c.RAG.TopK))
	}
	if c.RAG.PreviewChars < 0 || c.RAG.PreviewPassages < 0 {
		errs = append(errs, invalid("rag.preview_chars and rag.preview_passages must not be negative"))
	}
	if err := oneOf("summarizer.type", c.Summarizer.Type, "frequency"); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (c *AppConfig) validateStorage() []error {
	var errs []error
	if c.VectorStore.Dir == "" {
		errs = append(errs, invalid("vector_store.dir must not be empty"))
	}
	if c.Server.UploadDir == "" {
		errs = append(errs, invalid("server.upload_dir must not be empty"))
	}
	if c.History.Path == "" {
		errs = append(errs, invalid("history.path must not be empty"))
	}
	return errs
}

func (c *AppConfig) validateServer() []error {
	var errs []error
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, invalid("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB))
	}
	if c.Server.Listen == "" {
		return append(errs, invalid("server.listen must not be empty"))
	}
	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return append(errs, invalid("server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		errs = append(errs, invalid("server.listen port must be between 1 and 65535, got %q", portStr))
	}
	return errs
}

// String renders the effective configuration as YAML.
func (c *AppConfig) String() string {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(data)
}
