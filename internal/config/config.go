package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Embedding provider names.
const (
	EmbeddingOpenAI      = "openai"
	EmbeddingGemini      = "gemini"
	EmbeddingHuggingFace = "huggingface"
	EmbeddingHash        = "hash"
)

// Vector store drivers.
const (
	DriverRedis  = "redis"
	DriverValkey = "valkey"
	DriverMilvus = "milvus"
	DriverSQLite = "sqlite"
)

// Chat backend names.
const (
	LLMOpenAI     = "openai"
	LLMGemini     = "gemini"
	LLMOpenRouter = "openrouter"
)

// Config holds the ragchat configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Logging     LoggingConfig     `yaml:"logging"`
	Auth        AuthConfig        `yaml:"auth"`
	RAG         RAGConfig         `yaml:"rag"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	LLM         LLMConfig         `yaml:"llm"`
	Storage     StorageConfig     `yaml:"storage"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int   `yaml:"port"`
	ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
	WriteTimeoutSec int   `yaml:"write_timeout_sec"`
	ShutdownSec     int   `yaml:"shutdown_timeout_sec"`
	MaxUploadBytes  int64 `yaml:"max_upload_bytes"`
}

// RAGConfig holds retrieval settings.
type RAGConfig struct {
	Enabled         bool `yaml:"enabled"`
	TopK            int  `yaml:"top_k"`
	IndexWorkers    int  `yaml:"index_workers"`
	IndexQueueSize  int  `yaml:"index_queue"`
	IndexTimeoutSec int  `yaml:"index_timeout_sec"`
}

// ChunkingConfig holds chunker settings. Sizes are in characters.
type ChunkingConfig struct {
	Size         int   `yaml:"size"`
	Overlap      int   `yaml:"overlap"`
	MaxFileBytes int64 `yaml:"max_file_bytes"`
}

// EmbeddingConfig selects one embedding provider and holds per-provider settings.
type EmbeddingConfig struct {
	Provider            string         `yaml:"provider"` // gemini, openai, huggingface, hash
	CacheTTLSec         int            `yaml:"cache_ttl_sec"`
	DocumentInstruction string         `yaml:"document_instruction"`
	QueryInstruction    string         `yaml:"query_instruction"`
	OpenAI              ProviderConfig `yaml:"openai"`
	Gemini              ProviderConfig `yaml:"gemini"`
	HuggingFace         ProviderConfig `yaml:"huggingface"`
}

// ProviderConfig holds embedding provider settings.
type ProviderConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	TimeoutSec        int     `yaml:"timeout_sec"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	LoadingRetrySec   int     `yaml:"loading_retry_sec"`
}

// VectorStoreConfig holds vector store location and index settings.
type VectorStoreConfig struct {
	Driver           string   `yaml:"driver"` // redis, valkey, milvus, sqlite
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	Address          string   `yaml:"address"` // milvus host:port
	Path             string   `yaml:"path"`    // sqlite file
	Collection       string   `yaml:"collection"`
	KeyPrefix        string   `yaml:"key_prefix"`
	Dimensions       int      `yaml:"dimensions"`
	HNSWM            int      `yaml:"hnsw_m"`
	HNSWEFConstruct  int      `yaml:"hnsw_ef_construction"`
	InitRetrySec     int      `yaml:"init_retry_sec"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// LLMConfig holds chat backend settings.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	HistoryLimit    int                          `yaml:"history_limit"`
	TimeoutSec      int                          `yaml:"timeout_sec"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig holds one chat backend.
type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// Fallback enables the model fallback chain: requested model, then
	// DefaultModels, then Models.
	Fallback      bool     `yaml:"fallback"`
	DefaultModels []string `yaml:"default_models"`
	Models        []string `yaml:"models"`
}

// StorageConfig holds local file storage settings.
type StorageConfig struct {
	UploadDir string `yaml:"upload_dir"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit YAML path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 120
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		c.HTTP.MaxUploadBytes = 20 << 20
	}

	if c.RAG.TopK <= 0 {
		c.RAG.TopK = 5
	}
	if c.RAG.IndexWorkers <= 0 {
		c.RAG.IndexWorkers = 2
	}
	if c.RAG.IndexQueueSize <= 0 {
		c.RAG.IndexQueueSize = 64
	}
	if c.RAG.IndexTimeoutSec <= 0 {
		c.RAG.IndexTimeoutSec = 300
	}

	if c.Chunking.Size <= 0 {
		c.Chunking.Size = 1000
	}
	switch {
	case c.Chunking.Overlap == 0:
		c.Chunking.Overlap = min(200, c.Chunking.Size/5)
	case c.Chunking.Overlap < 0: // explicit opt-out
		c.Chunking.Overlap = 0
	}

	c.applyEmbeddingDefaults()
	c.applyVectorStoreDefaults()
	c.applyLLMDefaults()

	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "data/uploads"
	}
}

func (c *Config) applyEmbeddingDefaults() {
	e := &c.Embedding
	if e.Provider == "" {
		e.Provider = EmbeddingGemini
	}
	if e.CacheTTLSec < 0 {
		e.CacheTTLSec = 0
	}
	fill := func(p *ProviderConfig, baseURL, model string, dims int) {
		if p.BaseURL == "" {
			p.BaseURL = baseURL
		}
		if p.Model == "" {
			p.Model = model
		}
		if p.Dimensions <= 0 {
			p.Dimensions = dims
		}
		if p.TimeoutSec <= 0 {
			p.TimeoutSec = 30
		}
	}
	fill(&e.OpenAI, "https://api.openai.com/v1", "text-embedding-3-small", 1536)
	fill(&e.Gemini, "https://generativelanguage.googleapis.com/v1beta/openai/", "text-embedding-004", 768)
	fill(&e.HuggingFace, "https://api-inference.huggingface.co", "sentence-transformers/all-MiniLM-L6-v2", 384)
	if e.HuggingFace.LoadingRetrySec <= 0 {
		e.HuggingFace.LoadingRetrySec = 10
	}
	if e.HuggingFace.RequestsPerSecond <= 0 {
		e.HuggingFace.RequestsPerSecond = 5
	}
}

func (c *Config) applyVectorStoreDefaults() {
	v := &c.VectorStore
	if v.Driver == "" {
		v.Driver = DriverSQLite
	}
	if v.Collection == "" {
		v.Collection = "documents"
	}
	if v.KeyPrefix == "" {
		v.KeyPrefix = "ragchat:"
	}
	if v.Path == "" {
		v.Path = "data/vectors.db"
	}
	if v.Dimensions <= 0 {
		v.Dimensions = c.Embedding.Dimensions()
	}
	if v.HNSWM <= 0 {
		v.HNSWM = 16
	}
	if v.HNSWEFConstruct <= 0 {
		v.HNSWEFConstruct = 200
	}
	if v.InitRetrySec <= 0 {
		v.InitRetrySec = 30
	}
	if v.ReadinessTimeout <= 0 {
		v.ReadinessTimeout = 10
	}
}

var llmDefaults = map[string]LLMProviderConfig{
	LLMOpenAI: {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	LLMGemini: {
		BaseURL:       "https://generativelanguage.googleapis.com/v1beta/openai/",
		Model:         "gemini-2.0-flash",
		Fallback:      true,
		DefaultModels: []string{"gemini-2.0-flash", "gemini-1.5-flash"},
		Models:        []string{"gemini-2.5-flash", "gemini-2.0-flash-lite", "gemini-1.5-pro"},
	},
	LLMOpenRouter: {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o-mini",
	},
}

func (c *Config) applyLLMDefaults() {
	l := &c.LLM
	if l.DefaultProvider == "" {
		l.DefaultProvider = LLMGemini
	}
	if l.HistoryLimit <= 0 {
		l.HistoryLimit = 10
	}
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = 120
	}
	if l.Providers == nil {
		l.Providers = make(map[string]LLMProviderConfig)
	}
	for name, def := range llmDefaults {
		p, ok := l.Providers[name]
		if !ok {
			// Only configured backends are exposed, except the default one.
			if name != l.DefaultProvider {
				continue
			}
			p = LLMProviderConfig{Fallback: def.Fallback}
		}
		if p.BaseURL == "" {
			p.BaseURL = def.BaseURL
		}
		if p.Model == "" {
			p.Model = def.Model
		}
		if p.Fallback && len(p.DefaultModels) == 0 {
			p.DefaultModels = def.DefaultModels
		}
		if p.Fallback && len(p.Models) == 0 {
			p.Models = def.Models
		}
		l.Providers[name] = p
	}
}

// Dimensions returns the vector width of the selected embedding provider.
func (e EmbeddingConfig) Dimensions() int {
	switch e.Provider {
	case EmbeddingOpenAI:
		return e.OpenAI.Dimensions
	case EmbeddingGemini:
		return e.Gemini.Dimensions
	case EmbeddingHuggingFace, EmbeddingHash:
		return e.HuggingFace.Dimensions
	}
	return 0
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap (%d) must be smaller than chunking.size (%d)",
			c.Chunking.Overlap, c.Chunking.Size)
	}

	switch c.Embedding.Provider {
	case EmbeddingOpenAI, EmbeddingGemini, EmbeddingHuggingFace, EmbeddingHash:
	default:
		return fmt.Errorf("embedding.provider must be one of gemini, openai, huggingface, hash, got %q",
			c.Embedding.Provider)
	}

	switch c.VectorStore.Driver {
	case DriverRedis, DriverValkey:
		if len(c.VectorStore.Addrs) == 0 {
			return fmt.Errorf("vector_store.addrs is required for driver %s", c.VectorStore.Driver)
		}
	case DriverMilvus:
		if c.VectorStore.Address == "" {
			return fmt.Errorf("vector_store.address is required for driver milvus")
		}
	case DriverSQLite:
		if c.VectorStore.Path == "" {
			return fmt.Errorf("vector_store.path is required for driver sqlite")
		}
	default:
		return fmt.Errorf("vector_store.driver must be one of redis, valkey, milvus, sqlite, got %q",
			c.VectorStore.Driver)
	}

	for name := range c.LLM.Providers {
		if _, ok := llmDefaults[name]; !ok {
			return fmt.Errorf("llm.providers.%s: unknown backend, supported: %s", name, strings.Join(LLMBackends(), ", "))
		}
	}
	if _, ok := c.LLM.Providers[c.LLM.DefaultProvider]; !ok {
		return fmt.Errorf("llm.default_provider %q is not configured", c.LLM.DefaultProvider)
	}
	return nil
}

// LLMBackends lists the supported chat backend names.
func LLMBackends() []string {
	names := make([]string, 0, len(llmDefaults))
	for name := range llmDefaults {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
