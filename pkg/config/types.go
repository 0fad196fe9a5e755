package config

import "fmt"

// Config is the root configuration for the nefro service.
type Config struct {
	Server        ServerConfig                 `yaml:"server"`
	Logging       LoggingConfig                `yaml:"logging"`
	Metrics       MetricsConfig                `yaml:"metrics"`
	LLM           LLMProviderConfig            `yaml:"llm"`
	Embedder      EmbedderProviderConfig       `yaml:"embedder"`
	VectorStore   VectorStoreConfig            `yaml:"vector_store"`
	DocumentStore DocumentStoreConfig          `yaml:"document_store"`
	Retrieval     RetrievalConfig              `yaml:"retrieval"`
	Session       SessionConfig                `yaml:"session"`
	Literature    LiteratureConfig             `yaml:"literature"`
	RemoteAgents  map[string]RemoteAgentConfig `yaml:"remote_agents"`
}

type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 15
	}
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // simple, verbose
	File   string `yaml:"file"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (c *MetricsConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

type LLMProviderConfig struct {
	Type        string  `yaml:"type"` // openai, ollama
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Host        string  `yaml:"host"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Timeout     int     `yaml:"timeout"` // seconds
}

func (c *LLMProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = 60
	}
}

type EmbedderProviderConfig struct {
	Type      string `yaml:"type"` // openai, ollama
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	Host      string `yaml:"host"`
	Dimension int    `yaml:"dimension"`
	Timeout   int    `yaml:"timeout"` // seconds

	// CacheDir enables the two-tier embedding cache when set.
	CacheDir  string `yaml:"cache_dir"`
	CacheSize int    `yaml:"cache_size"`
}

func (c *EmbedderProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "openai"
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.CacheSize == 0 {
		c.CacheSize = 2048
	}
}

type VectorStoreConfig struct {
	Type      string `yaml:"type"` // qdrant, pinecone, chromem
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKey    string `yaml:"api_key"`
	IndexName string `yaml:"index_name"`
	EnableTLS bool   `yaml:"enable_tls"`

	// Path backs the chromem provider with on-disk persistence.
	Path string `yaml:"path"`
}

func (c *VectorStoreConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "qdrant" && c.Port == 0 {
		c.Port = 6334
	}
}

type DocumentStoreConfig struct {
	Driver  string `yaml:"driver"` // sqlite, postgres
	DSN     string `yaml:"dsn"`
	MinPool int    `yaml:"min_pool"`
	MaxPool int    `yaml:"max_pool"`
}

func (c *DocumentStoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.DSN == "" && c.Driver == "sqlite" {
		c.DSN = "nefro.db"
	}
	if c.MinPool == 0 {
		c.MinPool = 10
	}
	if c.MaxPool == 0 {
		c.MaxPool = 100
	}
}

type RetrievalConfig struct {
	KeywordWeight     float64 `yaml:"keyword_weight"`
	SemanticWeight    float64 `yaml:"semantic_weight"`
	SemanticOverfetch int     `yaml:"semantic_overfetch"`
	FallbackFetch     int     `yaml:"fallback_fetch"`
	CacheSize         int     `yaml:"cache_size"`
	CacheTTL          int     `yaml:"cache_ttl"`             // seconds
	HealthInterval    int     `yaml:"health_check_interval"` // seconds
}

func (c *RetrievalConfig) SetDefaults() {
	if c.KeywordWeight == 0 {
		c.KeywordWeight = 0.4
	}
	if c.SemanticWeight == 0 {
		c.SemanticWeight = 0.6
	}
	if c.SemanticOverfetch == 0 {
		c.SemanticOverfetch = 3
	}
	if c.FallbackFetch == 0 {
		c.FallbackFetch = 2
	}
	if c.CacheSize == 0 {
		c.CacheSize = 500
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 180
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 60
	}
}

type SessionConfig struct {
	SessionTimeout    int `yaml:"session_timeout"` // minutes, absolute lifetime
	IdleTimeout       int `yaml:"idle_timeout"`    // minutes, history purge
	MaxContextTokens  int `yaml:"max_context_tokens"`
	SessionExpiry     int `yaml:"session_expiry"` // hours, policy GC
	SynthesisOverhead int `yaml:"synthesis_overhead"`
	Shards            int `yaml:"shards"`
}

func (c *SessionConfig) SetDefaults() {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 30
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 10
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = 20000
	}
	if c.SessionExpiry == 0 {
		c.SessionExpiry = 24
	}
	if c.SynthesisOverhead == 0 {
		c.SynthesisOverhead = 500
	}
	if c.Shards == 0 {
		c.Shards = 16
	}
}

type LiteratureConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Email   string `yaml:"email"`
	Timeout int    `yaml:"timeout"` // seconds
}

func (c *LiteratureConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	}
	if c.Timeout == 0 {
		c.Timeout = 20
	}
}

type RemoteAgentConfig struct {
	BaseURL          string `yaml:"base_url"`
	MaxRetries       int    `yaml:"max_retries"`
	RetryBaseDelay   int    `yaml:"retry_base_delay"`  // milliseconds
	FailureThreshold int    `yaml:"failure_threshold"` // consecutive failures before open
	RecoveryTimeout  int    `yaml:"recovery_timeout"`  // seconds
	MaxPolling       int    `yaml:"max_polling"`       // seconds, per-call budget
	PollWaitMin      int    `yaml:"poll_wait_min"`     // milliseconds
	PollWaitMax      int    `yaml:"poll_wait_max"`     // milliseconds
}

func (c *RemoteAgentConfig) SetDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 500
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = 60
	}
	if c.MaxPolling == 0 {
		c.MaxPolling = 120
	}
	if c.PollWaitMin == 0 {
		c.PollWaitMin = 500
	}
	if c.PollWaitMax == 0 {
		c.PollWaitMax = 2000
	}
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Logging.SetDefaults()
	c.Metrics.SetDefaults()
	c.LLM.SetDefaults()
	c.Embedder.SetDefaults()
	c.VectorStore.SetDefaults()
	c.DocumentStore.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Session.SetDefaults()
	c.Literature.SetDefaults()
	for name, remote := range c.RemoteAgents {
		remote.SetDefaults()
		c.RemoteAgents[name] = remote
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Retrieval.KeywordWeight < 0 || c.Retrieval.SemanticWeight < 0 {
		return fmt.Errorf("retrieval weights must be nonnegative")
	}
	if c.Session.MaxContextTokens <= 0 {
		return fmt.Errorf("max_context_tokens must be positive")
	}
	for name, remote := range c.RemoteAgents {
		if remote.BaseURL == "" {
			return fmt.Errorf("remote agent %q: base_url is required", name)
		}
	}
	switch c.DocumentStore.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported document store driver: %s (supported: sqlite, postgres)", c.DocumentStore.Driver)
	}
	return nil
}
