package types

import "time"

// HTTPConfig holds shared HTTP settings used by stages that make network requests.
type HTTPConfig struct {
	// Timeout is the HTTP request timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// UserAgent is the User-Agent header sent with HTTP requests
	// (e.g. "mcq-forge/0.1").
	UserAgent string `json:"user_agent" yaml:"user_agent"`
}

// LLMConfig holds shared settings for stages that call a language model.
type LLMConfig struct {
	// Provider selects the completion backend: "openai" or "claude".
	Provider string `json:"provider" yaml:"provider"`

	// Model is the model identifier (e.g. "gpt-4o-mini").
	Model string `json:"model" yaml:"model"`

	// APIKey authenticates against the provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL overrides the provider endpoint (e.g. a local gateway).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Timeout bounds each completion call (default 60s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxTokens limits response length (default 4096).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
}

// IngestConfig holds settings for source ingestion.
type IngestConfig struct {
	HTTPConfig `yaml:",inline"`

	// NCBIAPIKey raises the E-utilities rate limit from 3 to 10 req/s.
	NCBIAPIKey string `json:"ncbi_api_key,omitempty" yaml:"ncbi_api_key,omitempty"`

	// RequestsPerSecond caps E-utilities traffic (default 3).
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`

	// CacheTTL is how long fetched articles stay in the in-memory cache
	// (default 15m).
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// SchemaConfig holds settings for the relation taxonomy.
type SchemaConfig struct {
	// Path points at a taxonomy YAML file. Empty uses the embedded default.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// ProvenanceConfig holds settings for the provenance verifier.
type ProvenanceConfig struct {
	// FuzzyThreshold is the minimum token-overlap ratio for a context
	// sentence that fails exact matching (default 0.85).
	FuzzyThreshold float64 `json:"fuzzy_threshold" yaml:"fuzzy_threshold"`
}

// KBConfig holds settings for the knowledge base store.
type KBConfig struct {
	// DataDir is the base directory holding mcq-forge.db and images/.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// MaxResults is the default maximum for distractor and list queries
	// (default 10).
	MaxResults int `json:"max_results" yaml:"max_results"`
}

// RefineConfig holds settings for the critique/refine loop.
type RefineConfig struct {
	// MaxIterations bounds the critique/refine cycles (default 3).
	MaxIterations int `json:"max_iterations" yaml:"max_iterations"`

	// PassThreshold is the minimum per-dimension and overall score for
	// approval (default 0.5).
	PassThreshold float64 `json:"pass_threshold" yaml:"pass_threshold"`
}

// VisualConfig holds settings for optional image generation.
type VisualConfig struct {
	// Model is the image model identifier (default "dall-e-3").
	Model string `json:"model" yaml:"model"`

	// Size is the requested image size (default "1024x1024").
	Size string `json:"size" yaml:"size"`
}

// PipelineConfig groups all stage configurations.
type PipelineConfig struct {
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Schema     SchemaConfig     `json:"schema" yaml:"schema"`
	Provenance ProvenanceConfig `json:"provenance" yaml:"provenance"`
	KB         KBConfig         `json:"kb" yaml:"kb"`
	LLM        LLMConfig        `json:"llm" yaml:"llm"`
	Refine     RefineConfig     `json:"refine" yaml:"refine"`
	Visual     VisualConfig     `json:"visual" yaml:"visual"`

	// AutoAccept promotes candidates that pass both validators without
	// human review. Default false: every triplet needs explicit acceptance.
	AutoAccept bool `json:"auto_accept" yaml:"auto_accept"`

	// MaxConcurrentSources bounds parallel pipeline runs in batch mode
	// (default 2). Stages within one session always run sequentially.
	MaxConcurrentSources int `json:"max_concurrent_sources" yaml:"max_concurrent_sources"`
}
