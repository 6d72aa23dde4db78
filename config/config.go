// Package config loads and validates the application's typed configuration document.
// A single YAML document (or equivalent environment overlay via viper) carries the
// sections described in the external interfaces design: server, neo4j, hooks, retention,
// query, task, llm, embeddings, atom, output, ontology, logging, deps.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envOrEmpty looks up an environment variable directly, bypassing viper's own binding
// (the "<name>_env" indirection names an arbitrary environment variable, not one of
// viper's own keys).
func envOrEmpty(name string) string {
	return os.Getenv(name)
}

// ResolveString implements the "<name>"/"<name>_env" fallback convention for a
// top-level (non-sectioned) key: if the direct value is set and non-blank it wins,
// otherwise the environment variable named by "<name>_env" is consulted.
func ResolveString(v *viper.Viper, key string) string {
	if direct := strings.TrimSpace(v.GetString(key)); direct != "" {
		return direct
	}
	envKey := v.GetString(key + "_env")
	if envKey == "" {
		return ""
	}
	return strings.TrimSpace(envOrEmpty(envKey))
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host             string
	Port             int
	CORSAllowOrigins []string
	APIKey           string
	GraphName        string
}

// Neo4jConfig configures the graph database connection.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// RetryConfig mirrors retry.Policy for a single provider.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoffS   float64
	MaxBackoffS       float64
	BackoffMultiplier float64
}

// RateLimitConfig mirrors ratelimit.New's parameters for a single provider.
type RateLimitConfig struct {
	RPM int
	TPM int
}

// ConcurrencyConfig bounds in-flight calls to a single provider.
type ConcurrencyConfig struct {
	MaxInFlight int
}

// BatchConfig bounds the throttled parser's context-batching contract: inputs
// to a structured-extraction call are partitioned into groups under both an
// element-count and a token-sum limit, each group acquiring the rate limiter
// once; a request with more inputs than MaxPendingRequests is rejected before
// any provider call, mirroring ThrottledLangchainOutputParser's batching knobs
// (max_elements_per_batch, max_tokens_per_batch, max_pending_requests,
// sleep_between_batches).
type BatchConfig struct {
	MaxElementsPerBatch  int
	MaxTokensPerBatch    int
	MaxPendingRequests   int
	SleepBetweenBatchesS float64
}

// LLMConfig configures the structured-extraction provider.
type LLMConfig struct {
	APIKey            string
	APIBaseURL        string
	Model             string
	MaxTokens         int
	Temperature       float64
	MaxRetries        int
	RateLimit         RateLimitConfig
	Concurrency       ConcurrencyConfig
	Retry             RetryConfig
	RepetitionPenalty float64
	Batch             BatchConfig
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	RateLimit   RateLimitConfig
	Concurrency ConcurrencyConfig
	Retry       RetryConfig
}

// HooksConfig selects and parameterizes the C7 source hooks provider.
type HooksConfig struct {
	Kind             string // "static" or "http"
	FullURL          string
	IncrementalURL   string
	ConnectionString string
	TableName        string
}

// RetentionConfig configures cleanup_old_versions.
type RetentionConfig struct {
	MaxVersions   int
	EnableCleanup bool
}

// QueryConfig configures default/maximum bounds for the /kg/query endpoint.
type QueryConfig struct {
	DefaultLimitNodes int
	DefaultLimitEdges int
	DefaultDepth      int
	MaxDepth          int
	MaxSeedNodes      int
}

// TaskConfig configures process-wide task-level conventions.
type TaskConfig struct {
	TimeoutS int
}

// AtomConfig is the typed replacement for the dynamic cfg.raw["atom"] bag: the graph
// build parameters from the component design table.
type AtomConfig struct {
	EntThreshold           float64
	RelThreshold           float64
	EntityNameWeight       float64
	EntityLabelWeight      float64
	MaxWorkers             int
	EntityNameMode         string // "source" or "embedding"; derives RequireSameEntityLabel
	RelationNameMode       string // "source" or anything else; derives RenameRelationshipByEmbedding
	EntityLabelAllowlist   []string
	EntityLabelAliases     map[string]string
	UnknownEntityLabel     string
	DropUnknownEntityLabel bool
	RelationFallbackName   string
}

// RequireSameEntityLabel derives the build-time merge rule from EntityNameMode.
func (a AtomConfig) RequireSameEntityLabel() bool { return a.EntityNameMode == "source" }

// RenameRelationshipByEmbedding derives the build-time rename rule from RelationNameMode.
func (a AtomConfig) RenameRelationshipByEmbedding() bool { return a.RelationNameMode != "source" }

// OutputConfig is the typed replacement for cfg.raw["output"].
type OutputConfig struct {
	Language string
}

// OntologyConfig is the typed replacement for cfg.raw["ontology"] (reserved for
// future entity/relation schema constraints beyond the allowlist/aliases above).
type OntologyConfig struct {
	SchemaPath string
}

// LoggingConfig configures the ambient logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// DepsConfig configures the auxiliary (non-core) dependencies: the query cache and
// metrics endpoint.
type DepsConfig struct {
	RedisURL       string
	CacheTTL       time.Duration
	MetricsEnabled bool
}

// AppConfig is the complete, typed configuration document.
type AppConfig struct {
	Server     ServerConfig
	Neo4j      Neo4jConfig
	Hooks      HooksConfig
	Retention  RetentionConfig
	Query      QueryConfig
	Task       TaskConfig
	LLM        LLMConfig
	Embeddings EmbeddingsConfig
	Atom       AtomConfig
	Output     OutputConfig
	Ontology   OntologyConfig
	Logging    LoggingConfig
	Deps       DepsConfig
}

// SetDefaults installs the documented defaults onto v before Load/Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8021)
	v.SetDefault("server.cors_allow_origins", []string{"*"})
	v.SetDefault("server.graph_name", "default")

	v.SetDefault("retention.max_versions", 10)
	v.SetDefault("retention.enable_cleanup", true)

	v.SetDefault("query.default_limit_nodes", 500)
	v.SetDefault("query.default_limit_edges", 1000)
	v.SetDefault("query.default_depth", 2)
	v.SetDefault("query.max_depth", 5)
	v.SetDefault("query.max_seed_nodes", 30)

	v.SetDefault("task.timeout_s", 0)

	v.SetDefault("hooks.kind", "static")

	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.retry.initial_backoff_s", 1.0)
	v.SetDefault("llm.retry.max_backoff_s", 30.0)
	v.SetDefault("llm.retry.backoff_multiplier", 2.0)
	v.SetDefault("llm.batch.max_elements_per_batch", 20)
	v.SetDefault("llm.batch.max_tokens_per_batch", 8000)
	v.SetDefault("llm.batch.max_pending_requests", 500)
	v.SetDefault("llm.batch.sleep_between_batches_s", 0.0)

	v.SetDefault("embeddings.retry.initial_backoff_s", 1.0)
	v.SetDefault("embeddings.retry.max_backoff_s", 30.0)
	v.SetDefault("embeddings.retry.backoff_multiplier", 2.0)

	v.SetDefault("atom.ent_threshold", 0.8)
	v.SetDefault("atom.rel_threshold", 0.7)
	v.SetDefault("atom.entity_name_weight", 0.8)
	v.SetDefault("atom.entity_label_weight", 0.2)
	v.SetDefault("atom.max_workers", 8)
	v.SetDefault("atom.entity_name_mode", "embedding")
	v.SetDefault("atom.relation_name_mode", "embedding")
	v.SetDefault("atom.unknown_entity_label", "unknown")
	v.SetDefault("atom.drop_unknown_entity_label", false)
	v.SetDefault("atom.relation_fallback_name", "related_to")

	v.SetDefault("output.language", "zh")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("deps.cache_ttl", "30s")
	v.SetDefault("deps.metrics_enabled", true)
}

func resolveSection(v *viper.Viper, section, key string) string {
	direct := strings.TrimSpace(v.GetString(section + "." + key))
	if direct != "" {
		return direct
	}
	envKey := v.GetString(section + "." + key + "_env")
	if envKey == "" {
		return ""
	}
	return strings.TrimSpace(envOrEmpty(envKey))
}

// Load reads v's bound config (file + env) into a typed AppConfig and validates it.
func Load(v *viper.Viper) (*AppConfig, error) {
	cfg := &AppConfig{
		Server: ServerConfig{
			Host:             v.GetString("server.host"),
			Port:             v.GetInt("server.port"),
			CORSAllowOrigins: v.GetStringSlice("server.cors_allow_origins"),
			APIKey:           resolveSection(v, "server", "api_key"),
			GraphName:        v.GetString("server.graph_name"),
		},
		Neo4j: Neo4jConfig{
			URI:      resolveSection(v, "neo4j", "uri"),
			Username: resolveSection(v, "neo4j", "username"),
			Password: resolveSection(v, "neo4j", "password"),
			Database: resolveSection(v, "neo4j", "database"),
		},
		Hooks: HooksConfig{
			Kind:             v.GetString("hooks.kind"),
			FullURL:          resolveSection(v, "hooks", "full_url"),
			IncrementalURL:   resolveSection(v, "hooks", "incremental_url"),
			ConnectionString: resolveSection(v, "hooks", "connection_string"),
			TableName:        resolveSection(v, "hooks", "table_name"),
		},
		Retention: RetentionConfig{
			MaxVersions:   v.GetInt("retention.max_versions"),
			EnableCleanup: v.GetBool("retention.enable_cleanup"),
		},
		Query: QueryConfig{
			DefaultLimitNodes: v.GetInt("query.default_limit_nodes"),
			DefaultLimitEdges: v.GetInt("query.default_limit_edges"),
			DefaultDepth:      v.GetInt("query.default_depth"),
			MaxDepth:          v.GetInt("query.max_depth"),
			MaxSeedNodes:      v.GetInt("query.max_seed_nodes"),
		},
		Task: TaskConfig{TimeoutS: v.GetInt("task.timeout_s")},
		LLM: LLMConfig{
			APIKey:            resolveSection(v, "llm", "api_key"),
			APIBaseURL:        resolveSection(v, "llm", "api_base_url"),
			Model:             v.GetString("llm.model"),
			MaxTokens:         v.GetInt("llm.max_tokens"),
			Temperature:       v.GetFloat64("llm.temperature"),
			MaxRetries:        v.GetInt("llm.max_retries"),
			RepetitionPenalty: v.GetFloat64("llm.repetition_penalty"),
			RateLimit: RateLimitConfig{
				RPM: v.GetInt("llm.rate_limit.rpm"),
				TPM: v.GetInt("llm.rate_limit.tpm"),
			},
			Concurrency: ConcurrencyConfig{MaxInFlight: v.GetInt("llm.concurrency.max_in_flight")},
			Retry: RetryConfig{
				MaxRetries:        v.GetInt("llm.retry.max_retries"),
				InitialBackoffS:   v.GetFloat64("llm.retry.initial_backoff_s"),
				MaxBackoffS:       v.GetFloat64("llm.retry.max_backoff_s"),
				BackoffMultiplier: v.GetFloat64("llm.retry.backoff_multiplier"),
			},
			Batch: BatchConfig{
				MaxElementsPerBatch:  v.GetInt("llm.batch.max_elements_per_batch"),
				MaxTokensPerBatch:    v.GetInt("llm.batch.max_tokens_per_batch"),
				MaxPendingRequests:   v.GetInt("llm.batch.max_pending_requests"),
				SleepBetweenBatchesS: v.GetFloat64("llm.batch.sleep_between_batches_s"),
			},
		},
		Embeddings: EmbeddingsConfig{
			APIKey:     resolveSection(v, "embeddings", "api_key"),
			APIBaseURL: resolveSection(v, "embeddings", "api_base_url"),
			Model:      v.GetString("embeddings.model"),
			RateLimit: RateLimitConfig{
				RPM: v.GetInt("embeddings.rate_limit.rpm"),
				TPM: v.GetInt("embeddings.rate_limit.tpm"),
			},
			Concurrency: ConcurrencyConfig{MaxInFlight: v.GetInt("embeddings.concurrency.max_in_flight")},
			Retry: RetryConfig{
				MaxRetries:        v.GetInt("embeddings.retry.max_retries"),
				InitialBackoffS:   v.GetFloat64("embeddings.retry.initial_backoff_s"),
				MaxBackoffS:       v.GetFloat64("embeddings.retry.max_backoff_s"),
				BackoffMultiplier: v.GetFloat64("embeddings.retry.backoff_multiplier"),
			},
		},
		Atom: AtomConfig{
			EntThreshold:           v.GetFloat64("atom.ent_threshold"),
			RelThreshold:           v.GetFloat64("atom.rel_threshold"),
			EntityNameWeight:       v.GetFloat64("atom.entity_name_weight"),
			EntityLabelWeight:      v.GetFloat64("atom.entity_label_weight"),
			MaxWorkers:             v.GetInt("atom.max_workers"),
			EntityNameMode:         v.GetString("atom.entity_name_mode"),
			RelationNameMode:       v.GetString("atom.relation_name_mode"),
			EntityLabelAllowlist:   v.GetStringSlice("atom.entity_label_allowlist"),
			EntityLabelAliases:     v.GetStringMapString("atom.entity_label_aliases"),
			UnknownEntityLabel:     v.GetString("atom.unknown_entity_label"),
			DropUnknownEntityLabel: v.GetBool("atom.drop_unknown_entity_label"),
			RelationFallbackName:   v.GetString("atom.relation_fallback_name"),
		},
		Output:   OutputConfig{Language: v.GetString("output.language")},
		Ontology: OntologyConfig{SchemaPath: v.GetString("ontology.schema_path")},
		Logging: LoggingConfig{
			Level:  v.GetString("logging.level"),
			Format: v.GetString("logging.format"),
		},
		Deps: DepsConfig{
			RedisURL:       resolveSection(v, "deps", "redis_url"),
			CacheTTL:       v.GetDuration("deps.cache_ttl"),
			MetricsEnabled: v.GetBool("deps.metrics_enabled"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *AppConfig) error {
	validator := NewValidator()

	validator.RequirePositiveInt("server.port", cfg.Server.Port)
	validator.RequireString("server.api_key", cfg.Server.APIKey)
	validator.RequireString("server.graph_name", cfg.Server.GraphName)

	validator.RequireURL("neo4j.uri", schemeRelax(cfg.Neo4j.URI))
	validator.RequireString("neo4j.username", cfg.Neo4j.Username)
	validator.RequireString("neo4j.password", cfg.Neo4j.Password)

	validator.RequireOneOf("hooks.kind", cfg.Hooks.Kind, []string{"static", "http"})

	validator.RequireString("llm.api_key", cfg.LLM.APIKey)
	validator.RequireString("llm.model", cfg.LLM.Model)
	validator.RequirePositiveInt("llm.batch.max_elements_per_batch", cfg.LLM.Batch.MaxElementsPerBatch)
	validator.RequirePositiveInt("llm.batch.max_tokens_per_batch", cfg.LLM.Batch.MaxTokensPerBatch)

	validator.RequireString("embeddings.api_key", cfg.Embeddings.APIKey)
	validator.RequireString("embeddings.model", cfg.Embeddings.Model)

	return validator.Validate()
}

// schemeRelax accepts Neo4j's bolt/neo4j schemes in addition to http(s) for RequireURL.
func schemeRelax(uri string) string {
	for _, scheme := range []string{"bolt://", "bolt+s://", "bolt+ssc://", "neo4j://", "neo4j+s://", "neo4j+ssc://", "http://", "https://"} {
		if strings.HasPrefix(uri, scheme) {
			return "http://placeholder"
		}
	}
	return uri
}

// Validator provides configuration validation utilities (kept from the teacher's
// env-prefix config loader; reused unchanged against the new typed AppConfig).
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// RequireString validates that a string field is not empty.
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequireInt validates that an integer field is within range.
func (v *Validator) RequireInt(field string, value, min, max int) {
	if value < min || value > max {
		v.errors = append(v.errors, fmt.Sprintf("%s must be between %d and %d", field, min, max))
	}
}

// RequirePositiveInt validates that an integer field is positive.
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireURL validates that a string is a non-empty URL-shaped value.
func (v *Validator) RequireURL(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	if !strings.Contains(value, "://") {
		v.errors = append(v.errors, fmt.Sprintf("%s must be a valid URL", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options.
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors.
func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

// Errors returns all validation errors.
func (v *Validator) Errors() []string { return v.errors }

// ErrorString returns all validation errors as a single string.
func (v *Validator) ErrorString() string {
	if len(v.errors) == 0 {
		return ""
	}
	return strings.Join(v.errors, "; ")
}

// Validate runs validation and returns an error if invalid.
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", v.ErrorString())
	}
	return nil
}
