package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dawos/agent/internal/agent"
	"github.com/dawos/agent/internal/providers/llm"
	"github.com/dawos/agent/internal/utils"
)

// AgentConfig holds the agent and pipeline knobs. Values come from
// defaults, then AGENT_CONFIG_FILE (YAML), then environment variables.
type AgentConfig struct {
	Provider       string `yaml:"provider"` // openai | vertex
	Model          string `yaml:"model"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"-"`
	VertexProject  string `yaml:"vertex_project"`
	VertexLocation string `yaml:"vertex_location"`

	EmbeddingModel  string `yaml:"embedding_model"`
	EmbeddingAPIKey string `yaml:"-"`
	KnowledgeTopK   int    `yaml:"knowledge_top_k"`

	MaxTurns             int           `yaml:"max_turns"`
	MaxErrors            int           `yaml:"max_errors"`
	ContextCeilingTokens int           `yaml:"context_ceiling_tokens"`
	KeepRecentTurns      int           `yaml:"keep_recent_turns"`
	SummaryItems         int           `yaml:"summary_items"`
	CompletionTimeout    time.Duration `yaml:"completion_timeout"`
	MaxOutputTokens      int           `yaml:"max_output_tokens"`
	Temperature          float64       `yaml:"temperature"`

	WorkerPoolSize int           `yaml:"worker_pool_size"`
	FrameStream    string        `yaml:"frame_stream"`
	FrameGroup     string        `yaml:"frame_group"`
	FrameConsumers int           `yaml:"frame_consumers"`
	FrameTTL       time.Duration `yaml:"frame_ttl"`

	ArchiveBucket string `yaml:"archive_bucket"`
	ArchivePrefix string `yaml:"archive_prefix"`
}

func DefaultAgentConfig() AgentConfig {
	comp := agent.DefaultCompactor()
	return AgentConfig{
		Provider:             "openai",
		Model:                "llama-3.1-8b-instant",
		BaseURL:              "https://api.groq.com/openai/v1",
		VertexLocation:       "us-central1",
		EmbeddingModel:       "text-embedding-3-small",
		KnowledgeTopK:        3,
		MaxTurns:             5,
		MaxErrors:            2,
		ContextCeilingTokens: comp.CeilingTokens,
		KeepRecentTurns:      comp.KeepRecent,
		SummaryItems:         comp.MaxSummaryItems,
		CompletionTimeout:    60 * time.Second,
		MaxOutputTokens:      800,
		Temperature:          0,
		WorkerPoolSize:       4,
		FrameStream:          "emotion:frames",
		FrameGroup:           "frame-workers",
		FrameConsumers:       2,
		FrameTTL:             24 * time.Hour,
		ArchivePrefix:        "agent-runs",
	}
}

// LoadAgentConfig reads AGENT_CONFIG_FILE and the environment.
func LoadAgentConfig() (*AgentConfig, error) {
	return loadAgentConfig(os.Getenv)
}

func loadAgentConfig(getenv func(string) string) (*AgentConfig, error) {
	const op = "config.LoadAgentConfig"

	cfg := DefaultAgentConfig()
	if path := getenv("AGENT_CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "cannot read agent config file", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, utils.E(utils.CodeInvalidArgument, op, "malformed agent config file", err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid environment override", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "invalid agent config", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *AgentConfig, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("AGENT_PROVIDER", &cfg.Provider)
	str("AGENT_MODEL", &cfg.Model)
	str("AGENT_BASE_URL", &cfg.BaseURL)
	str("GROQ_API_KEY", &cfg.APIKey)
	str("LLM_API_KEY", &cfg.APIKey)
	str("GCP_PROJECT_ID", &cfg.VertexProject)
	str("GCP_LOCATION", &cfg.VertexLocation)

	str("EMBEDDING_MODEL", &cfg.EmbeddingModel)
	str("OPENAI_API_KEY", &cfg.EmbeddingAPIKey)
	str("EMBEDDING_API_KEY", &cfg.EmbeddingAPIKey)
	num("KNOWLEDGE_TOP_K", &cfg.KnowledgeTopK)

	num("AGENT_MAX_TURNS", &cfg.MaxTurns)
	num("AGENT_MAX_ERRORS", &cfg.MaxErrors)
	num("AGENT_CONTEXT_CEILING", &cfg.ContextCeilingTokens)
	num("AGENT_KEEP_RECENT", &cfg.KeepRecentTurns)
	num("AGENT_SUMMARY_ITEMS", &cfg.SummaryItems)
	dur("AGENT_COMPLETION_TIMEOUT", &cfg.CompletionTimeout)
	num("AGENT_MAX_OUTPUT_TOKENS", &cfg.MaxOutputTokens)
	if v := strings.TrimSpace(getenv("AGENT_TEMPERATURE")); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("AGENT_TEMPERATURE: %w", err))
		} else {
			cfg.Temperature = f
		}
	}

	num("WORKER_POOL_SIZE", &cfg.WorkerPoolSize)
	str("FRAME_STREAM", &cfg.FrameStream)
	str("FRAME_GROUP", &cfg.FrameGroup)
	num("FRAME_CONSUMERS", &cfg.FrameConsumers)
	dur("FRAME_TTL", &cfg.FrameTTL)

	str("ARCHIVE_BUCKET", &cfg.ArchiveBucket)
	str("ARCHIVE_PREFIX", &cfg.ArchivePrefix)

	return errors.Join(errs...)
}

func (c AgentConfig) Validate() error {
	var errs []error
	switch c.Provider {
	case "openai":
	case "vertex":
		if c.VertexProject == "" {
			errs = append(errs, errors.New("vertex provider needs GCP_PROJECT_ID"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q (want openai or vertex)", c.Provider))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"max_turns", c.MaxTurns},
		{"max_errors", c.MaxErrors},
		{"context_ceiling_tokens", c.ContextCeilingTokens},
		{"keep_recent_turns", c.KeepRecentTurns},
		{"summary_items", c.SummaryItems},
		{"max_output_tokens", c.MaxOutputTokens},
		{"worker_pool_size", c.WorkerPoolSize},
		{"frame_consumers", c.FrameConsumers},
		{"knowledge_top_k", c.KnowledgeTopK},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", f.name, f.v))
		}
	}
	if c.CompletionTimeout <= 0 {
		errs = append(errs, errors.New("completion_timeout must be positive"))
	}
	if c.FrameTTL <= 0 {
		errs = append(errs, errors.New("frame_ttl must be positive"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %.2f out of range [0,2]", c.Temperature))
	}
	return errors.Join(errs...)
}

// Controller maps the knobs onto the controller configuration.
func (c AgentConfig) Controller() agent.Config {
	comp := agent.DefaultCompactor()
	comp.CeilingTokens = c.ContextCeilingTokens
	comp.KeepRecent = c.KeepRecentTurns
	comp.MaxSummaryItems = c.SummaryItems
	return agent.Config{
		MaxTurns:          c.MaxTurns,
		MaxErrors:         c.MaxErrors,
		CompletionTimeout: c.CompletionTimeout,
		Generation:        llm.Params{Temperature: c.Temperature, MaxTokens: c.MaxOutputTokens},
		Compaction:        comp,
	}
}
