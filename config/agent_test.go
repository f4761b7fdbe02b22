package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dawos/agent/internal/utils"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadAgentConfigDefaults(t *testing.T) {
	cfg, err := loadAgentConfig(envMap(nil))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxTurns != 5 || cfg.MaxErrors != 2 || cfg.CompletionTimeout != 60*time.Second || cfg.MaxOutputTokens != 800 {
		t.Fatalf("defaults: %+v", cfg)
	}
	ac := cfg.Controller()
	if ac.Compaction.CeilingTokens != 8000 || ac.Compaction.KeepRecent != 6 || ac.Compaction.MaxSummaryItems != 10 {
		t.Fatalf("compaction: %+v", ac.Compaction)
	}
	if ac.Generation.Temperature != 0 || ac.Generation.MaxTokens != 800 {
		t.Fatalf("generation: %+v", ac.Generation)
	}
}

func TestLoadAgentConfigLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	yml := "provider: openai\nmodel: from-file\nmax_turns: 7\ncompletion_timeout: 30s\nworker_pool_size: 8\n"
	if err := os.WriteFile(path, []byte(yml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadAgentConfig(envMap(map[string]string{
		"AGENT_CONFIG_FILE": path,
		"AGENT_MODEL":       "from-env",
		"LLM_API_KEY":       "secret",
		"FRAME_TTL":         "2h",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "from-env" {
		t.Fatalf("env should override file: %s", cfg.Model)
	}
	if cfg.MaxTurns != 7 || cfg.CompletionTimeout != 30*time.Second || cfg.WorkerPoolSize != 8 {
		t.Fatalf("file values: %+v", cfg)
	}
	if cfg.APIKey != "secret" || cfg.FrameTTL != 2*time.Hour {
		t.Fatalf("env values: %+v", cfg)
	}
	if cfg.KeepRecentTurns != 6 {
		t.Fatalf("untouched default changed: %d", cfg.KeepRecentTurns)
	}
}

func TestLoadAgentConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown provider", map[string]string{"AGENT_PROVIDER": "bedrock"}, "unknown provider"},
		{"vertex without project", map[string]string{"AGENT_PROVIDER": "vertex"}, "GCP_PROJECT_ID"},
		{"zero turns", map[string]string{"AGENT_MAX_TURNS": "0"}, "max_turns"},
		{"non numeric", map[string]string{"WORKER_POOL_SIZE": "four"}, "WORKER_POOL_SIZE"},
		{"bad duration", map[string]string{"AGENT_COMPLETION_TIMEOUT": "soon"}, "AGENT_COMPLETION_TIMEOUT"},
		{"hot temperature", map[string]string{"AGENT_TEMPERATURE": "3"}, "temperature"},
		{"missing file", map[string]string{"AGENT_CONFIG_FILE": "/nonexistent/agent.yaml"}, "cannot read"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadAgentConfig(envMap(tc.env))
			if !utils.IsCode(err, utils.CodeInvalidArgument) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("want INVALID_ARGUMENT mentioning %q, got %v", tc.want, err)
			}
		})
	}
}
