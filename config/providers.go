package config

import (
	"context"
	"fmt"

	"github.com/dawos/agent/internal/providers/embedding"
	"github.com/dawos/agent/internal/providers/llm"
)

// NewLLMProvider builds the completion client selected by c.Provider.
func NewLLMProvider(ctx context.Context, c AgentConfig) (llm.Provider, error) {
	switch c.Provider {
	case "openai":
		p, err := llm.NewOpenAI(c.APIKey, c.BaseURL, c.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "vertex":
		p, err := llm.NewVertexGemini(ctx, c.VertexProject, c.VertexLocation, c.Model)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", c.Provider)
	}
}

// NewEmbedder returns nil without error when no embedding key is configured;
// knowledge tools are then left out of the catalogue.
func NewEmbedder(c AgentConfig) (embedding.Embedder, error) {
	if c.EmbeddingAPIKey == "" {
		return nil, nil
	}
	e, err := embedding.NewOpenAI(c.EmbeddingAPIKey, "", c.EmbeddingModel)
	if err != nil {
		return nil, err
	}
	return e, nil
}
