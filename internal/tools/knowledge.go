package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dawos/agent/internal/knowledge"
)

const (
	searchTopK       = 3
	contextualTopK   = 5
	interventionTopK = 2
)

// SearchKnowledge returns top-k passages; k <= 0 selects the default of 3.
func SearchKnowledge(r knowledge.Retriever, k int) Tool {
	if k <= 0 {
		k = searchTopK
	}
	return Tool{
		Name:        "search_neurotherapeutic_knowledge",
		Description: "Searches the academic neurotherapy knowledge base and returns cited passages.",
		Example:     "binaural beats anxiety research",
		Run: func(ctx context.Context, input string) (string, error) {
			res, err := r.Retrieve(ctx, input, k)
			if err != nil {
				return "", err
			}
			if res == knowledge.NoResults {
				return res, nil
			}
			return "Academic Research Results:\n" + res, nil
		},
	}
}

type contextualInput struct {
	Query       string         `json:"query"`
	UserContext map[string]any `json:"user_context"`
}

func SearchContextualResearch(r knowledge.Retriever) Tool {
	return Tool{
		Name:        "search_contextual_research",
		Description: `Research search that takes the user's context into account. Input is JSON {"query": ..., "user_context": {...}} or plain text.`,
		Example:     `{"query": "early anxiety intervention", "user_context": {"history": "responds_well_to_alpha"}}`,
		Run: func(ctx context.Context, input string) (string, error) {
			query, userCtx := input, map[string]any(nil)
			var in contextualInput
			if json.Unmarshal([]byte(input), &in) == nil && strings.TrimSpace(in.Query) != "" {
				query, userCtx = strings.TrimSpace(in.Query), in.UserContext
			}

			enhanced := query
			if len(userCtx) > 0 {
				enhanced = query + " considering user context: " + joinContext(userCtx)
			}
			res, err := r.Retrieve(ctx, enhanced, contextualTopK)
			if err != nil {
				return "", err
			}
			if res == knowledge.NoResults {
				return "No contextual research found for: " + query, nil
			}
			return fmt.Sprintf("Contextual Research Results for '%s':\n%s", query, res), nil
		},
	}
}

// joinContext renders "k: v" pairs in key order.
func joinContext(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, m[k]))
	}
	return strings.Join(parts, " ")
}

type interventionInput struct {
	EmotionPattern string         `json:"emotion_pattern"`
	UserProfile    map[string]any `json:"user_profile"`
}

func FindInterventionResearch(r knowledge.Retriever) Tool {
	return Tool{
		Name:        "find_optimal_intervention_research",
		Description: `Finds intervention protocol, frequency and timing research for an emotion pattern. Input is JSON {"emotion_pattern": ..., "user_profile": {...}} or the pattern as text.`,
		Example:     `{"emotion_pattern": "increasing_anxiety", "user_profile": {"response_history": "positive_alpha"}}`,
		Run: func(ctx context.Context, input string) (string, error) {
			pattern := input
			var in interventionInput
			if err := json.Unmarshal([]byte(input), &in); err == nil {
				pattern = strings.TrimSpace(in.EmotionPattern)
				if pattern == "" {
					pattern = "anxiety"
				}
			}

			queries := []string{
				pattern + " intervention protocols",
				pattern + " frequency therapy research",
				"optimal timing " + pattern + " treatment",
			}
			var found []string
			for _, q := range queries {
				res, err := r.Retrieve(ctx, q, interventionTopK)
				if err != nil {
					return "", err
				}
				if res != knowledge.NoResults {
					found = append(found, res)
				}
			}
			if len(found) == 0 {
				return "No intervention research found for emotion pattern: " + pattern, nil
			}
			return fmt.Sprintf("Optimal Intervention Research for '%s':\n%s", pattern, strings.Join(found, "\n---\n")), nil
		},
	}
}
