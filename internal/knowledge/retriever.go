package knowledge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dawos/agent/internal/cache"
	"github.com/dawos/agent/internal/providers/embedding"
	"github.com/dawos/agent/internal/repositories/postgres"
	"github.com/dawos/agent/internal/utils"
)

// NoResults is returned, without error, when nothing matches.
const NoResults = "No relevant information found in the knowledge base."

const separator = "=================================================="

// Retriever answers (query, top_k) with one formatted text blob.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) (string, error)
}

type vectorRetriever struct {
	repo     postgres.KnowledgeRepo
	embedder embedding.Embedder
	cache    cache.Cache
	ttl      time.Duration
	log      *logrus.Logger
}

func NewRetriever(repo postgres.KnowledgeRepo, embedder embedding.Embedder, c cache.Cache, ttl time.Duration, log *logrus.Logger) Retriever {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if log == nil {
		log = logrus.New()
	}
	return &vectorRetriever{repo: repo, embedder: embedder, cache: c, ttl: ttl, log: log}
}

func (r *vectorRetriever) Retrieve(ctx context.Context, query string, topK int) (string, error) {
	const op = "Retriever.Retrieve"
	query = strings.TrimSpace(query)
	if query == "" {
		return "", utils.E(utils.CodeInvalidArgument, op, "query is required", nil)
	}
	if topK <= 0 {
		topK = 3
	}

	key := cache.Key("kb", query, strconv.Itoa(topK))
	return cache.Load(ctx, r.cache, key, r.ttl, func(ctx context.Context) (string, error) {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return "", utils.E(utils.CodeUnavailable, op, "embedding failed", err)
		}
		chunks, err := r.repo.Search(ctx, vec, topK)
		if err != nil {
			return "", utils.E(utils.CodeUnavailable, op, "vector search failed", err)
		}
		r.log.WithFields(logrus.Fields{"query": query, "hits": len(chunks)}).Debug("knowledge search")
		return Format(query, chunks), nil
	})
}

// Format renders ranked chunks with a relevance label and citation each.
func Format(query string, chunks []postgres.ScoredChunk) string {
	if len(chunks) == 0 {
		return NoResults
	}
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		source := c.SourceReference
		if source == "" {
			source = "Source: " + fallback(c.DocumentID, "unknown")
		}
		section := c.ChunkIndex + 1
		if c.ChunkIndex < 0 {
			section = i + 1
		}
		parts = append(parts, fmt.Sprintf("%s (%.2f)\n[%s, Section %d]\n%s",
			RelevanceLabel(c.Similarity), c.Similarity, source, section, strings.TrimSpace(c.Content)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ACADEMIC RESEARCH RESULTS (%d sources found for: '%s'):\n\n", len(chunks), query)
	b.WriteString(separator)
	b.WriteString("\n")
	b.WriteString(strings.Join(parts, "\n\n"))
	b.WriteString("\n")
	b.WriteString(separator)
	return b.String()
}

func RelevanceLabel(similarity float64) string {
	switch {
	case similarity > 0.8:
		return "HIGH RELEVANCE"
	case similarity > 0.6:
		return "MODERATE RELEVANCE"
	default:
		return "LOW RELEVANCE"
	}
}

func fallback(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
