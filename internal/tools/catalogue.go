package tools

import (
	"time"

	"github.com/dawos/agent/internal/knowledge"
	"github.com/dawos/agent/internal/services"
)

type Deps struct {
	Knowledge knowledge.Retriever
	Buffer    services.BufferService
	Sessions  services.SessionService
	Now       func() time.Time

	// SearchTopK sets top_k for search_neurotherapeutic_knowledge.
	SearchTopK int
}

// Catalogue returns the full tool set in prompt order. Knowledge tools are
// left out when no retriever is configured.
func Catalogue(d Deps) []Tool {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	list := []Tool{Calculator()}
	if d.Knowledge != nil {
		list = append(list,
			SearchKnowledge(d.Knowledge, d.SearchTopK),
			SearchContextualResearch(d.Knowledge),
			FindInterventionResearch(d.Knowledge),
		)
	}
	list = append(list,
		AddFrame(d.Buffer, now),
		AnalyzeMinute(d.Buffer),
		RecordSummary(d.Buffer),
		StartSession(d.Sessions),
		SessionProgress(d.Sessions),
		EndSession(d.Sessions),
		SessionHistory(d.Sessions),
		ProblemPatterns(d.Sessions),
	)
	return list
}

func NewDefaultRegistry(d Deps) (*Registry, error) {
	return NewRegistry(Catalogue(d)...)
}
