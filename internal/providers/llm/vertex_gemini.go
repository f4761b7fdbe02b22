package llm

import (
	"context"
	"errors"
	"strings"

	vertexgenai "cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"

	"github.com/dawos/agent/internal/models"
)

type VertexGemini struct {
	client    *vertexgenai.Client
	modelName string
}

func NewVertexGemini(ctx context.Context, projectID, location, modelName string, opts ...option.ClientOption) (*VertexGemini, error) {
	c, err := vertexgenai.NewClient(ctx, projectID, location, opts...)
	if err != nil {
		return nil, err
	}

	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &VertexGemini{client: c, modelName: modelName}, nil
}

func (v *VertexGemini) Close() error { return v.client.Close() }

// Complete maps system turns to the system instruction and replays the
// rest as chat history. The model is built per call since it carries the
// per-transcript instruction.
func (v *VertexGemini) Complete(ctx context.Context, turns []models.Turn, p Params) (string, error) {
	system, history, last := splitTranscript(turns)
	if last == "" {
		return "", errors.New("vertex: transcript has no user turn to answer")
	}

	m := v.client.GenerativeModel(v.modelName)
	if system != "" {
		m.SystemInstruction = &vertexgenai.Content{Parts: []vertexgenai.Part{vertexgenai.Text(system)}}
	}
	m.SetTemperature(float32(p.Temperature))
	if p.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(p.MaxTokens))
	}

	return withRetry(ctx, func(ctx context.Context) (string, error) {
		cs := m.StartChat()
		cs.History = history
		resp, err := cs.SendMessage(ctx, vertexgenai.Text(last))
		if err != nil {
			return "", err
		}
		return responseText(resp), nil
	})
}

type geminiTurn struct {
	role string
	text string
}

// splitTranscript joins system turns, merges consecutive same-role turns
// (Gemini requires alternation) and returns the trailing user text apart.
func splitTranscript(turns []models.Turn) (string, []*vertexgenai.Content, string) {
	var sys []string
	var merged []geminiTurn
	for _, t := range turns {
		if t.Role == models.RoleSystem {
			sys = append(sys, t.Content)
			continue
		}
		role := "user"
		if t.Role == models.RoleAssistant {
			role = "model"
		}
		if n := len(merged); n > 0 && merged[n-1].role == role {
			merged[n-1].text += "\n\n" + t.Content
			continue
		}
		merged = append(merged, geminiTurn{role: role, text: t.Content})
	}

	var last string
	if n := len(merged); n > 0 && merged[n-1].role == "user" {
		last = merged[n-1].text
		merged = merged[:n-1]
	}

	history := make([]*vertexgenai.Content, 0, len(merged))
	for _, g := range merged {
		history = append(history, &vertexgenai.Content{
			Role:  g.role,
			Parts: []vertexgenai.Part{vertexgenai.Text(g.text)},
		})
	}
	return strings.Join(sys, "\n\n"), history, last
}

func responseText(resp *vertexgenai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(vertexgenai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String()
}
