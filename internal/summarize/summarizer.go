// Package summarize produces the end-of-call summary and intent
// classification with a one-shot LLM request.
package summarize

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// Result is the JSON-shaped response of the summarization request.
type Result struct {
	Summary string `json:"summary"`
	Intent  string `json:"intent"`
}

// Summarizer turns a rendered transcript into a summary and an intent label
// from a fixed closed set.
type Summarizer interface {
	Summarize(ctx context.Context, transcriptText string) (Result, error)
}

const systemInstruction = "You summarize finished support phone calls. " +
	"Given the transcript, produce a short factual summary (2-3 sentences) " +
	"and classify the caller's intent using exactly one of the allowed labels."

// Gemini is the production Summarizer backed by the Gemini API, with a
// response schema that constrains the intent to the configured label set.
type Gemini struct {
	client  *genai.Client
	model   string
	intents []string
}

func NewGemini(ctx context.Context, apiKey, model string, intents []string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client, model: model, intents: intents}, nil
}

func (g *Gemini) Summarize(ctx context.Context, transcriptText string) (Result, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"summary": {Type: genai.TypeString},
				"intent":  {Type: genai.TypeString, Enum: g.intents},
			},
			Required: []string{"summary", "intent"},
		},
	}

	prompt := "Transcript of the call:\n\n" + transcriptText
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return Result{}, fmt.Errorf("generate summary: %w", err)
	}

	var result Result
	if err := json.Unmarshal([]byte(resp.Text()), &result); err != nil {
		return Result{}, fmt.Errorf("parse summary response: %w", err)
	}
	result.Intent = Normalize(result.Intent, g.intents)
	return result, nil
}

// Normalize coerces an intent label to the closed set; anything the model
// invented collapses to the fallback label.
func Normalize(intent string, intents []string) string {
	for _, label := range intents {
		if intent == label {
			return label
		}
	}
	return FallbackIntent(intents)
}

// FallbackIntent is the default label used when summarization fails or the
// transcript is empty: the last configured label ("Other" by default).
func FallbackIntent(intents []string) string {
	if len(intents) == 0 {
		return "Other"
	}
	return intents[len(intents)-1]
}
