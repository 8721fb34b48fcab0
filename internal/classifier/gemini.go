package classifier

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is the Gemini model used for moderation classification.
const DefaultModel = "gemini-1.5-flash"

// Gemini implements Client on the Gemini API.
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a Gemini-backed classifier. Temperature is pinned
// to zero: the detector protocol needs deterministic label answers, not
// creativity.
func NewGemini(ctx context.Context, apiKey, modelName string) (*Gemini, error) {
	if modelName == "" {
		modelName = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("classifier: create client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)
	model.SetMaxOutputTokens(1024)

	return &Gemini{client: client, model: model}, nil
}

// Classify sends the prompt and returns the model's text answer. A
// non-empty assistantPrefix is appended as a formatting instruction so
// the answer starts with the expected token.
func (g *Gemini) Classify(ctx context.Context, prompt, assistantPrefix string) (string, error) {
	parts := []genai.Part{genai.Text(prompt)}
	if assistantPrefix != "" {
		parts = append(parts, genai.Text(fmt.Sprintf("Begin your reply with: %s", assistantPrefix)))
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("classifier: generate content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("classifier: empty response from model")
	}

	text, ok := resp.Candidates[0].Content.Parts[0].(genai.Text)
	if !ok {
		return "", fmt.Errorf("classifier: unexpected response part type %T", resp.Candidates[0].Content.Parts[0])
	}

	return string(text), nil
}

// Close releases the underlying API client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
