// Package toxicity scores message text against a Perspective-style
// comment-analysis API. The router uses the scores for the automatic
// delete-and-flag path, which runs independently of the LLM detector.
package toxicity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultEndpoint is the Perspective comment-analysis endpoint.
const DefaultEndpoint = "https://commentanalyzer.googleapis.com/v1alpha1/comments:analyze"

// DefaultThreshold is the score above which any attribute triggers the
// delete-and-flag action.
const DefaultThreshold = 0.5

// Attributes are the score dimensions requested for every message.
var Attributes = []string{
	"TOXICITY",
	"SEVERE_TOXICITY",
	"IDENTITY_ATTACK",
	"INSULT",
	"PROFANITY",
	"THREAT",
	"SEXUALLY_EXPLICIT",
	"FLIRTATION",
}

// Scorer is the toxicity-scoring port. Tests substitute a fake; the
// router only depends on this interface.
type Scorer interface {
	Score(ctx context.Context, text string) (map[string]float64, error)
}

// Client scores text via the Perspective HTTP API.
type Client struct {
	endpoint string
	apiKey   string
	http     *http.Client
}

// NewClient creates a Perspective client. An empty endpoint falls back
// to DefaultEndpoint.
func NewClient(apiKey, endpoint string) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

type analyzeRequest struct {
	Comment             commentBody         `json:"comment"`
	Languages           []string            `json:"languages"`
	RequestedAttributes map[string]struct{} `json:"requestedAttributes"`
}

type commentBody struct {
	Text string `json:"text"`
}

type analyzeResponse struct {
	AttributeScores map[string]struct {
		SummaryScore struct {
			Value float64 `json:"value"`
		} `json:"summaryScore"`
	} `json:"attributeScores"`
}

// Score requests all attributes for the given text and returns a map
// of attribute name to score in [0,1].
func (c *Client) Score(ctx context.Context, text string) (map[string]float64, error) {
	reqBody := analyzeRequest{
		Comment:             commentBody{Text: text},
		Languages:           []string{"en"},
		RequestedAttributes: make(map[string]struct{}, len(Attributes)),
	}
	for _, attr := range Attributes {
		reqBody.RequestedAttributes[attr] = struct{}{}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("toxicity: marshal request: %w", err)
	}

	u := c.endpoint + "?key=" + url.QueryEscape(c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("toxicity: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("toxicity: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("toxicity: unexpected status %d: %s", resp.StatusCode, body)
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("toxicity: decode response: %w", err)
	}

	scores := make(map[string]float64, len(parsed.AttributeScores))
	for attr, s := range parsed.AttributeScores {
		scores[attr] = s.SummaryScore.Value
	}
	return scores, nil
}

// Flagged returns the worst attribute at or above the threshold, if
// any. When several attributes breach the threshold the highest score
// wins, so operators see the dominant signal.
func Flagged(scores map[string]float64, threshold float64) (string, float64, bool) {
	var (
		worstAttr  string
		worstScore float64
	)
	for attr, score := range scores {
		if score >= threshold && score > worstScore {
			worstAttr = attr
			worstScore = score
		}
	}
	return worstAttr, worstScore, worstAttr != ""
}
