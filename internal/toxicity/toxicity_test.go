package toxicity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestScoreParsesAttributeScores(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key, query: %s", r.URL.RawQuery)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		attrs, ok := req["requestedAttributes"].(map[string]interface{})
		if !ok || len(attrs) != len(Attributes) {
			t.Errorf("expected %d requested attributes, got %v", len(Attributes), req["requestedAttributes"])
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"attributeScores": {
				"TOXICITY": {"summaryScore": {"value": 0.91}},
				"INSULT":   {"summaryScore": {"value": 0.42}}
			}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	scores, err := c.Score(context.Background(), "you are terrible")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if scores["TOXICITY"] != 0.91 {
		t.Errorf("TOXICITY = %v, want 0.91", scores["TOXICITY"])
	}
	if scores["INSULT"] != 0.42 {
		t.Errorf("INSULT = %v, want 0.42", scores["INSULT"])
	}
}

func TestScoreNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	if _, err := c.Score(context.Background(), "text"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestFlagged(t *testing.T) {
	tests := []struct {
		name      string
		scores    map[string]float64
		threshold float64
		wantAttr  string
		wantHit   bool
	}{
		{
			name:      "below threshold",
			scores:    map[string]float64{"TOXICITY": 0.3, "INSULT": 0.49},
			threshold: 0.5,
			wantHit:   false,
		},
		{
			name:      "single breach",
			scores:    map[string]float64{"TOXICITY": 0.3, "THREAT": 0.8},
			threshold: 0.5,
			wantAttr:  "THREAT",
			wantHit:   true,
		},
		{
			name:      "highest of several breaches wins",
			scores:    map[string]float64{"TOXICITY": 0.6, "SEVERE_TOXICITY": 0.9, "INSULT": 0.7},
			threshold: 0.5,
			wantAttr:  "SEVERE_TOXICITY",
			wantHit:   true,
		},
		{
			name:      "exactly at threshold counts",
			scores:    map[string]float64{"PROFANITY": 0.5},
			threshold: 0.5,
			wantAttr:  "PROFANITY",
			wantHit:   true,
		},
		{
			name:      "empty scores",
			scores:    map[string]float64{},
			threshold: 0.5,
			wantHit:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			attr, _, hit := Flagged(tc.scores, tc.threshold)
			if hit != tc.wantHit {
				t.Fatalf("hit = %v, want %v", hit, tc.wantHit)
			}
			if hit && attr != tc.wantAttr {
				t.Errorf("attr = %s, want %s", attr, tc.wantAttr)
			}
		})
	}
}
