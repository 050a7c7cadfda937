package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/claimcheck/backend/internal/models"
)

func newOllamaServer(t *testing.T, reply func(req ollamaGenerateRequest) string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models": []}`))
		case "/api/generate":
			var req ollamaGenerateRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Stream || req.Format != "json" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(ollamaGenerateResponse{Model: req.Model, Response: reply(req), Done: true})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaAgentExtractClaims(t *testing.T) {
	srv := newOllamaServer(t, func(req ollamaGenerateRequest) string {
		if req.Model != "mistral" || !strings.Contains(req.Prompt, "The moon is made of cheese.") {
			return `[]`
		}
		return `[{"text": "The moon is made of cheese."}]`
	})

	agent := NewOllamaAgent(srv.URL, "mistral", 0)
	claims, err := agent.ExtractClaims(context.Background(), "The moon is made of cheese.", "en")
	if err != nil {
		t.Fatalf("ExtractClaims: %v", err)
	}
	if len(claims) != 1 || claims[0].Text != "The moon is made of cheese." || claims[0].Language != "en" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestOllamaAgentScoreStance(t *testing.T) {
	srv := newOllamaServer(t, func(req ollamaGenerateRequest) string {
		return `{"stance": "refute", "confidence": 0.8}`
	})

	agent := NewOllamaAgent(srv.URL, "", 0)
	stance, err := agent.ScoreStance(context.Background(),
		models.Claim{ClaimID: "c1", Text: "The moon is made of cheese."},
		[]models.Evidence{{SourceRef: "nasa", Text: "The moon is rock."}})
	if err != nil {
		t.Fatalf("ScoreStance: %v", err)
	}
	if stance.Label != models.StanceRefute || stance.Confidence != 0.8 {
		t.Errorf("unexpected stance: %+v", stance)
	}

	empty, err := agent.ScoreStance(context.Background(), models.Claim{Text: "x"}, nil)
	if err != nil || empty.Label != models.StanceNotEnoughInfo {
		t.Errorf("no evidence should be not_enough_info without a call, got %+v, %v", empty, err)
	}

	if err := agent.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOllamaAgentClassifiesStatus(t *testing.T) {
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusInternalServerError, false},
		{http.StatusNotFound, true},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		agent := NewOllamaAgent(srv.URL, "llama3", 0)
		_, err := agent.ExtractClaims(context.Background(), "Water boils at 100C.", "en")
		pingErr := agent.Ping(context.Background())
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if IsPermanent(err) != tt.permanent {
			t.Errorf("status %d: permanent=%v, want %v", tt.status, IsPermanent(err), tt.permanent)
		}
		if pingErr == nil {
			t.Errorf("status %d: Ping should fail", tt.status)
		}
	}
}
