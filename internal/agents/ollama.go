package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/claimcheck/backend/internal/models"
)

const defaultOllamaURL = "http://localhost:11434"

// OllamaAgent implements ClaimExtractor and StanceScorer against a local
// Ollama server using the non-streaming generate endpoint.
type OllamaAgent struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Format  string                 `json:"format,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllamaAgent(baseURL, model string, timeout time.Duration) *OllamaAgent {
	if baseURL == "" {
		baseURL = defaultOllamaURL
	}
	if model == "" {
		model = "llama3"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaAgent{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *OllamaAgent) ExtractClaims(ctx context.Context, text, language string) ([]models.Claim, error) {
	if strings.TrimSpace(text) == "" {
		return nil, Permanent(errors.New("empty input"))
	}
	content, err := a.generate(ctx, extractSystemPrompt, extractPrompt(text, language))
	if err != nil {
		return nil, err
	}
	return parseClaims(content, language)
}

func (a *OllamaAgent) ScoreStance(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
	if len(evidence) == 0 {
		return models.Stance{Label: models.StanceNotEnoughInfo}, nil
	}
	content, err := a.generate(ctx, stanceSystemPrompt, stancePrompt(claim, evidence))
	if err != nil {
		return models.Stance{}, err
	}
	return parseStance(content)
}

// Ping checks that the server is up by listing its local models.
func (a *OllamaAgent) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama health check returned status %d", resp.StatusCode)
	}
	return nil
}

func (a *OllamaAgent) generate(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  a.model,
		Prompt: prompt,
		System: system,
		Stream: false,
		Format: "json",
		Options: map[string]interface{}{
			"temperature": 0.2,
			"top_p":       0.8,
		},
	})
	if err != nil {
		return "", Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", Transient(fmt.Errorf("ollama request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Transient(fmt.Errorf("failed to read ollama response: %w", err))
	}
	if err := classifyStatus("ollama", resp.StatusCode, raw); err != nil {
		return "", err
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", Permanent(fmt.Errorf("unparseable ollama response: %w", err))
	}
	if !out.Done {
		return "", Transient(errors.New("ollama returned an incomplete response"))
	}
	return stripCodeFence(out.Response), nil
}
