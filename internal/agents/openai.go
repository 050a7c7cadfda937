package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/claimcheck/backend/internal/models"
	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the chat-completion backed agents.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// OpenAIAgent implements ClaimExtractor and StanceScorer on top of the chat
// completions API. Responses are requested as strict JSON.
type OpenAIAgent struct {
	client *openai.Client
	config OpenAIConfig
}

func NewOpenAIAgent(config OpenAIConfig) (*OpenAIAgent, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIAgent{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

const extractSystemPrompt = "You are a claim extraction engine. Extract only factual claims. Ignore opinions. Output JSON only."

const stanceSystemPrompt = "You are a stance detection engine. Decide whether the evidence supports, refutes, or gives not enough information about the claim. Output JSON only."

func (a *OpenAIAgent) ExtractClaims(ctx context.Context, text, language string) ([]models.Claim, error) {
	if strings.TrimSpace(text) == "" {
		return nil, Permanent(errors.New("empty input"))
	}

	content, err := a.complete(ctx, extractSystemPrompt, extractPrompt(text, language))
	if err != nil {
		return nil, err
	}
	return parseClaims(content, language)
}

func (a *OpenAIAgent) ScoreStance(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
	if len(evidence) == 0 {
		return models.Stance{Label: models.StanceNotEnoughInfo}, nil
	}

	content, err := a.complete(ctx, stanceSystemPrompt, stancePrompt(claim, evidence))
	if err != nil {
		return models.Stance{}, err
	}
	return parseStance(content)
}

func (a *OpenAIAgent) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   a.config.MaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", Transient(errors.New("no response from OpenAI"))
	}
	return stripCodeFence(resp.Choices[0].Message.Content), nil
}

// classifyOpenAIError treats rate limiting and server faults as transient and
// other API rejections (bad key, bad request) as permanent.
func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 || status == http.StatusTooManyRequests || status >= 500 {
		return Transient(fmt.Errorf("OpenAI API error: %w", err))
	}
	return Permanent(fmt.Errorf("OpenAI API error: %w", err))
}

func extractPrompt(text, language string) string {
	return fmt.Sprintf(`Extract all factual claims from the following %s text.
Return a JSON array of objects with a single key "text" holding the claim restated as one sentence.

Text:
%s`, language, text)
}

// stancePrompt lists at most the first ten evidence items.
func stancePrompt(claim models.Claim, evidence []models.Evidence) string {
	var b strings.Builder
	for i, e := range evidence {
		if i >= 10 {
			break
		}
		fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, e.SourceRef, e.Text)
	}
	return fmt.Sprintf(`Claim: %s

Evidence:
%s
Return a JSON object {"stance": "support|refute|not_enough_info", "confidence": number between 0 and 1}.`, claim.Text, b.String())
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func parseClaims(content, language string) ([]models.Claim, error) {
	var raw []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, Permanent(fmt.Errorf("unparseable claim list: %w", err))
	}

	claims := make([]models.Claim, 0, len(raw))
	for _, r := range raw {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		claims = append(claims, models.Claim{
			ClaimID:  ClaimID(len(claims), text),
			Text:     text,
			Language: language,
		})
	}
	return claims, nil
}

func parseStance(content string) (models.Stance, error) {
	var raw struct {
		Stance     string  `json:"stance"`
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return models.Stance{}, Permanent(fmt.Errorf("unparseable stance: %w", err))
	}

	label := models.StanceNotEnoughInfo
	switch strings.ToLower(strings.TrimSpace(raw.Stance)) {
	case "support", "supports":
		label = models.StanceSupport
	case "refute", "refutes":
		label = models.StanceRefute
	}

	conf := raw.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return models.Stance{Label: label, Confidence: conf}, nil
}
