package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/claimcheck/backend/internal/models"
)

// HTTPRetriever queries a document search service:
//
//	POST {baseURL}/search {"query": ..., "language": ..., "top_k": n}
//	-> {"results": [{"source_ref": ..., "text": ..., "score": ...}]}
type HTTPRetriever struct {
	baseURL string
	topK    int
	client  *http.Client
}

type searchRequest struct {
	Query    string `json:"query"`
	Language string `json:"language,omitempty"`
	TopK     int    `json:"top_k"`
}

type searchResponse struct {
	Results []struct {
		SourceRef string  `json:"source_ref"`
		Text      string  `json:"text"`
		Score     float64 `json:"score"`
	} `json:"results"`
}

func NewHTTPRetriever(baseURL string, topK int, timeout time.Duration) *HTTPRetriever {
	if topK <= 0 {
		topK = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPRetriever{
		baseURL: strings.TrimRight(baseURL, "/"),
		topK:    topK,
		client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRetriever) Retrieve(ctx context.Context, claim models.Claim) ([]models.Evidence, error) {
	body, err := json.Marshal(searchRequest{Query: claim.Text, Language: claim.Language, TopK: r.topK})
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to encode search request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to build search request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, Transient(fmt.Errorf("search request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read search response: %w", err))
	}
	if err := classifyStatus("search backend", resp.StatusCode, raw); err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, Permanent(fmt.Errorf("failed to decode search response: %w", err))
	}

	evidence := make([]models.Evidence, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		if strings.TrimSpace(res.Text) == "" {
			continue
		}
		evidence = append(evidence, models.Evidence{
			SourceRef:      res.SourceRef,
			Text:           res.Text,
			RelevanceScore: res.Score,
		})
	}
	sort.SliceStable(evidence, func(i, j int) bool {
		return evidence[i].RelevanceScore > evidence[j].RelevanceScore
	})
	return evidence, nil
}

// classifyStatus maps an HTTP status to nil, a transient or a permanent error.
func classifyStatus(service string, status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return Transient(fmt.Errorf("%s returned %d: %s", service, status, truncate(string(body), 200)))
	default:
		return Permanent(fmt.Errorf("%s returned %d: %s", service, status, truncate(string(body), 200)))
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
