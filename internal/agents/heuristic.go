package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/claimcheck/backend/internal/models"
	"github.com/google/uuid"
)

// SentenceExtractor treats every sufficiently long declarative sentence as a
// claim. It is the extractor used when no LLM is configured.
type SentenceExtractor struct {
	MinWords int
}

func NewSentenceExtractor() *SentenceExtractor {
	return &SentenceExtractor{MinWords: 3}
}

func (e *SentenceExtractor) ExtractClaims(ctx context.Context, text, language string) ([]models.Claim, error) {
	if strings.TrimSpace(text) == "" {
		return nil, Permanent(errors.New("empty input"))
	}

	var claims []models.Claim
	seen := make(map[string]bool)
	for _, sentence := range splitSentences(text) {
		if strings.HasSuffix(sentence, "?") || len(strings.Fields(sentence)) < e.MinWords {
			continue
		}
		key := strings.ToLower(sentence)
		if seen[key] {
			continue
		}
		seen[key] = true
		claims = append(claims, models.Claim{
			ClaimID:  ClaimID(len(claims), sentence),
			Text:     sentence,
			Language: language,
		})
	}
	return claims, nil
}

// ClaimID derives a stable claim id from its position and text, so a re-run
// of extraction over the same input yields the same ids.
func ClaimID(index int, text string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%d:%s", index, text))).String()
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '।' || r == '\n' {
			if s := strings.TrimFunc(current.String(), unicode.IsSpace); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimFunc(current.String(), unicode.IsSpace); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// NeutralScorer reports NotEnoughInfo for every claim. It stands in for a
// stance model when none is configured.
type NeutralScorer struct{}

func (NeutralScorer) ScoreStance(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error) {
	return models.Stance{Label: models.StanceNotEnoughInfo, Confidence: 0}, nil
}

// EmptyRetriever returns no evidence. It stands in for a search backend when
// none is configured.
type EmptyRetriever struct{}

func (EmptyRetriever) Retrieve(ctx context.Context, claim models.Claim) ([]models.Evidence, error) {
	return []models.Evidence{}, nil
}
