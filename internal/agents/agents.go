// Package agents defines the external collaborators the verification
// pipeline drives, and production implementations of them.
package agents

import (
	"context"
	"errors"

	"github.com/claimcheck/backend/internal/models"
)

// ClaimExtractor splits a submission into factual claims.
type ClaimExtractor interface {
	ExtractClaims(ctx context.Context, text, language string) ([]models.Claim, error)
}

// EvidenceRetriever finds evidence snippets for a single claim.
type EvidenceRetriever interface {
	Retrieve(ctx context.Context, claim models.Claim) ([]models.Evidence, error)
}

// StanceScorer classifies how a claim's evidence relates to it.
type StanceScorer interface {
	ScoreStance(ctx context.Context, claim models.Claim, evidence []models.Evidence) (models.Stance, error)
}

// VeracityAggregator combines per-claim stances into a job verdict.
type VeracityAggregator interface {
	Aggregate(ctx context.Context, claims []models.Claim, stances []models.ClaimStance) (models.Verdict, error)
}

// Set bundles one implementation of each collaborator role.
type Set struct {
	Extractor  ClaimExtractor
	Retriever  EvidenceRetriever
	Scorer     StanceScorer
	Aggregator VeracityAggregator
}

type classifiedError struct {
	err       error
	permanent bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks err as worth retrying.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err}
}

// Permanent marks err as not retryable; the job fails without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, permanent: true}
}

// IsPermanent reports whether err was classified permanent. Unclassified
// errors are treated as transient.
func IsPermanent(err error) bool {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.permanent
	}
	return false
}
