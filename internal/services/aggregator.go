package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/claimcheck/backend/internal/agents"
	"github.com/claimcheck/backend/internal/models"
)

// MajorityAggregator folds per-claim stances into a verdict.
//
// A label whose share of the scored confidence clears the threshold wins,
// checked in the order Support, Refute, NotEnoughInfo. Without such a
// majority, Support and Refute claims that are each confident on average
// above the threshold give Misleading. Anything else is Unverified.
type MajorityAggregator struct {
	Threshold float64
}

func NewMajorityAggregator(threshold float64) *MajorityAggregator {
	return &MajorityAggregator{Threshold: threshold}
}

var stanceVerdicts = []struct {
	stance  models.StanceLabel
	verdict models.VerdictLabel
}{
	{models.StanceSupport, models.VerdictTrue},
	{models.StanceRefute, models.VerdictFalse},
	{models.StanceNotEnoughInfo, models.VerdictUnverified},
}

func (a *MajorityAggregator) Aggregate(ctx context.Context, claims []models.Claim, stances []models.ClaimStance) (models.Verdict, error) {
	sum := make(map[models.StanceLabel]float64)
	count := make(map[models.StanceLabel]int)
	scored := 0
	for _, cs := range stances {
		if !cs.OK() {
			continue
		}
		sum[cs.Stance.Label] += cs.Stance.Confidence
		count[cs.Stance.Label]++
		scored++
	}
	if scored == 0 {
		return models.Verdict{}, agents.Permanent(errors.New("no scored claims to aggregate"))
	}

	mean := func(l models.StanceLabel) float64 {
		if count[l] == 0 {
			return 0
		}
		return sum[l] / float64(count[l])
	}

	best := 0.0
	for _, sv := range stanceVerdicts {
		share := sum[sv.stance] / float64(scored)
		if share > a.Threshold {
			return models.Verdict{
				Label:       sv.verdict,
				Confidence:  share,
				Explanation: fmt.Sprintf("%d of %d scored claim(s) %s", count[sv.stance], scored, describeStance(sv.stance)),
			}, nil
		}
		best = max(best, share)
	}

	supportMean, refuteMean := mean(models.StanceSupport), mean(models.StanceRefute)
	if count[models.StanceSupport] > 0 && count[models.StanceRefute] > 0 &&
		supportMean > a.Threshold && refuteMean > a.Threshold {
		return models.Verdict{
			Label:      models.VerdictMisleading,
			Confidence: min(supportMean, refuteMean),
			Explanation: fmt.Sprintf("%d claim(s) supported and %d refuted out of %d scored",
				count[models.StanceSupport], count[models.StanceRefute], scored),
		}, nil
	}

	return models.Verdict{
		Label:       models.VerdictUnverified,
		Confidence:  best,
		Explanation: fmt.Sprintf("no stance reached the %.2f majority threshold across %d scored claim(s)", a.Threshold, scored),
	}, nil
}

func describeStance(l models.StanceLabel) string {
	switch l {
	case models.StanceSupport:
		return "supported by evidence"
	case models.StanceRefute:
		return "refuted by evidence"
	default:
		return "lacking evidence"
	}
}
