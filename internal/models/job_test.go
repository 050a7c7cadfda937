package models

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageQueued, StageExtractingClaims, true},
		{StageQueued, StageCompleted, true},
		{StageScoringStance, StageAggregatingVerdict, true},
		{StageAggregatingVerdict, StageCompleted, true},
		{StageRetrievingEvidence, StageExtractingClaims, false},
		{StageExtractingClaims, StageFailed, true},
		{StageCompleted, StageFailed, false},
		{StageCompleted, StagePendingReview, true},
		{StagePendingReview, StageCompleted, true},
		{StageScoringStance, StagePendingReview, false},
		{StageFailed, StageQueued, true},
		{StageFailed, StageExtractingClaims, false},
		{StageCompleted, StageQueued, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStageNextFollowsPipelineOrder(t *testing.T) {
	for i := 0; i < len(PipelineStages)-1; i++ {
		if got := PipelineStages[i].Next(); got != PipelineStages[i+1] {
			t.Errorf("%s.Next() = %s, want %s", PipelineStages[i], got, PipelineStages[i+1])
		}
	}
	if StageAggregatingVerdict.Next() != StageCompleted {
		t.Errorf("aggregation should lead to completed")
	}
	if StageFailed.Next() != StageFailed {
		t.Errorf("terminal stage should not advance")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	job := &Job{
		ID:       "j1",
		Claims:   []Claim{{ClaimID: "c1", Text: "a"}},
		Evidence: []ClaimEvidence{{ClaimID: "c1", Items: []Evidence{{SourceRef: "s"}}}},
		Stances:  []ClaimStance{{ClaimID: "c1", Stance: &Stance{Label: StanceRefute, Confidence: 0.9}}},
		Verdict:  &Verdict{Label: VerdictFalse},
	}

	c := job.Clone()
	c.Claims[0].Text = "changed"
	c.Evidence[0].Items[0].SourceRef = "changed"
	c.Stances[0].Stance.Confidence = 0.1
	c.Verdict.Label = VerdictTrue

	if job.Claims[0].Text != "a" || job.Evidence[0].Items[0].SourceRef != "s" {
		t.Errorf("clone aliases claim or evidence slices")
	}
	if job.Stances[0].Stance.Confidence != 0.9 || job.Verdict.Label != VerdictFalse {
		t.Errorf("clone aliases stance or verdict pointers")
	}
}

func TestRecordRoundTripKeepsReviewAndVerdictSeparate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := &Job{
		ID:             "j1",
		Fingerprint:    "fp",
		Text:           "The moon is made of cheese.",
		Language:       "en",
		Stage:          StageCompleted,
		Version:        7,
		Run:            1,
		Claims:         []Claim{{ClaimID: "c1", Text: "The moon is made of cheese.", Language: "en"}},
		Verdict:        &Verdict{Label: VerdictFalse, Confidence: 0.9},
		ReviewDecision: &ReviewDecision{DecidedLabel: VerdictMisleading, ReviewerID: "r1", DecidedAt: now},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	rec, err := job.ToRecord()
	if err != nil {
		t.Fatalf("ToRecord: %v", err)
	}
	back, err := rec.ToJob()
	if err != nil {
		t.Fatalf("ToJob: %v", err)
	}

	if back.Verdict == nil || back.Verdict.Label != VerdictFalse {
		t.Errorf("verdict lost: %+v", back.Verdict)
	}
	if back.ReviewDecision == nil || back.ReviewDecision.DecidedLabel != VerdictMisleading {
		t.Errorf("review decision lost: %+v", back.ReviewDecision)
	}
	if back.DisplayLabel() != VerdictMisleading {
		t.Errorf("display label should prefer reviewer decision, got %s", back.DisplayLabel())
	}
	if back.Version != 7 || len(back.Claims) != 1 {
		t.Errorf("unexpected round trip: %+v", back)
	}
}
