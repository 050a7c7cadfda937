package models

import (
	"time"
)

type Stage string

const (
	StageQueued             Stage = "queued"
	StageExtractingClaims   Stage = "extracting_claims"
	StageRetrievingEvidence Stage = "retrieving_evidence"
	StageScoringStance      Stage = "scoring_stance"
	StageAggregatingVerdict Stage = "aggregating_verdict"
	StageCompleted          Stage = "completed"
	StagePendingReview      Stage = "pending_review"
	StageFailed             Stage = "failed"
)

// stageRank is the fixed stage ordering. PendingReview sorts after Completed
// because it is only reachable from a completed job.
var stageRank = map[Stage]int{
	StageQueued:             0,
	StageExtractingClaims:   1,
	StageRetrievingEvidence: 2,
	StageScoringStance:      3,
	StageAggregatingVerdict: 4,
	StageCompleted:          5,
	StagePendingReview:      6,
	StageFailed:             7,
}

// PipelineStages lists the stages a worker drives a job through, in order.
var PipelineStages = []Stage{
	StageQueued,
	StageExtractingClaims,
	StageRetrievingEvidence,
	StageScoringStance,
	StageAggregatingVerdict,
}

func (s Stage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Rank returns the position of s in the stage ordering, or -1.
func (s Stage) Rank() int {
	if r, ok := stageRank[s]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no worker should run the state machine for s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StagePendingReview || s == StageFailed
}

// Next returns the pipeline stage following s. Terminal stages return themselves.
func (s Stage) Next() Stage {
	switch s {
	case StageQueued:
		return StageExtractingClaims
	case StageExtractingClaims:
		return StageRetrievingEvidence
	case StageRetrievingEvidence:
		return StageScoringStance
	case StageScoringStance:
		return StageAggregatingVerdict
	case StageAggregatingVerdict:
		return StageCompleted
	}
	return s
}

// CanTransition reports whether a persisted job may move from one stage to
// another. Stages only move forward, with two explicit exceptions:
// a reviewer decision closes PendingReview back to Completed, and a
// resubmission resets a Failed job to Queued.
func CanTransition(from, to Stage) bool {
	if from == to {
		return true
	}
	switch {
	case from == StagePendingReview && to == StageCompleted:
		return true
	case from == StageFailed && to == StageQueued:
		return true
	case from == StageCompleted && to == StagePendingReview:
		return true
	case to == StageFailed:
		return !from.Terminal()
	case from.Terminal():
		return false
	}
	return to.Rank() > from.Rank() && to != StagePendingReview
}

type ErrorKind string

const (
	ErrorKindValidation      ErrorKind = "ValidationError"
	ErrorKindTransient       ErrorKind = "TransientExecutorError"
	ErrorKindPermanent       ErrorKind = "PermanentExecutorError"
	ErrorKindVersionConflict ErrorKind = "VersionConflict"
	ErrorKindTimeout         ErrorKind = "Timeout"
	ErrorKindNotReady        ErrorKind = "NotReady"
	ErrorKindAlreadyReviewed ErrorKind = "AlreadyReviewed"
)

// JobError is the last failure recorded against a job.
type JobError struct {
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
	Stage    Stage     `json:"stage"`
	Attempts int       `json:"attempts,omitempty"`
	At       time.Time `json:"at"`
}

type Job struct {
	ID          string `json:"id"`
	Fingerprint string `json:"fingerprint"`
	Text        string `json:"text"`
	Language    string `json:"language"`
	Platform    string `json:"platform,omitempty"`
	Stage       Stage  `json:"stage"`
	Version     int64  `json:"version"`
	Run         int    `json:"run"`

	Claims   []Claim         `json:"claims"`
	Evidence []ClaimEvidence `json:"evidence"`
	Stances  []ClaimStance   `json:"stances"`

	Verdict        *Verdict        `json:"verdict,omitempty"`
	ReviewDecision *ReviewDecision `json:"reviewer_decision,omitempty"`
	Error          *JobError       `json:"error,omitempty"`
	FromCache      bool            `json:"from_cache"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DisplayLabel is the label shown to consumers: the reviewer decision when
// present, otherwise the automatic verdict.
func (j *Job) DisplayLabel() VerdictLabel {
	if j.ReviewDecision != nil {
		return j.ReviewDecision.DecidedLabel
	}
	if j.Verdict != nil {
		return j.Verdict.Label
	}
	return ""
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Claims != nil {
		c.Claims = append([]Claim(nil), j.Claims...)
	}
	if j.Evidence != nil {
		c.Evidence = make([]ClaimEvidence, len(j.Evidence))
		for i, ce := range j.Evidence {
			ce.Items = append([]Evidence(nil), ce.Items...)
			c.Evidence[i] = ce
		}
	}
	if j.Stances != nil {
		c.Stances = make([]ClaimStance, len(j.Stances))
		for i, cs := range j.Stances {
			if cs.Stance != nil {
				s := *cs.Stance
				cs.Stance = &s
			}
			c.Stances[i] = cs
		}
	}
	if j.Verdict != nil {
		v := *j.Verdict
		c.Verdict = &v
	}
	if j.ReviewDecision != nil {
		d := *j.ReviewDecision
		c.ReviewDecision = &d
	}
	if j.Error != nil {
		e := *j.Error
		c.Error = &e
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// ResetOutputs clears every stage output for a fresh pipeline run.
func (j *Job) ResetOutputs() {
	j.Claims = nil
	j.Evidence = nil
	j.Stances = nil
	j.Verdict = nil
	j.Error = nil
	j.FromCache = false
	j.CompletedAt = nil
}
