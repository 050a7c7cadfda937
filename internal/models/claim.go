package models

import "time"

// Claim is one factual assertion extracted from a submission.
type Claim struct {
	ClaimID  string `json:"claim_id"`
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Evidence is a retrieved snippet that may support or refute a claim.
type Evidence struct {
	SourceRef      string  `json:"source_ref"`
	Text           string  `json:"text"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ClaimEvidence is the retrieval output for one claim. Error is set when
// retrieval failed permanently for this claim only.
type ClaimEvidence struct {
	ClaimID string     `json:"claim_id"`
	Items   []Evidence `json:"items"`
	Error   string     `json:"error,omitempty"`
}

func (ce ClaimEvidence) OK() bool { return ce.Error == "" }

type StanceLabel string

const (
	StanceSupport       StanceLabel = "Support"
	StanceRefute        StanceLabel = "Refute"
	StanceNotEnoughInfo StanceLabel = "NotEnoughInfo"
)

func (l StanceLabel) Valid() bool {
	switch l {
	case StanceSupport, StanceRefute, StanceNotEnoughInfo:
		return true
	}
	return false
}

type Stance struct {
	Label      StanceLabel `json:"label"`
	Confidence float64     `json:"confidence"`
}

// ClaimStance pairs a claim with its scored stance, or with the error that
// prevented scoring.
type ClaimStance struct {
	ClaimID string  `json:"claim_id"`
	Stance  *Stance `json:"stance,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func (cs ClaimStance) OK() bool { return cs.Stance != nil && cs.Error == "" }

type VerdictLabel string

const (
	VerdictTrue       VerdictLabel = "True"
	VerdictFalse      VerdictLabel = "False"
	VerdictMisleading VerdictLabel = "Misleading"
	VerdictUnverified VerdictLabel = "Unverified"
)

func (l VerdictLabel) Valid() bool {
	switch l {
	case VerdictTrue, VerdictFalse, VerdictMisleading, VerdictUnverified:
		return true
	}
	return false
}

type Verdict struct {
	Label       VerdictLabel `json:"label"`
	Confidence  float64      `json:"confidence"`
	Explanation string       `json:"explanation"`
}

// ReviewDecision is a human override. It supersedes the automatic verdict
// for display but never replaces it.
type ReviewDecision struct {
	DecidedLabel VerdictLabel `json:"decided_label"`
	ReviewerID   string       `json:"reviewer_id"`
	Rationale    string       `json:"rationale"`
	DecidedAt    time.Time    `json:"decided_at"`
}
