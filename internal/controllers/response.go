package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claimcheck/backend/internal/logger"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/services"
	"github.com/claimcheck/backend/internal/store"
)

// JobView is the public projection of a job.
type JobView struct {
	JobID            string                 `json:"job_id"`
	Stage            models.Stage           `json:"stage"`
	Language         string                 `json:"language"`
	Platform         string                 `json:"platform,omitempty"`
	Claims           []models.Claim         `json:"claims"`
	Evidence         []models.ClaimEvidence `json:"evidence,omitempty"`
	Stances          []models.ClaimStance   `json:"stances,omitempty"`
	Verdict          *models.Verdict        `json:"verdict"`
	ReviewerDecision *models.ReviewDecision `json:"reviewer_decision"`
	DisplayLabel     models.VerdictLabel    `json:"display_label,omitempty"`
	Error            *models.JobError       `json:"error"`
	FromCache        bool                   `json:"from_cache"`
	Run              int                    `json:"run"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	CompletedAt      *time.Time             `json:"completed_at,omitempty"`
}

func NewJobView(job *models.Job) JobView {
	claims := job.Claims
	if claims == nil {
		claims = []models.Claim{}
	}
	return JobView{
		JobID:            job.ID,
		Stage:            job.Stage,
		Language:         job.Language,
		Platform:         job.Platform,
		Claims:           claims,
		Evidence:         job.Evidence,
		Stances:          job.Stances,
		Verdict:          job.Verdict,
		ReviewerDecision: job.ReviewDecision,
		DisplayLabel:     job.DisplayLabel(),
		Error:            job.Error,
		FromCache:        job.FromCache,
		Run:              job.Run,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
		CompletedAt:      job.CompletedAt,
	}
}

// respondError maps service and store errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": verr.Error(),
			"kind":  models.ErrorKindValidation,
			"field": verr.Field,
		})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, services.ErrNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": models.ErrorKindNotReady})
	case errors.Is(err, services.ErrAlreadyReviewed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "kind": models.ErrorKindAlreadyReviewed})
	case errors.Is(err, services.ErrNotFailed), errors.Is(err, services.ErrNotCompleted):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service is shutting down"})
	default:
		_ = c.Error(err)
		logger.WithError(err, "controllers").WithField("path", c.Request.URL.Path).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
