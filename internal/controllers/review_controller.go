package controllers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/claimcheck/backend/internal/middleware"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type ReviewController struct {
	reviews *services.ReviewService
}

func NewReviewController(reviews *services.ReviewService) *ReviewController {
	return &ReviewController{reviews: reviews}
}

// ListPending handles GET /claims/pending_review?page=&limit=. An explicit
// offset overrides page.
func (rc *ReviewController) ListPending(c *gin.Context) {
	limit, offset := pagination(c)

	jobs, total, err := rc.reviews.ListPending(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, NewJobView(job))
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":   views,
		"total":  total,
		"page":   offset/limit + 1,
		"limit":  limit,
		"offset": offset,
	})
}

// RequestReview handles POST /claims/:id/request_review.
func (rc *ReviewController) RequestReview(c *gin.Context) {
	job, err := rc.reviews.RequestReview(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewJobView(job))
}

type decisionRequest struct {
	DecidedLabel models.VerdictLabel `json:"decided_label"`
	ReviewerID   string              `json:"reviewer_id"`
	Rationale    string              `json:"rationale"`
}

// Decide handles POST /claims/:id/decision. An authenticated reviewer id
// takes precedence over the one in the body.
func (rc *ReviewController) Decide(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "kind": "ValidationError"})
		return
	}
	if id := c.GetString(middleware.ReviewerIDKey); id != "" {
		req.ReviewerID = id
	}

	job, err := rc.reviews.SubmitReview(c.Request.Context(), c.Param("id"), req.DecidedLabel, req.ReviewerID, req.Rationale)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewJobView(job))
}

func pagination(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageSize)))
	if err != nil || limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	offset := (page - 1) * limit
	if raw, ok := c.GetQuery("offset"); ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
