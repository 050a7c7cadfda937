package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/claimcheck/backend/internal/services"
)

type VerifyController struct {
	verify *services.VerificationService
}

func NewVerifyController(verify *services.VerificationService) *VerifyController {
	return &VerifyController{verify: verify}
}

type verifyRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Platform string `json:"platform"`
}

// Submit handles POST /verify. A new job answers 202; a duplicate of a
// completed job answers 200 with the existing id.
func (vc *VerifyController) Submit(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "kind": "ValidationError"})
		return
	}

	res, err := vc.verify.Submit(c.Request.Context(), services.SubmitRequest{
		Text:     req.Text,
		Language: req.Language,
		Platform: req.Platform,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusAccepted
	if res.Existing {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"job_id":   res.Job.ID,
		"stage":    res.Job.Stage,
		"existing": res.Existing,
	})
}

// Get handles GET /verify/:id.
func (vc *VerifyController) Get(c *gin.Context) {
	job, err := vc.verify.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewJobView(job))
}

// Resubmit handles POST /verify/:id/resubmit for failed jobs.
func (vc *VerifyController) Resubmit(c *gin.Context) {
	job, err := vc.verify.Resubmit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, NewJobView(job))
}
