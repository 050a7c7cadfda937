package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/claimcheck/backend/internal/cache"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/services"
	"github.com/claimcheck/backend/internal/store"
)

type AnalyticsController struct {
	analytics *services.AnalyticsService
}

func NewAnalyticsController(analytics *services.AnalyticsService) *AnalyticsController {
	return &AnalyticsController{analytics: analytics}
}

// Snapshot handles GET /analytics?stage=a,b&language=&platform=&from=&to=.
// from and to are RFC 3339 timestamps bounding job creation time.
func (ac *AnalyticsController) Snapshot(c *gin.Context) {
	filter := store.Filter{Platform: c.Query("platform")}
	if lang := c.Query("language"); lang != "" {
		filter.Language = cache.NormalizeLanguage(lang)
	}

	if raw := c.Query("stage"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			stage := models.Stage(strings.TrimSpace(s))
			if !stage.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown stage " + string(stage), "kind": "ValidationError"})
				return
			}
			filter.Stages = append(filter.Stages, stage)
		}
	}

	for param, dst := range map[string]*time.Time{"from": &filter.From, "to": &filter.To} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + param + " timestamp", "kind": "ValidationError"})
			return
		}
		*dst = t
	}

	snap, err := ac.analytics.Snapshot(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
