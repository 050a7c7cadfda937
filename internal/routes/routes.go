package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/claimcheck/backend/internal/controllers"
	"github.com/claimcheck/backend/internal/middleware"
	"github.com/claimcheck/backend/internal/services"
	"github.com/claimcheck/backend/internal/store"
)

// Dependencies are the long-lived handles the HTTP surface is built from.
type Dependencies struct {
	Store          store.JobStore
	Queue          services.Queue
	Verification   *services.VerificationService
	Reviews        *services.ReviewService
	Analytics      *services.AnalyticsService
	Backends       map[string]controllers.Pinger
	ReviewerSecret string
	Version        string
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, deps Dependencies) {
	verifyController := controllers.NewVerifyController(deps.Verification)
	reviewController := controllers.NewReviewController(deps.Reviews)
	analyticsController := controllers.NewAnalyticsController(deps.Analytics)
	healthController := controllers.NewHealthController(deps.Store, deps.Queue, deps.Backends, deps.Version)

	r.GET("/health", healthController.Health)

	verify := r.Group("/verify")
	{
		verify.POST("", verifyController.Submit)
		verify.GET("/:id", verifyController.Get)
		verify.POST("/:id/resubmit", verifyController.Resubmit)
	}

	claims := r.Group("/claims")
	{
		claims.GET("/pending_review", reviewController.ListPending)
		claims.POST("/:id/request_review", reviewController.RequestReview)

		reviewed := claims.Group("")
		reviewed.Use(middleware.ReviewerAuth(deps.ReviewerSecret))
		reviewed.POST("/:id/decision", reviewController.Decide)
	}

	r.GET("/analytics", analyticsController.Snapshot)
}
