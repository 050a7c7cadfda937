package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/claimcheck/backend/internal/agents"
	"github.com/claimcheck/backend/internal/cache"
	"github.com/claimcheck/backend/internal/config"
	"github.com/claimcheck/backend/internal/controllers"
	"github.com/claimcheck/backend/internal/db"
	"github.com/claimcheck/backend/internal/logger"
	"github.com/claimcheck/backend/internal/middleware"
	"github.com/claimcheck/backend/internal/models"
	"github.com/claimcheck/backend/internal/routes"
	"github.com/claimcheck/backend/internal/services"
	"github.com/claimcheck/backend/internal/store"
)

const version = "1.0.0"

func main() {
	var configFile string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Run the claim verification API and worker pool",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			serve(configFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML config file")
	if err := cmd.Execute(); err != nil {
		logger.Fatal("Invalid command line", map[string]interface{}{"error": err.Error()})
	}
}

func serve(configFile string) {
	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}
	logger.Configure(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	jobStore, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Failed to open job store", map[string]interface{}{"error": err.Error()})
	}

	verdicts, err := cache.New(cache.Options{
		Policy:     cfg.CachePolicy,
		TTL:        cfg.CacheTTL,
		MaxEntries: cfg.CacheMaxEntries,
	})
	if err != nil {
		logger.Fatal("Failed to create verdict cache", map[string]interface{}{"error": err.Error()})
	}

	agentSet, backends, err := buildAgents(cfg)
	if err != nil {
		logger.Fatal("Failed to configure agents", map[string]interface{}{"error": err.Error()})
	}

	limiter := services.NewLimiter(cfg.RateLimit, cfg.RateBurst)
	if err := limiter.ConfigureRates(cfg.CollaboratorRates); err != nil {
		logger.Fatal("Invalid collaborator rate limits", map[string]interface{}{"error": err.Error()})
	}
	executors := services.NewExecutors(agentSet, services.RetryPolicy{
		MaxAttempts:    cfg.RetryAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		CallTimeout:    cfg.CallTimeout,
	}, limiter)

	pipeline := services.NewPipeline(jobStore, verdicts, executors, services.PipelineConfig{
		StageTimeout:     cfg.StageTimeout,
		ClaimConcurrency: cfg.ClaimConcurrency,
	})
	pipeline.Observe(func(jobID string, stage models.Stage) {
		logger.WithJob(jobID, string(stage)).Debug("Job stage persisted")
	})
	queue := services.NewChannelQueue(cfg.QueueCapacity)
	jobService := services.NewJobService(jobStore, pipeline, queue, services.JobServiceConfig{
		Workers:        cfg.Workers,
		LeaseTTL:       cfg.LeaseTTL,
		ReaperInterval: cfg.ReaperInterval,
	})

	// Setup graceful shutdown
	stopChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		logger.Warn("Received shutdown signal, stopping workers...", nil)
		close(stopChan)
	}()

	if err := jobService.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start job service", map[string]interface{}{"error": err.Error()})
	}

	if cfg.GinMode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg.CORSOrigin))
	r.Use(gin.Recovery())

	routes.SetupRoutes(r, routes.Dependencies{
		Store:          jobStore,
		Queue:          queue,
		Verification:   services.NewVerificationService(jobStore, jobService),
		Reviews:        services.NewReviewService(jobStore),
		Analytics:      services.NewAnalyticsService(jobStore),
		Backends:       backends,
		ReviewerSecret: cfg.ReviewerJWTSecret,
		Version:        version,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	logger.Info("Starting claim verification server", map[string]interface{}{
		"port":         cfg.Port,
		"gin_mode":     gin.Mode(),
		"store":        cfg.StoreDriver,
		"cache_policy": cfg.CachePolicy,
		"workers":      cfg.Workers,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	<-stopChan
	logger.Info("Shutting down server gracefully...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	}
	jobService.Stop()
	logger.Info("Server exited gracefully", nil)
}

func openStore(cfg *config.Config) (store.JobStore, error) {
	if cfg.StoreDriver != "postgres" {
		logger.Warn("Using in-memory job store; jobs do not survive restarts", nil)
		return store.NewMemoryStore(), nil
	}

	gdb, err := db.Connect(cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}
	gormStore := store.NewGormStore(gdb)
	if err := gormStore.AutoMigrate(); err != nil {
		return nil, err
	}
	return gormStore, nil
}

// buildAgents wires OpenAI when an API key is configured, a local Ollama
// server when its URL is set, and the heuristics otherwise. Remote backends
// are returned for health reporting.
func buildAgents(cfg *config.Config) (agents.Set, map[string]controllers.Pinger, error) {
	backends := map[string]controllers.Pinger{}
	set := agents.Set{
		Extractor:  agents.NewSentenceExtractor(),
		Retriever:  agents.EmptyRetriever{},
		Scorer:     agents.NeutralScorer{},
		Aggregator: services.NewMajorityAggregator(cfg.MajorityThreshold),
	}

	if cfg.OpenAIAPIKey != "" {
		llm, err := agents.NewOpenAIAgent(agents.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
		})
		if err != nil {
			return set, nil, err
		}
		set.Extractor = llm
		set.Scorer = llm
	} else if cfg.OllamaURL != "" {
		llm := agents.NewOllamaAgent(cfg.OllamaURL, cfg.OllamaModel, cfg.CallTimeout)
		set.Extractor = llm
		set.Scorer = llm
		backends["llm"] = llm
		logger.Info("Using Ollama for claim extraction and stance scoring", map[string]interface{}{
			"url":   cfg.OllamaURL,
			"model": cfg.OllamaModel,
		})
	} else {
		logger.Warn("No LLM configured, using heuristic claim extraction", nil)
	}

	if cfg.RetrievalURL != "" {
		set.Retriever = agents.NewHTTPRetriever(cfg.RetrievalURL, 5, cfg.CallTimeout)
	} else {
		logger.Warn("No retrieval backend configured, claims will have no evidence", nil)
	}

	return set, backends, nil
}
