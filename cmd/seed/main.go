package main

import (
	"context"
	"encoding/json"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/claimcheck/backend/internal/config"
	"github.com/claimcheck/backend/internal/db"
	"github.com/claimcheck/backend/internal/logger"
	"github.com/claimcheck/backend/internal/services"
	"github.com/claimcheck/backend/internal/store"
)

// SubmissionData is one sample text in the seed file.
type SubmissionData struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Platform string `json:"platform"`
}

// JSONData represents the structure of the seed file
type JSONData struct {
	Submissions []SubmissionData `json:"submissions"`
}

// deferredQueue leaves seeded jobs Queued; the server's startup recovery
// enqueues them.
type deferredQueue struct{}

func (deferredQueue) Enqueue(ctx context.Context, jobID string) error { return nil }

func main() {
	var configFile, seedFile string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Queue sample submissions for verification",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			seed(configFile, seedFile)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML config file")
	cmd.Flags().StringVar(&seedFile, "file", "data/sample-submissions.json", "JSON file with sample submissions")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func seed(configFile, seedFile string) {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	gdb, err := db.Connect(cfg.PostgresDSN())
	if err != nil {
		log.Fatalf("%v", err)
	}
	jobStore := store.NewGormStore(gdb)

	log.Println("Running database migrations...")
	if err := jobStore.AutoMigrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Seeding database with sample submissions...")
	created, err := seedSubmissions(context.Background(), services.NewVerificationService(jobStore, deferredQueue{}), seedFile)
	if err != nil {
		log.Fatalf("Error seeding submissions: %v", err)
	}

	log.Printf("✅ Seeded %d verification jobs; start the server to process them", created)
}

func seedSubmissions(ctx context.Context, verification *services.VerificationService, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	var data JSONData
	if err := json.Unmarshal(raw, &data); err != nil {
		return 0, err
	}

	created := 0
	for _, sub := range data.Submissions {
		result, err := verification.Submit(ctx, services.SubmitRequest{
			Text:     sub.Text,
			Language: sub.Language,
			Platform: sub.Platform,
		})
		if err != nil {
			log.Printf("Skipping submission %q: %v", truncate(sub.Text, 40), err)
			continue
		}
		if result.Existing {
			log.Printf("Already verified: %s", result.Job.ID)
			continue
		}
		created++
	}
	return created, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
