package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/claimcheck/backend/internal/config"
	"github.com/claimcheck/backend/internal/db"
	"github.com/claimcheck/backend/internal/logger"
	"github.com/claimcheck/backend/internal/store"
)

func main() {
	var configFile string
	var createDB bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the job store schema",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			migrate(configFile, createDB)
		},
	}
	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML config file")
	cmd.Flags().BoolVar(&createDB, "create-db", false, "create the database first if it is missing")
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func migrate(configFile string, createDB bool) {
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Configure(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	if createDB {
		if err := db.EnsureDatabase(cfg.DB); err != nil {
			log.Fatalf("Failed to ensure database: %v", err)
		}
	}

	gdb, err := db.Connect(cfg.PostgresDSN())
	if err != nil {
		log.Fatalf("%v", err)
	}

	log.Println("Running database migrations...")
	if err := store.NewGormStore(gdb).AutoMigrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("✅ Database migrations completed successfully!")
}
