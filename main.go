package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/sivert-io/matchzy-auto-tournament/internal/app"
	_ "github.com/sivert-io/matchzy-auto-tournament/migrations"
)

// Injected by the release build via ldflags.
var Version = "dev"

func main() {
	// A .env file is optional; deployments usually set the environment
	// directly.
	_ = godotenv.Load()

	application, err := app.NewWithVersion(Version)
	if err != nil {
		log.Printf("failed to initialize: %v", err)
		os.Exit(1)
	}

	// Bootstrap opens the store and applies migrations.
	if err := application.Bootstrap(); err != nil {
		log.Printf("failed to open store: %v", err)
		os.Exit(2)
	}

	// Start registers the default PocketBase commands (serve, superuser)
	// and runs the root command.
	if err := application.Start(); err != nil {
		log.Fatal(err)
	}
}
