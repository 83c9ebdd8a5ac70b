package main

import (
	"log"
	"os"

	"github.com/vitaliisemenov/data-capture/internal/infrastructure/migrations"
)

func main() {
	migrationConfig, err := migrations.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load migration config: %v", err)
	}

	healthConfig, err := migrations.LoadHealthConfig()
	if err != nil {
		log.Fatalf("failed to load health config: %v", err)
	}

	manager, err := migrations.NewMigrationManager(migrationConfig)
	if err != nil {
		log.Fatalf("failed to create migration manager: %v", err)
	}

	healthChecker := migrations.NewHealthChecker(manager.DB(), healthConfig, migrationConfig.Logger)

	cli := migrations.NewCLI(manager, healthChecker, migrationConfig.Logger)

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
