package main

import (
	"context"

	"gearhead-backend/internal/app"
	"gearhead-backend/internal/config"
	"gearhead-backend/internal/database"
	"gearhead-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// Initialize configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger.Init(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	if !cfg.DemoMode && cfg.AutoMigrate {
		// Run database migrations
		db, err := database.NewConnection(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		if err := database.RunMigrations(ctx, db); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
		db.Close()
	}

	gateway, err := app.New(ctx, cfg, logger.Log)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize gateway")
	}
	defer gateway.Close()

	if gateway.Demo != nil {
		logger.Warn().Msg("Running in DEMO MODE - in-memory data, nothing is persisted")
		if _, err := app.SeedDemo(ctx, gateway.Demo, logger.Log); err != nil {
			logger.Fatal().Err(err).Msg("Failed to seed demo data")
		}
	}

	router := gateway.Router()

	logger.Info().Str("port", cfg.Port).Bool("demo", cfg.DemoMode).Msg("Server starting")
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start server")
	}
}
