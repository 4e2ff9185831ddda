package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/rpattn/revlog/internal/config"
	"github.com/rpattn/revlog/internal/db"
	"github.com/rpattn/revlog/internal/domain"
	"github.com/rpattn/revlog/internal/export"
	"github.com/rpattn/revlog/internal/history"
	"github.com/rpattn/revlog/internal/repository"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	entityType := flag.String("type", "", "entity type to report on")
	entityID := flag.String("id", "", "entity id to report on")
	flag.Parse()

	if *entityType == "" || *entityID == "" {
		log.Fatal("Both -type and -id are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	registry, err := cfg.BuildRegistry()
	if err != nil {
		log.Fatalf("Failed to build tracking registry: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	repo := repository.NewPostgresVersionRepository(conn.Pool)
	historySvc := history.NewService(registry, repo)

	var opts []export.Option
	if cfg.ReportDir != "" {
		opts = append(opts, export.WithReportDirectory(cfg.ReportDir))
	}
	reports := export.NewService(historySvc, opts...)

	path, err := reports.WriteEntityReport(ctx, domain.EntityRef{EntityType: *entityType, EntityID: *entityID})
	if err != nil {
		log.Fatalf("Failed to write report: %v", err)
	}

	log.Printf("Report written to %s", path)
}
