package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/subdrift/subdrift/internal/config"
	"github.com/subdrift/subdrift/internal/database"
	"github.com/subdrift/subdrift/internal/database/repository"
	"github.com/subdrift/subdrift/internal/prefs"
	"github.com/subdrift/subdrift/internal/service"
	"github.com/subdrift/subdrift/internal/testdata"
	"github.com/subdrift/subdrift/internal/tui"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		log.Fatalf("mkdir db dir: %v", err)
	}

	if err := database.RunMigrations(cfg.Database.Path, "internal/database/migrations"); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if err := database.SeedDefaults(ctx, db, cfg.Ingest.DefaultAccount); err != nil {
		log.Fatalf("seed defaults: %v", err)
	}

	// repositories
	txRepo := repository.NewTransactionRepo(db)
	acctRepo := repository.NewAccountRepo(db)
	merchRepo := repository.NewMerchantRepo(db)
	recurRepo := repository.NewRecurringChargeRepo(db)
	eventRepo := repository.NewPriceChangeRepo(db)

	// restore merchant exclusions from prefs file if present
	if names, err := prefs.LoadExclusions(); err == nil && len(names) > 0 {
		for _, name := range names {
			if m, err := merchRepo.GetByCanonicalName(ctx, name); err == nil && m != nil {
				_ = merchRepo.SetExcluded(ctx, m.ID, true)
			}
		}
	}

	// services
	resolver := &service.ResolverService{Merchants: merchRepo}
	recurrence := &service.RecurrenceService{Transactions: txRepo, Merchants: merchRepo, Recurring: recurRepo}
	drift := &service.DriftService{DB: db, Transactions: txRepo, Recurring: recurRepo, Events: eventRepo}
	pipeline := &service.DetectionPipeline{Transactions: txRepo, Resolver: resolver, Recurrence: recurrence, Drift: drift}
	ingester := &service.IngestService{Transactions: txRepo, Accounts: acctRepo, Resolver: resolver}
	maintenance := &service.MaintenanceService{DB: db}

	if len(os.Args) > 1 && os.Args[1] == "seed" {
		if err := testdata.Seed(ctx, testdata.Repos{Accounts: acctRepo, Transactions: txRepo}); err != nil {
			log.Fatalf("seed: %v", err)
		}
		if _, err := pipeline.Run(ctx); err != nil {
			log.Printf("warn: detection after seed: %v", err)
		}
	}

	p := tea.NewProgram(tui.New(ctx, cfg,
		tui.Repos{Transactions: txRepo, Merchants: merchRepo, Recurring: recurRepo, Events: eventRepo},
		tui.Services{Ingest: ingester, Pipeline: pipeline, Maintenance: maintenance},
	), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Printf("error: %v\n", err)
	}
}
