package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"recurring-billing/internal/config"
	"recurring-billing/internal/domain/model"
	pg "recurring-billing/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	tierRepo := pg.NewTierRepo(pool)

	// If tiers already exist, do nothing
	existing, err := tierRepo.ListAll(ctx, nil)
	if err != nil {
		log.Fatalf("list tiers: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d tiers already present. No changes.\n", len(existing))
		for _, t := range existing {
			fmt.Printf("  - %s (price=%d %s, period=%dd)\n", t.Name, t.PriceMinor, t.Currency, t.PeriodDays)
		}
		return
	}

	// Trial tier promotes to Basic after two discounted periods; Basic
	// runs indefinitely. Premium is a manual-override target only.
	premium, _ := model.NewProductTier("premium", "Premium", 1999, "EUR", 30)
	basic, _ := model.NewProductTier("basic", "Basic", 999, "EUR", 30)
	trial, _ := model.NewProductTier("trial", "Intro Offer", 199, "EUR", 30)
	trial.NextTierID = &basic.ID
	trial.TrialPeriods = 2

	for _, t := range []*model.ProductTier{premium, basic, trial} {
		if err := tierRepo.Save(ctx, nil, t); err != nil {
			log.Fatalf("seed tier %q: %v", t.ID, err)
		}
		fmt.Printf("seeded: %s (id=%s, price=%d %s, period=%dd)\n", t.Name, t.ID, t.PriceMinor, t.Currency, t.PeriodDays)
	}

	fmt.Println("Seeding complete.")
}
