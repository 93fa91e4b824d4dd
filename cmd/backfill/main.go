package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"accessibility-sync-api/config"
	"accessibility-sync-api/services"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config.ReloadMailerConfig()
	config.InitDB()

	var (
		startRaw string
		endRaw   string
	)

	flag.StringVar(&startRaw, "start", "", "range start date YYYY-MM-DD (inclusive, required)")
	flag.StringVar(&endRaw, "end", "", "range end date YYYY-MM-DD (inclusive, required)")
	flag.Parse()

	if startRaw == "" || endRaw == "" {
		log.Fatal("both -start and -end are required")
	}

	start, err := time.Parse("2006-01-02", startRaw)
	if err != nil {
		log.Fatalf("invalid start date: %v", err)
	}
	end, err := time.Parse("2006-01-02", endRaw)
	if err != nil {
		log.Fatalf("invalid end date: %v", err)
	}

	report, err := services.NewBackfillService(nil, nil).Backfill(context.Background(), start, end)
	if err != nil {
		log.Fatalf("backfill failed: %v", err)
	}

	fmt.Printf("Sites discovered: %d\n", report.SitesDiscovered)
	fmt.Printf("Days processed: %d\n", report.DaysProcessed)
	fmt.Printf("Target patches applied: %d\n", report.PatchesApplied)
	fmt.Printf("Target misses: %d, fetch errors: %d, write errors: %d\n",
		report.TargetMisses,
		report.FetchErrors,
		report.WriteErrors,
	)

	if report.FetchErrors > 0 || report.WriteErrors > 0 {
		os.Exit(2)
	}
}
