// seed inserts a handful of cron-scheduled Jobs into the local dev
// database, exercising the same topics the worker binary's outbox
// dispatcher already knows how to handle.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/infrastructure/postgres"
)

type jobSpec struct {
	name    string
	cron    string
	topic   string
	payload string
}

var jobs = []jobSpec{
	{"seed-every-minute", "* * * * *", "scheduler.http", `{"url":"https://httpbin.org/post","method":"POST"}`},
	{"seed-every-5-minutes", "*/5 * * * *", "scheduler.http", `{"url":"https://httpbin.org/get","method":"GET"}`},
	{"seed-hourly", "0 * * * *", "scheduler.http", `{"url":"https://httpbin.org/status/500","method":"POST"}`},
	{"seed-daily", "0 3 * * *", "scheduler.http", `{"url":"https://httpbin.org/delay/2","method":"GET"}`},
}

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set — run: direnv allow")
	}

	pool, err := postgres.NewPool(ctx, dbURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	jobsRepo := postgres.NewJobsRepository(pool)

	now := time.Now().UTC()

	var inserted, skipped int
	var jobIDs []string

	for _, spec := range jobs {
		created, err := jobsRepo.Create(ctx, &domain.Job{
			JobName:      spec.name,
			CronSchedule: spec.cron,
			Topic:        spec.topic,
			Payload:      []byte(spec.payload),
			IsEnabled:    true,
			NextDueTime:  now,
		})
		if err != nil {
			if errors.Is(err, domain.ErrDuplicateJobName) {
				skipped++
				continue
			}
			log.Fatalf("insert job %s: %v", spec.name, err)
		}
		inserted++
		jobIDs = append(jobIDs, created.JobID)
	}

	fmt.Println("Seed complete")
	fmt.Println()
	fmt.Printf("  Jobs created: %d  (skipped %d already existing)\n", inserted, skipped)
	fmt.Println()

	if len(jobIDs) > 0 {
		fmt.Println("  Job IDs:")
		for _, id := range jobIDs {
			fmt.Printf("    %s\n", id)
		}
	}

	fmt.Println()
	fmt.Println("How to test:")
	fmt.Println()
	fmt.Println("  1. Start the worker binary (materializes JobRuns on each job's cron schedule,")
	fmt.Println("     then dispatches them to the outbox):")
	fmt.Println()
	fmt.Println("       go run ./cmd/worker")
	fmt.Println()
	fmt.Println("  2. Start the server binary and query admin state with a bearer token:")
	fmt.Println()
	fmt.Println("       go run ./cmd/server")
	fmt.Println("       curl -s http://localhost:8080/admin/jobs -H \"Authorization: Bearer $JWT\"")
}
