package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portal/internal/audit"
	"portal/internal/config"
	"portal/internal/queue"
	"portal/internal/store"
)

// Worker consumes commit events and writes them to the audit log.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	if cfg.QueueBackend == "memory" {
		log.Fatalf("QUEUE_BACKEND=memory is process-local; the api drains it itself")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL, store.PoolOptions{MaxOpen: 4})
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	repo := audit.NewRepository(db.Client)
	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("migrate commit log: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	q := queue.NewRedisQueue(redisClient.Client, "")

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for commit events...")
	for msg := range messages {
		if msg.Type != queue.TypeCommit {
			log.Printf("skipping message of type %q", msg.Type)
			continue
		}

		var entry audit.Entry
		if err := msg.Decode(&entry); err != nil {
			log.Printf("malformed commit event: %v", err)
			continue
		}

		if err := insertWithRetry(ctx, repo, entry); err != nil {
			log.Printf("commit %s not recorded: %v", entry.ID, err)
			continue
		}
		log.Printf("commit %s recorded (view %s, %s, %d ok / %d failed)",
			entry.ID, entry.ViewID, entry.Strategy, entry.Succeeded, entry.Failed)
	}

	log.Println("worker stopped")
}

func insertWithRetry(ctx context.Context, repo *audit.Repository, entry audit.Entry) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if _, err = repo.Insert(ctx, entry); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 500 * time.Millisecond):
		}
	}
	return err
}
