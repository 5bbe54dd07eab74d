package main

import (
	"context"
	"log"
	"os"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"
	tcclickhouse "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"bookshelf/internal/app"
	"bookshelf/migrations"
)

func main() {
	ctx := context.Background()

	log.Println("Starting ClickHouse testcontainer...")

	// Start ClickHouse container
	clickhouseContainer, err := tcclickhouse.Run(ctx,
		"clickhouse/clickhouse-server:latest",
		tcclickhouse.WithUsername("default"),
		tcclickhouse.WithPassword("devpassword"),
		tcclickhouse.WithDatabase("default"),
	)
	if err != nil {
		log.Fatalf("Failed to start ClickHouse container: %v", err)
	}

	// Ensure container cleanup on exit
	defer func() {
		log.Println("Stopping ClickHouse container...")
		if err := clickhouseContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	host, err := clickhouseContainer.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}

	port, err := clickhouseContainer.MappedPort(ctx, "9000/tcp")
	if err != nil {
		log.Fatalf("Failed to get container port: %v", err)
	}

	log.Printf("ClickHouse started at %s:%s", host, port.Port())

	if err := migrate(ctx, host+":"+port.Port()); err != nil {
		log.Fatalf("Failed to migrate ClickHouse: %v", err)
	}

	// Point the application at the container
	os.Setenv("STORAGE_BACKEND", "clickhouse")
	os.Setenv("CLICKHOUSE_HOST", host)
	os.Setenv("CLICKHOUSE_PORT", port.Port())
	os.Setenv("CLICKHOUSE_DATABASE", "default")
	os.Setenv("CLICKHOUSE_USER", "default")
	os.Setenv("CLICKHOUSE_PASSWORD", "devpassword")
	os.Setenv("CLICKHOUSE_USE_TLS", "false")
	os.Setenv("USE_MOCK_DB", "false")
	os.Setenv("APP_ENV", "development")

	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", "8080")
	}
	if os.Getenv("SESSION_SECRET") == "" {
		os.Setenv("SESSION_SECRET", "bookshelf-dev-secret")
	}
	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Println("⚠️  TELEGRAM_BOT_TOKEN not set. Session notifications are disabled.")
	}

	log.Println("Starting application with ClickHouse backend...")

	application, err := app.New()
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		return
	}

	// Run blocks until SIGINT/SIGTERM
	if err := application.Run(); err != nil {
		log.Printf("Application error: %v", err)
	}
}

// migrate applies the embedded ClickHouse migrations through goose
func migrate(ctx context.Context, addr string) error {
	db := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "devpassword",
		},
	})
	defer db.Close()

	provider, err := migrations.NewProvider(db, goose.DialectClickHouse)
	if err != nil {
		return err
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	log.Printf("Applied %d migrations", len(results))
	return nil
}
