/**
 * @description
 * Schema migration command for the pool engine. Applies db/schema.sql,
 * whose statements are all idempotent, so the command can run on every
 * deploy.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		fmt.Fprintln(os.Stderr, "Usage: migrate")
		fmt.Fprintln(os.Stderr, "Environment:")
		fmt.Fprintln(os.Stderr, "  DATABASE_URL - Postgres connection string (required)")
		fmt.Fprintln(os.Stderr, "  SCHEMA_FILE  - path to schema file (default: db/schema.sql)")
		os.Exit(1)
	}

	schemaFile := os.Getenv("SCHEMA_FILE")
	if schemaFile == "" {
		schemaFile = "db/schema.sql"
	}

	schema, err := os.ReadFile(schemaFile)
	if err != nil {
		log.Fatalf("FATAL: read schema: %v", err)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		log.Fatalf("FATAL: connect: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("FATAL: apply schema: %v", err)
	}
	log.Println("INFO: schema applied")
}
