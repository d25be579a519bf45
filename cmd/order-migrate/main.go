package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/akriventsev/orderflow/framework/migrations"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	dbURL := flag.String("database-url", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (default $POSTGRES_DSN)")
	flag.CommandLine.Parse(os.Args[2:])

	ctx := context.Background()

	switch command {
	case "up":
		withDB(*dbURL, func(db *sql.DB) error {
			if steps := stepsArg(0); steps > 0 {
				return migrations.RunMigrationsLimited(ctx, db, steps)
			}
			return migrations.RunMigrations(ctx, db)
		})
		fmt.Println("Migrations applied successfully")
	case "down":
		steps := stepsArg(1)
		withDB(*dbURL, func(db *sql.DB) error {
			return migrations.RollbackMigrations(ctx, db, int64(steps))
		})
		fmt.Printf("Rolled back %d migration(s)\n", steps)
	case "status":
		withDB(*dbURL, func(db *sql.DB) error { return runStatus(ctx, db) })
	case "version":
		withDB(*dbURL, func(db *sql.DB) error {
			version, err := migrations.GetCurrentVersion(ctx, db)
			if err != nil {
				return err
			}
			if version == 0 {
				fmt.Println("No migrations applied")
				return nil
			}
			fmt.Println(version)
			return nil
		})
	case "validate":
		list, err := migrations.Collect()
		if err != nil {
			fail("Validation failed: %v", err)
		}
		fmt.Printf("All %d migrations are valid\n", len(list))
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Order service migration tool")
	fmt.Println()
	fmt.Println("Usage: order-migrate <command> [flags] [N]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  up [N]      - Apply all pending migrations (or N migrations)")
	fmt.Println("  down [N]    - Rollback N migrations (default: 1)")
	fmt.Println("  status      - Show status of all migrations")
	fmt.Println("  version     - Show current migration version")
	fmt.Println("  validate    - Check embedded migration files")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --database-url  - PostgreSQL connection string (default: $POSTGRES_DSN)")
}

func runStatus(ctx context.Context, db *sql.DB) error {
	statuses, err := migrations.GetMigrationStatus(ctx, db)
	if err != nil {
		return err
	}

	fmt.Println("Migration Status:")
	fmt.Println("================")
	for _, status := range statuses {
		fmt.Printf("[%s] %d - %s", status.Status, status.Version, status.Name)
		if status.AppliedAt != nil {
			fmt.Printf(" (applied at %s)", status.AppliedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
	return nil
}

func stepsArg(def int) int {
	if len(flag.Args()) == 0 {
		return def
	}
	n, err := strconv.Atoi(flag.Args()[0])
	if err != nil || n <= 0 {
		fail("Error: invalid step count %q", flag.Args()[0])
	}
	return n
}

func withDB(dbURL string, fn func(db *sql.DB) error) {
	if dbURL == "" {
		fail("Error: --database-url is required")
	}
	db, err := migrations.Open(dbURL)
	if err != nil {
		fail("Error: %v", err)
	}
	defer db.Close()

	if err := fn(db); err != nil {
		fail("Error: %v", err)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
