package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"campaignengine/internal/config"
	"campaignengine/internal/logger"
	"campaignengine/internal/migrate"
	"campaignengine/internal/repository"
)

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

const migrationsDir = "migrations"

func main() {
	// Load .env file (ignore error if not present)
	_ = godotenv.Load()

	command := "help"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up", "down", "status", "reset", "seed":
	default:
		printUsage()
		if command != "help" {
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		printError(fmt.Sprintf("Failed to load configuration: %v", err))
		os.Exit(1)
	}

	log, err := logger.New(cfg.Env)
	if err != nil {
		printError(fmt.Sprintf("Failed to initialize logger: %v", err))
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	printInfo("Connecting to database...")
	db, err := repository.Open(ctx, cfg.GetDatabaseDSN())
	if err != nil {
		printError(err.Error())
		os.Exit(1)
	}
	defer db.Close()
	printSuccess("Connected to database\n")

	m := migrate.New(db, migrationsDir, log)
	if err := m.Init(ctx); err != nil {
		printError(err.Error())
		os.Exit(1)
	}

	if err := run(ctx, m, command); err != nil {
		log.Error("Migration command failed", zap.String("command", command), zap.Error(err))
		printError(fmt.Sprintf("%s failed: %v", command, err))
		os.Exit(1)
	}
}

func run(ctx context.Context, m *migrate.Migrator, command string) error {
	switch command {
	case "up":
		count, err := m.Up(ctx)
		if err != nil {
			return err
		}
		if count == 0 {
			printSuccess("All migrations are up to date")
			return nil
		}
		printSuccess(fmt.Sprintf("Applied %d migration(s)", count))
	case "down":
		mig, err := m.Down(ctx)
		if err != nil {
			return err
		}
		if mig == nil {
			printWarning("No migrations to roll back")
			return nil
		}
		printSuccess(fmt.Sprintf("Rolled back migration %03d_%s", mig.Version, mig.Name))
	case "reset":
		printWarning("Resetting database (rollback all + reapply all)...")
		count, err := m.Reset(ctx)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Reapplied %d migration(s)", count))
	case "seed":
		count, err := m.Seed(ctx)
		if err != nil {
			return err
		}
		printSuccess(fmt.Sprintf("Ran %d seed file(s)", count))
	case "status":
		migrations, err := m.Status(ctx)
		if err != nil {
			return err
		}
		printStatus(migrations)
	}
	return nil
}

func printStatus(migrations []migrate.Migration) {
	if len(migrations) == 0 {
		printWarning("No migration files found in migrations/ directory")
		return
	}

	fmt.Printf("%s%-10s %-40s %-12s %-20s%s\n",
		colorBold, "VERSION", "NAME", "STATUS", "APPLIED AT", colorReset)
	fmt.Println(strings.Repeat("-", 85))

	applied := 0
	for _, mig := range migrations {
		status, statusColor, appliedAt := "pending", colorYellow, "-"
		if mig.Applied {
			applied++
			status, statusColor = "applied", colorGreen
			if mig.AppliedAt != nil {
				appliedAt = mig.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Printf("%-10s %-40s %s%-12s%s %-20s\n",
			fmt.Sprintf("%03d", mig.Version), mig.Name, statusColor, status, colorReset, appliedAt)
	}

	fmt.Println(strings.Repeat("-", 85))
	printInfo(fmt.Sprintf("Summary: %d/%d migrations applied", applied, len(migrations)))
}

func printSuccess(msg string) {
	fmt.Printf("%s%s%s\n", colorGreen, msg, colorReset)
}

func printError(msg string) {
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colorRed, msg, colorReset)
}

func printInfo(msg string) {
	fmt.Printf("%s%s%s\n", colorCyan, msg, colorReset)
}

func printWarning(msg string) {
	fmt.Printf("%s%s%s\n", colorYellow, msg, colorReset)
}

func printUsage() {
	printInfo("Campaign engine migration runner\n")
	fmt.Println("Usage: go run ./cmd/migrate [command]")
	fmt.Println("\nCommands:")
	fmt.Println("  up       - Apply all pending migrations")
	fmt.Println("  down     - Roll back the last applied migration")
	fmt.Println("  status   - Show current migration status")
	fmt.Println("  reset    - Roll back all migrations and reapply them")
	fmt.Println("  seed     - Run the SQL files in migrations/seed")
	fmt.Println("  help     - Show this help message")
	fmt.Println("\nMigration files are named NNN_name.sql. The rollback follows a")
	fmt.Println("'-- +migrate Down' line in the same file.")
}
