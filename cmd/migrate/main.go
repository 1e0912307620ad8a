package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jscharber/convosense/internal/database"
	"github.com/jscharber/convosense/pkg/config"
	"github.com/jscharber/convosense/pkg/logger"
)

func main() {
	var (
		configFile = flag.String("config", "", "Path to configuration file; only the database section is read")
		host       = flag.String("host", "", "Database host")
		port       = flag.Int("port", 0, "Database port")
		username   = flag.String("username", "", "Database username")
		password   = flag.String("password", "", "Database password")
		dbname     = flag.String("database", "", "Database name")
		sslmode    = flag.String("sslmode", "", "SSL mode")
		command    = flag.String("command", "migrate", "Command to run: migrate, status, up, reset, validate")
		count      = flag.Int("count", 0, "Number of migrations to run (for 'up' command)")
		yes        = flag.Bool("yes", false, "Skip the confirmation prompt of 'reset'")
		timeout    = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	file := struct {
		Database *database.Config `yaml:"database" json:"database"`
	}{Database: database.DefaultConfig()}

	if err := config.ValidateConfigPath(*configFile); err != nil {
		log.Fatalf("Invalid config file: %v", err)
	}
	if err := config.NewLoader("CONVOSENSE").Load(*configFile, &file); err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cfg := file.Database
	cfg.Driver = database.DriverPostgres
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *username != "" {
		cfg.Username = *username
	}
	if *password != "" {
		cfg.Password = *password
	}
	if *dbname != "" {
		cfg.Database = *dbname
	}
	if *sslmode != "" {
		cfg.SSLMode = *sslmode
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid database configuration: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	migrator, err := database.NewMigrator(ctx, cfg, logger.NewDefaultLogger("convosense-migrate", "1.0.0"))
	if err != nil {
		log.Fatalf("Failed to create migrator: %v", err)
	}
	defer migrator.Close()

	switch *command {
	case "migrate":
		if err := migrator.Migrate(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		fmt.Println("Migrations completed successfully")

	case "status":
		status, err := migrator.GetMigrationStatus(ctx)
		if err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}

		fmt.Println("Migration Status:")
		fmt.Println("=================")
		for _, migration := range status {
			state := "Pending"
			if migration.Applied {
				state = fmt.Sprintf("Applied (%s)", migration.AppliedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Version %s: %s\n", migration.Version, state)
		}

	case "up":
		if *count <= 0 {
			log.Fatal("Count must be greater than 0 for 'up' command")
		}
		if err := migrator.MigrateUp(ctx, *count); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		fmt.Printf("Successfully applied %d migrations\n", *count)

	case "reset":
		if !*yes {
			fmt.Println("WARNING: This will drop all tables and data!")
			fmt.Print("Are you sure? (y/N): ")
			var confirm string
			fmt.Scanln(&confirm)
			if confirm != "y" && confirm != "Y" {
				fmt.Println("Operation cancelled")
				return
			}
		}

		if err := migrator.Reset(ctx); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		fmt.Println("Database reset completed successfully")

	case "validate":
		if err := migrator.ValidateDatabase(ctx); err != nil {
			log.Fatalf("Database validation failed: %v", err)
		}
		fmt.Println("Database schema is valid")

	default:
		fmt.Printf("Unknown command: %s\n", *command)
		fmt.Println("Available commands: migrate, status, up, reset, validate")
		os.Exit(1)
	}
}
