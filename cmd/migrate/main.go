package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/asakaida/graphsync/internal/infrastructure/config"
	"github.com/asakaida/graphsync/internal/infrastructure/database"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

var (
	envFlag string
	m       *migrate.Migrate
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Graph table migration tool for graphsync",
	Long: `Graph table migration tool for graphsync.
Manages the relational graph tables of the postgres or sqlite store
(INGEST_STORE) using golang-migrate. Neo4j needs no migrations; its indexes
are created by the ingest engine.`,
	PersistentPreRun:  setupMigrate,
	PersistentPostRun: closeMigrate,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Run:   runUp,
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Rollback migrations",
	Long:  `Rollback the specified number of migrations (default: 1).`,
	Args:  cobra.MaximumNArgs(1),
	Run:   runDown,
}

var gotoCmd = &cobra.Command{
	Use:   "goto <version>",
	Short: "Migrate to a specific version",
	Args:  cobra.ExactArgs(1),
	Run:   runGoto,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show current migration version",
	Run:   runVersion,
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Force set migration version (use with caution)",
	Long:  `Force set the migration version without running migrations. Use with caution.`,
	Args:  cobra.ExactArgs(1),
	Run:   runForce,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(gotoCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(forceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func setupMigrate(cmd *cobra.Command, args []string) {
	log.Printf("Using environment: %s", envFlag)

	if err := config.InitConfig(envFlag); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to %s store: %v", cfg.Ingest.Store, err)
	}

	m, err = database.NewMigrate(db, cfg.Ingest.Store)
	if err != nil {
		db.Close()
		log.Fatalf("Failed to create migrate instance: %v", err)
	}
}

func openStore(cfg *config.Config) (*sql.DB, error) {
	switch cfg.Ingest.Store {
	case config.StorePostgres:
		pg, err := database.NewPostgres(&cfg.Database)
		if err != nil {
			return nil, err
		}
		log.Printf("Connected to database: %s@%s:%d/%s",
			cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		return pg.DB, nil
	case config.StoreSQLite:
		// NewSQLite migrates on open, which would defeat down/goto/force.
		db, err := sql.Open("sqlite", cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		log.Printf("Opened sqlite database: %s", cfg.SQLite.Path)
		return db, nil
	default:
		return nil, fmt.Errorf("store %q has no migrations", cfg.Ingest.Store)
	}
}

// closeMigrate closes the source and the database behind it.
func closeMigrate(cmd *cobra.Command, args []string) {
	if m == nil {
		return
	}
	if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
		log.Printf("Failed to close migrate instance: source=%v database=%v", srcErr, dbErr)
	}
}

func runUp(cmd *cobra.Command, args []string) {
	err := m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("No migrations to apply")
	case err != nil:
		log.Fatalf("Migration up failed: %v", err)
	default:
		log.Println("Migration up completed successfully")
	}
}

func runDown(cmd *cobra.Command, args []string) {
	steps := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			log.Fatalf("Invalid steps %q: must be a positive integer", args[0])
		}
		steps = n
	}

	err := m.Steps(-steps)
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Println("No migrations to rollback")
	case err != nil:
		log.Fatalf("Migration down failed: %v", err)
	default:
		log.Printf("Migration down completed successfully (rolled back %d migration(s))", steps)
	}
}

func runGoto(cmd *cobra.Command, args []string) {
	version, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		log.Fatalf("Invalid version %q: %v", args[0], err)
	}

	err = m.Migrate(uint(version))
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Printf("Already at version %d", version)
	case err != nil:
		log.Fatalf("Migration goto failed: %v", err)
	default:
		log.Printf("Migration goto %d completed successfully", version)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		log.Println("Current version: No migrations applied yet")
		return
	}
	if err != nil {
		log.Fatalf("Failed to get version: %v", err)
	}

	if dirty {
		log.Printf("Current version: %d (dirty - migration may have failed)", version)
	} else {
		log.Printf("Current version: %d", version)
	}
}

func runForce(cmd *cobra.Command, args []string) {
	version, err := strconv.Atoi(args[0])
	if err != nil {
		log.Fatalf("Invalid version %q: %v", args[0], err)
	}

	if err := m.Force(version); err != nil {
		log.Fatalf("Migration force failed: %v", err)
	}
	log.Printf("Migration forced to version %d", version)
}
