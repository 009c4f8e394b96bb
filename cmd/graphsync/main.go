package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/asakaida/graphsync/internal/entities"
	"github.com/asakaida/graphsync/internal/infrastructure/config"
	"github.com/asakaida/graphsync/internal/infrastructure/database"
	"github.com/asakaida/graphsync/internal/infrastructure/metrics"
	"github.com/asakaida/graphsync/internal/repositories"
	neo4jstore "github.com/asakaida/graphsync/internal/repositories/neo4j"
	"github.com/asakaida/graphsync/internal/repositories/postgres"
	"github.com/asakaida/graphsync/internal/repositories/sqlite"
	"github.com/asakaida/graphsync/internal/services/ingest"
	"github.com/asakaida/graphsync/internal/services/parser"
	"github.com/asakaida/graphsync/pkg/cache"
	"github.com/asakaida/graphsync/pkg/cache/memorycache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	envFlag     string
	schemaPaths []string
	updateTag   int64
	runParams   []string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "graphsync",
	Short: "Graph ingestion engine",
	Long: `Graph ingestion engine.
Loads records into a property graph according to declarative HCL node schemas
and removes the data a sync run did not refresh.`,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate schema files",
	Long:  `Decode and validate every schema file and report the registered schemas.`,
	Run:   runValidate,
}

var loadCmd = &cobra.Command{
	Use:   "load <schema> <records.json>",
	Short: "Load records into the graph",
	Long:  `Upsert the records of a JSON array file as nodes of the named schema.`,
	Args:  cobra.ExactArgs(2),
	Run:   runLoad,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <schema>",
	Short: "Remove stale graph data",
	Long:  `Delete nodes and relationships of the named schema whose lastupdated differs from --update-tag.`,
	Args:  cobra.ExactArgs(1),
	Run:   runCleanup,
}

var syncCmd = &cobra.Command{
	Use:   "sync <schema> <records.json>",
	Short: "Load records, then clean up",
	Long:  `Load the records and clean up the schema's label. A cleanup failure is logged but does not fail the command.`,
	Args:  cobra.ExactArgs(2),
	Run:   runSync,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")
	rootCmd.PersistentFlags().StringSliceVarP(&schemaPaths, "schema", "s", []string{"schemas"}, "Schema files or directories of *.hcl files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	for _, cmd := range []*cobra.Command{loadCmd, cleanupCmd, syncCmd} {
		cmd.Flags().Int64Var(&updateTag, "update-tag", time.Now().Unix(), "Update tag stamped on every written entity")
		cmd.Flags().StringArrayVarP(&runParams, "param", "p", nil, "Run parameter KEY=VALUE referenced by constant properties")
	}

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(syncCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Failed to execute command: %v", err)
	}
}

func runValidate(cmd *cobra.Command, args []string) {
	catalog, err := parser.LoadCatalog(schemaPaths...)
	if err != nil {
		log.Fatalf("Invalid schema: %v", err)
	}

	for _, name := range catalog.Names() {
		s, _ := catalog.Get(name)
		scope := "global"
		if s.ScopedCleanup {
			scope = "scoped to " + s.SubResourceRel.TargetLabel
		}
		fmt.Printf("%s: label=%s properties=%d relationships=%d cleanup=%s\n",
			name, s.Label, len(s.Properties), len(s.Relationships()), scope)
	}
	log.Printf("%d schema(s) valid", len(catalog.Names()))
}

func runLoad(cmd *cobra.Command, args []string) {
	withEngine(args[0], func(ctx context.Context, e *ingest.Engine, session repositories.Session, s *entities.NodeSchema, rc entities.RunContext) error {
		records, err := readRecords(args[1])
		if err != nil {
			return err
		}
		return e.Load(ctx, session, s, records, rc)
	})
}

func runCleanup(cmd *cobra.Command, args []string) {
	withEngine(args[0], func(ctx context.Context, e *ingest.Engine, session repositories.Session, s *entities.NodeSchema, rc entities.RunContext) error {
		return e.Cleanup(ctx, session, s, rc)
	})
}

func runSync(cmd *cobra.Command, args []string) {
	withEngine(args[0], func(ctx context.Context, e *ingest.Engine, session repositories.Session, s *entities.NodeSchema, rc entities.RunContext) error {
		records, err := readRecords(args[1])
		if err != nil {
			return err
		}
		return e.Sync(ctx, session, s, records, rc)
	})
}

type engineFunc func(ctx context.Context, e *ingest.Engine, session repositories.Session, s *entities.NodeSchema, rc entities.RunContext) error

// withEngine wires configuration, store session, metrics and engine, then
// runs fn for the named schema.
func withEngine(schemaName string, fn engineFunc) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.SetLevel(level)

	catalog, err := parser.LoadCatalog(schemaPaths...)
	if err != nil {
		log.Fatalf("Invalid schema: %v", err)
	}
	schema, ok := catalog.Get(schemaName)
	if !ok {
		log.Fatalf("Unknown schema %q (known: %s)", schemaName, strings.Join(catalog.Names(), ", "))
	}

	params, err := parseParams(runParams)
	if err != nil {
		log.Fatalf("Invalid run parameter: %v", err)
	}
	rc := entities.NewRunContext(updateTag, params)

	if err := config.InitConfig(envFlag); err != nil {
		log.Fatalf("Failed to initialize config: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	queryCache := newQueryCache(&cfg.Cache)
	collector := metrics.NewCollector()
	collector.SetCache(queryCache)
	var exporter *metrics.PrometheusExporter
	if cfg.Metrics.Enabled {
		exporter = metrics.NewPrometheusExporter(collector, nil)
		go serveMetrics(cfg.Metrics.Port)
	}
	recorder := metrics.NewRecorder(collector, exporter)

	session, closeStore, err := openSession(ctx, cfg, queryCache)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Ingest.Store, err)
	}
	defer closeStore()

	engine := ingest.NewEngine(ingest.ConfigFrom(cfg.Ingest), logger, recorder)
	err = fn(ctx, engine, session, schema, rc)
	if exporter != nil {
		exporter.Update()
		log.Printf("Serving final metrics for %s", cfg.Metrics.Linger)
		linger(ctx, cfg.Metrics.Linger)
	}
	if err != nil {
		closeStore()
		log.Fatalf("Run %s failed: %v", rc.RunID(), err)
	}

	m := collector.GetStatementMetrics()
	log.Printf("Run %s finished: %d statement kind(s), %d retries, %d cleanup failure(s)",
		rc.RunID(), len(m.Counts), m.Retries, sum(m.CleanupFailures))
}

// linger blocks for d so a scraper can collect the metrics of a finished
// run. An interrupt ends the wait early.
func linger(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func newQueryCache(cfg *config.CacheConfig) cache.Cache {
	if !cfg.Enabled {
		return nil
	}
	c, err := memorycache.New(&memorycache.Config{
		MaxSizeBytes:  cfg.MaxMemoryBytes,
		DefaultTTL:    time.Duration(cfg.TTLMinutes) * time.Minute,
		EnableMetrics: true,
	})
	if err != nil {
		log.Fatalf("Failed to create query cache: %v", err)
	}
	return c
}

// openSession connects to the configured store. The returned func releases it.
func openSession(ctx context.Context, cfg *config.Config, queryCache cache.Cache) (repositories.Session, func(), error) {
	switch cfg.Ingest.Store {
	case config.StorePostgres:
		pg, err := database.NewPostgres(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Connected to database: %s@%s:%d/%s",
			cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
		return postgres.NewGraphSession(pg.DB, queryCache), func() { pg.Close() }, nil

	case config.StoreSQLite:
		db, err := database.NewSQLite(&cfg.SQLite)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Opened sqlite database: %s", cfg.SQLite.Path)
		return sqlite.NewGraphSession(db.DB, queryCache), func() { db.Close() }, nil

	case config.StoreNeo4j:
		driver, err := neo4jstore.NewDriver(ctx, &cfg.Neo4j)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("Connected to neo4j: %s", cfg.Neo4j.URI)
		session := neo4jstore.NewNeo4jSession(ctx, driver, cfg.Neo4j.Database, queryCache)
		return session, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			session.Close(closeCtx)
			driver.Close(closeCtx)
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Ingest.Store)
	}
}

func serveMetrics(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	addr := fmt.Sprintf(":%d", port)
	log.Printf("Metrics listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Metrics server error: %v", err)
	}
}

// readRecords decodes a JSON array of objects. Integral numbers become
// int64 so ids keep their integer form in every store.
func readRecords(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open records: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode records %s: %w", path, err)
	}
	for _, r := range records {
		for k, v := range r {
			r[k] = normalizeNumbers(v)
		}
	}
	return records, nil
}

func normalizeNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, err := x.Float64()
		if err != nil {
			// Out of range for both; stores accept json.Number as is.
			return x
		}
		return normalizeNumbers(f)
	case float64:
		if x >= math.MinInt64 && x < math.MaxInt64 && x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeNumbers(x[i])
		}
		return x
	case map[string]any:
		for k := range x {
			x[k] = normalizeNumbers(x[k])
		}
		return x
	default:
		return v
	}
}

func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))
	for _, p := range raw {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%q is not KEY=VALUE", p)
		}
		params[key] = value
	}
	return params, nil
}

func sum(m map[string]uint64) uint64 {
	var total uint64
	for _, v := range m {
		total += v
	}
	return total
}
