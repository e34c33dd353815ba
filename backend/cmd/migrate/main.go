package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"engram/backend/internal/graph"
	"engram/backend/pkg/config"
	pkgerrors "engram/backend/pkg/errors"
	"engram/backend/pkg/logger"
)

const migrationVersion = "graph_schema_v1"

func main() {
	force := flag.Bool("force", false, "Force migration even if already applied")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting Neo4j schema migration...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	defer driver.Close(context.Background())

	// Verify connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(pkgerrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)))
	}

	// Check if migration already applied
	if !*force {
		applied, err := checkMigrationApplied(ctx, driver)
		if err != nil {
			log.Fatal("Failed to check migration status", zap.Error(err))
		}
		if applied {
			log.Info("Migration already applied. Use -force to reapply.")
			os.Exit(0)
		}
	}

	// Run migrations
	if err := runMigrations(ctx, driver, cfg.EmbeddingDims, log); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}

	// Mark migration as applied
	if err := markMigrationApplied(ctx, driver); err != nil {
		log.Warn("Failed to mark migration as applied", zap.Error(err))
	}

	log.Info("Migration completed successfully!")
}

func checkMigrationApplied(ctx context.Context, driver neo4j.DriverWithContext) (bool, error) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		MATCH (m:Migration {version: $version})
		RETURN m.applied_at as applied_at
	`

	result, err := session.Run(ctx, query, map[string]interface{}{"version": migrationVersion})
	if err != nil {
		return false, err
	}

	return result.Next(ctx), nil
}

func markMigrationApplied(ctx context.Context, driver neo4j.DriverWithContext) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := `
		MERGE (m:Migration {version: $version})
		SET m.applied_at = datetime(),
		    m.description = 'Entity graph schema: key constraints, lookup indexes, embedding vector index'
	`

	_, err := session.Run(ctx, query, map[string]interface{}{"version": migrationVersion})
	return err
}

func runMigrations(ctx context.Context, driver neo4j.DriverWithContext, embeddingDims int, log *zap.Logger) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	migrations := []struct {
		name        string
		description string
		query       string
	}{
		{
			name:        "Create Constraints",
			description: "Unique entity keys and alias identity",
			query: `
				CREATE CONSTRAINT entity_key_unique IF NOT EXISTS FOR (n:Entity) REQUIRE n.entity_key IS UNIQUE;

				CREATE CONSTRAINT alias_identity IF NOT EXISTS FOR (a:Alias) REQUIRE (a.normalized_name, a.type, a.user_id) IS UNIQUE;
			`,
		},
		{
			name:        "Create Indexes",
			description: "Lookup indexes for per-user resolution queries",
			query: `
				CREATE INDEX entity_user IF NOT EXISTS FOR (n:Entity) ON (n.user_id);
				CREATE INDEX entity_user_type IF NOT EXISTS FOR (n:Entity) ON (n.user_id, n.entity_type);
				CREATE INDEX entity_canonical IF NOT EXISTS FOR (n:Entity) ON (n.user_id, n.canonical_name);
				CREATE INDEX person_name IF NOT EXISTS FOR (p:Person) ON (p.user_id, p.name);
			`,
		},
		{
			name:        "Create Vector Index",
			description: "Cosine vector index over entity embeddings",
			query: fmt.Sprintf(`
				CREATE VECTOR INDEX %s IF NOT EXISTS
				FOR (n:Entity) ON (n.embedding)
				OPTIONS {indexConfig: {
					`+"`vector.dimensions`"+`: %d,
					`+"`vector.similarity_function`"+`: 'cosine'
				}};
			`, graph.EmbeddingIndexName, embeddingDims),
		},
	}

	for _, m := range migrations {
		log.Info("Applying migration step",
			zap.String("name", m.name),
			zap.String("description", m.description),
		)

		// Neo4j runs one statement per call; split on semicolons.
		for _, stmt := range strings.Split(m.query, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := session.Run(ctx, stmt, nil); err != nil {
				return fmt.Errorf("migration step %q failed: %w", m.name, err)
			}
		}
	}

	return nil
}
