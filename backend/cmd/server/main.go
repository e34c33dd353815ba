package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"engram/backend/internal/adapter"
	"engram/backend/internal/explore"
	"engram/backend/internal/graph"
	"engram/backend/internal/ingest"
	"engram/backend/internal/normalize"
	"engram/backend/internal/resolve"
	"engram/backend/internal/salience"
	"engram/backend/pkg/config"
	pkgerrors "engram/backend/pkg/errors"
	"engram/backend/pkg/logger"
	"engram/backend/pkg/metrics"
)

func main() {
	// Initialize logger
	env := os.Getenv("ENV")
	if env == "" {
		env = "development"
	}
	if err := logger.Init(env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting knowledge graph engine...")

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

	// Verify Neo4j connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(pkgerrors.NewGraphConnectionFailed(cfg.Neo4jURI, err)))
	}

	// Initialize dependencies
	var collector metrics.Collector
	var promCollector *metrics.PrometheusCollector
	if cfg.MetricsEnabled {
		promCollector = metrics.NewPrometheusCollector()
		collector = promCollector
	} else {
		collector = metrics.NewNoopCollector()
	}

	graphRepo := graph.NewRepository(driver)
	llmAdapter := adapter.NewLLMAdapter(cfg.LiteLLMURL, cfg.LLMAPIKey, cfg.ChatModelID, cfg.EmbeddingModelID)
	resolver := resolve.NewResolver(graphRepo, llmAdapter, cfg.DisambiguationTopK, cfg.SignalTimeout, collector)
	tracker := salience.NewTracker(graphRepo)
	orchestrator := explore.NewOrchestrator(graphRepo, llmAdapter, cfg.SignalTimeout, collector)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Metrics
	if promCollector != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promCollector.Registry(), promhttp.HandlerOpts{})))
	}

	// API routes
	api := router.Group("/api")
	{
		// Resolve a mention to a stable entity
		api.POST("/resolve", func(c *gin.Context) {
			ctx := c.Request.Context()

			var req struct {
				Name        string    `json:"name" binding:"required"`
				Type        string    `json:"type" binding:"required"`
				UserID      string    `json:"user_id" binding:"required"`
				Description string    `json:"description"`
				Embedding   []float32 `json:"embedding"`
				ContextText string    `json:"context_text"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			entityType, err := normalize.ParseEntityType(req.Type)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			res, err := resolver.Resolve(ctx, resolve.Mention{
				Name:        req.Name,
				Type:        entityType,
				UserID:      req.UserID,
				Description: req.Description,
				Embedding:   req.Embedding,
				ContextText: req.ContextText,
			})
			if err != nil {
				respondError(c, log, "Failed to resolve mention", err)
				return
			}

			c.JSON(http.StatusOK, res)
		})

		// Ranked retrieval with bounded expansion
		api.POST("/explore", func(c *gin.Context) {
			ctx := c.Request.Context()

			var req struct {
				UserID              string          `json:"user_id" binding:"required"`
				Queries             []explore.Query `json:"queries"`
				TextMatches         []string        `json:"text_matches"`
				SearchRelationships *bool           `json:"search_relationships"`
				ReturnExplanations  bool            `json:"return_explanations"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			// Relationship search defaults on.
			searchRelationships := true
			if req.SearchRelationships != nil {
				searchRelationships = *req.SearchRelationships
			}

			result, err := orchestrator.Explore(ctx, explore.Request{
				UserID:              req.UserID,
				Queries:             req.Queries,
				TextMatches:         req.TextMatches,
				SearchRelationships: searchRelationships,
				ReturnExplanations:  req.ReturnExplanations,
			})
			if err != nil {
				respondError(c, log, "Failed to explore", err)
				return
			}

			c.JSON(http.StatusOK, result)
		})

		// Record entity accesses (single key or batch)
		api.POST("/access", func(c *gin.Context) {
			ctx := c.Request.Context()

			var req struct {
				EntityKey  string   `json:"entity_key"`
				EntityKeys []string `json:"entity_keys"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			if req.EntityKey == "" && len(req.EntityKeys) == 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "entity_key or entity_keys is required"})
				return
			}

			var err error
			if req.EntityKey != "" {
				err = tracker.RecordAccess(ctx, req.EntityKey)
			} else {
				err = tracker.RecordAccessBatch(ctx, req.EntityKeys)
			}
			if err != nil {
				respondError(c, log, "Failed to record access", err)
				return
			}

			c.JSON(http.StatusOK, gin.H{"status": "recorded"})
		})

		// Signed salience adjustment, for the external decay job
		api.POST("/salience/adjust", func(c *gin.Context) {
			ctx := c.Request.Context()

			var req struct {
				EntityKey string  `json:"entity_key" binding:"required"`
				Delta     float64 `json:"delta"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			if err := tracker.Adjust(ctx, req.EntityKey, req.Delta); err != nil {
				respondError(c, log, "Failed to adjust salience", err)
				return
			}

			c.JSON(http.StatusOK, gin.H{"status": "adjusted"})
		})

		// Register a provenance source and its mention edges
		api.POST("/sources", func(c *gin.Context) {
			ctx := c.Request.Context()

			var req struct {
				UserID        string   `json:"user_id" binding:"required"`
				ExternalID    string   `json:"external_id" binding:"required"`
				Title         string   `json:"title"`
				Kind          string   `json:"kind"`
				URL           string   `json:"url"`
				HTML          string   `json:"html"`
				Excerpt       string   `json:"excerpt"`
				MentionedKeys []string `json:"mentioned_entity_keys"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			title, excerpt := req.Title, req.Excerpt
			if req.HTML != "" {
				doc, err := ingest.ExtractDocument(req.HTML)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				if title == "" {
					title = doc.Title
				}
				if excerpt == "" {
					excerpt = doc.Excerpt
				}
			}

			sourceKey, err := graphRepo.RegisterSource(ctx, graph.SourceInput{
				UserID:     req.UserID,
				ExternalID: req.ExternalID,
				Title:      title,
				Kind:       req.Kind,
				Excerpt:    excerpt,
				URL:        req.URL,
			}, req.MentionedKeys)
			if err != nil {
				respondError(c, log, "Failed to register source", err)
				return
			}

			c.JSON(http.StatusOK, gin.H{"source_key": sourceKey})
		})

		// Upsert a typed edge between two entities
		api.POST("/edges", func(c *gin.Context) {
			ctx := c.Request.Context()

			var req struct {
				UserID    string   `json:"user_id" binding:"required"`
				FromKey   string   `json:"from_key" binding:"required"`
				ToKey     string   `json:"to_key" binding:"required"`
				Type      string   `json:"type" binding:"required"`
				Attitude  int      `json:"attitude"`
				Proximity int      `json:"proximity"`
				Relevance *float64 `json:"relevance"`
				Note      string   `json:"note"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			edge, err := graphRepo.UpsertEdge(ctx, graph.EdgeInput{
				UserID:    req.UserID,
				FromKey:   req.FromKey,
				ToKey:     req.ToKey,
				Type:      req.Type,
				Attitude:  req.Attitude,
				Proximity: req.Proximity,
				Relevance: req.Relevance,
				Note:      req.Note,
			})
			if err != nil {
				respondError(c, log, "Failed to upsert edge", err)
				return
			}

			c.JSON(http.StatusOK, edge)
		})

		// Append a note to an entity
		api.POST("/entities/:key/notes", func(c *gin.Context) {
			ctx := c.Request.Context()
			entityKey := c.Param("key")

			var req struct {
				UserID    string     `json:"user_id" binding:"required"`
				Content   string     `json:"content" binding:"required"`
				AddedBy   string     `json:"added_by"`
				SourceID  string     `json:"source_id"`
				ExpiresAt *time.Time `json:"expires_at"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}

			noteID, err := graphRepo.AppendNote(ctx, entityKey, req.UserID, graph.Note{
				Content:   req.Content,
				AddedBy:   req.AddedBy,
				SourceID:  req.SourceID,
				ExpiresAt: req.ExpiresAt,
			})
			if err != nil {
				respondError(c, log, "Failed to append note", err)
				return
			}

			c.JSON(http.StatusOK, gin.H{"note_id": noteID})
		})

		// List an entity's notes, most recent first
		api.GET("/entities/:key/notes", func(c *gin.Context) {
			ctx := c.Request.Context()
			entityKey := c.Param("key")
			userID := c.Query("user_id")
			if userID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
				return
			}

			notes, err := graphRepo.GetNotes(ctx, entityKey, userID)
			if err != nil {
				respondError(c, log, "Failed to fetch notes", err)
				return
			}

			c.JSON(http.StatusOK, gin.H{"notes": notes})
		})
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// respondError maps the error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, log *zap.Logger, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case pkgerrors.IsErrorType(err, pkgerrors.ErrorTypeInvalidArgument):
		status = http.StatusBadRequest
	case pkgerrors.IsErrorType(err, pkgerrors.ErrorTypeDataIntegrity):
		status = http.StatusConflict
	case pkgerrors.IsErrorType(err, pkgerrors.ErrorTypeUpstreamTimeout):
		status = http.StatusGatewayTimeout
	case pkgerrors.IsErrorType(err, pkgerrors.ErrorTypeUpstreamFailure):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		log.Error(msg, zap.Error(err))
	} else {
		log.Warn(msg, zap.Error(err))
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
