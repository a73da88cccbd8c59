// rlmd is the HTTP/WebSocket daemon exposing the Runtime's complete() and
// stream() operations (spec.md §6, SPEC_FULL.md §6).
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mepuka/recursive-llm-sub001/pkg/audit"
	"github.com/mepuka/recursive-llm-sub001/pkg/budget"
	"github.com/mepuka/recursive-llm-sub001/pkg/config"
	"github.com/mepuka/recursive-llm-sub001/pkg/llm"
	"github.com/mepuka/recursive-llm-sub001/pkg/llmcoord"
	"github.com/mepuka/recursive-llm-sub001/pkg/rlm"
	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/host"
	"github.com/mepuka/recursive-llm-sub001/pkg/sandbox/protocol"
	"github.com/mepuka/recursive-llm-sub001/pkg/scheduler"
	"github.com/mepuka/recursive-llm-sub001/pkg/transport/ws"
	"github.com/mepuka/recursive-llm-sub001/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("RLMD_CONFIG", "./config.yaml"), "path to configuration YAML file")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: could not load .env file: %v", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx := context.Background()
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}

	auditStore := buildAuditStore(ctx)
	defer auditStore.Close()

	runtime, err := buildRuntime(cfg, auditStore)
	if err != nil {
		log.Fatalf("failed to construct runtime: %v", err)
	}

	wsHandler := ws.NewHandler(10*time.Second, slog.Default())

	router := gin.Default()
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": version.Full()})
	})

	router.POST("/v1/complete", func(c *gin.Context) {
		var req struct {
			Query   string `json:"query" binding:"required"`
			Context string `json:"context"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		answer, err := runtime.Complete(c.Request.Context(), rlm.Options{Query: req.Query, Context: req.Context})
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"answer": answer})
	})

	router.GET("/v1/stream", func(c *gin.Context) {
		query := c.Query("query")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "query is required"})
			return
		}

		conn, err := websocket.Accept(c.Writer, c.Request, nil)
		if err != nil {
			slog.Default().Warn("rlmd: websocket accept failed", "error", err)
			return
		}

		events, err := runtime.Stream(c.Request.Context(), rlm.Options{Query: query, Context: c.Query("context")})
		if err != nil {
			conn.Close(websocket.StatusInternalError, err.Error())
			return
		}
		wsHandler.Serve(c.Request.Context(), conn, events)
	})

	log.Printf("%s listening on :%s", version.Full(), httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// buildAuditStore wires pkg/audit if AUDIT_DB_HOST is configured, otherwise
// falls back to a no-op store — auditing is optional (SPEC_FULL.md §4).
func buildAuditStore(ctx context.Context) audit.Store {
	if getEnv("AUDIT_DB_HOST", "") == "" {
		slog.Default().Info("rlmd: no AUDIT_DB_HOST set, running without an audit store")
		return audit.NoopStore{}
	}

	dbCfg, err := audit.LoadConfigFromEnv()
	if err != nil {
		slog.Default().Warn("rlmd: invalid audit DB config, falling back to no-op audit store", "error", err)
		return audit.NoopStore{}
	}
	store, err := audit.NewPGStore(ctx, dbCfg)
	if err != nil {
		slog.Default().Warn("rlmd: failed to connect to audit DB, falling back to no-op audit store", "error", err)
		return audit.NoopStore{}
	}
	return store
}

func buildRuntime(cfg *config.Config, auditStore audit.Store) (*rlm.Runtime, error) {
	primaryKey := ""
	if cfg.Primary.APIKeyEnv != "" {
		primaryKey = os.Getenv(cfg.Primary.APIKeyEnv)
	}
	primaryClient := llm.NewHTTPClient(cfg.Primary.BaseURL, primaryKey)

	var subClient llm.Client
	if cfg.Sub != nil {
		subKey := ""
		if cfg.Sub.APIKeyEnv != "" {
			subKey = os.Getenv(cfg.Sub.APIKeyEnv)
		}
		subClient = llm.NewHTTPClient(cfg.Sub.BaseURL, subKey)
	}

	schedCfg := scheduler.Config{
		MaxDepth:                cfg.Runtime.MaxDepth,
		MaxExecutionOutputChars: cfg.Runtime.MaxExecutionOutputChars,
		SandboxWorkerPath:       cfg.Sandbox.WorkerPath,
		ToolTimeout:             cfg.Sandbox.ToolTimeout,
		PrimaryModel:            cfg.Primary.Model,
	}
	if cfg.Sub != nil {
		schedCfg.SubModel = cfg.Sub.Model
	}
	schedCfg.SubLLMDelegation.Enabled = cfg.Runtime.SubLLMDelegationEnabled
	schedCfg.SubLLMDelegation.DepthThreshold = cfg.Runtime.SubLLMDelegationDepthThreshold

	return rlm.New(rlm.Config{
		PrimaryClient: primaryClient,
		SubClient:     subClient,
		Retry: llmcoord.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Jitter:      cfg.Retry.Jitter,
		},
		Scheduler: schedCfg,
		Sandbox: host.Config{
			WorkerPath:     cfg.Sandbox.WorkerPath,
			MaxOutputBytes: cfg.Sandbox.MaxOutputBytes,
			MaxFrameBytes:  cfg.Sandbox.MaxFrameBytes,
			SandboxMode:    sandboxModeFromConfig(cfg.Sandbox.Mode),
			InitTimeout:    cfg.Sandbox.InitTimeout,
			ShutdownGrace:  cfg.Sandbox.ShutdownGrace,
		},
		Budget: budget.Config{
			MaxIterations:  cfg.Budget.MaxIterations,
			MaxLLMCalls:    cfg.Budget.MaxLLMCalls,
			MaxTotalTokens: cfg.Budget.MaxTotalTokens,
			Concurrency:    cfg.Concurrency.MaxConcurrentLLMCalls,
		},
		Audit: auditStore,

		EventBufferCapacity: cfg.Runtime.EventBufferCapacity,
		QueueCapacity:       cfg.Runtime.QueueCapacity,
	})
}

// sandboxModeFromConfig maps the YAML "mode" string onto protocol.SandboxMode.
// Anything other than "strict" (including unset) is permissive.
func sandboxModeFromConfig(mode string) protocol.SandboxMode {
	if mode == "strict" {
		return protocol.SandboxModeStrict
	}
	return protocol.SandboxModePermissive
}
