// Package cli provides the command-line entry point and HTTP server for the
// knowledge graph build orchestration service.
//
// This package orchestrates the complete application lifecycle: configuration
// loading, Neo4j connectivity and schema setup, wiring of the LLM/embeddings
// client, the source hooks provider, the graph-construction builder and the
// build trigger service, and finally the Echo HTTP server carrying the /kg/*
// API, /healthz and /metrics.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags
//  2. Environment variables
//  3. Configuration file values
//  4. Defaults (config.SetDefaults)
package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kgraphsvc.evalgo.org/api"
	"kgraphsvc.evalgo.org/atom"
	"kgraphsvc.evalgo.org/build"
	"kgraphsvc.evalgo.org/common"
	"kgraphsvc.evalgo.org/config"
	"kgraphsvc.evalgo.org/hooks"
	"kgraphsvc.evalgo.org/kgstore"
	"kgraphsvc.evalgo.org/llm"
	"kgraphsvc.evalgo.org/metrics"
	"kgraphsvc.evalgo.org/querycache"
	"kgraphsvc.evalgo.org/retry"
)

// cfgFile holds the path to the configuration file specified via --config.
var cfgFile string

// RootCmd is the service's single command: there are no subcommands, since the
// service has exactly one runtime mode (serve the HTTP API).
var RootCmd = &cobra.Command{
	Use:   "kgraphsvc",
	Short: "knowledge graph build orchestration service",
	Long: `kgraphsvc builds and serves a versioned knowledge graph in Neo4j.

It exposes an HTTP API to trigger full rebuilds and incremental updates from a
pluggable source of documents, runs the extraction/graph-construction pipeline
against an OpenAI-compatible LLM, and serves the resulting graph through
/kg/query, /kg/types/* and /kg/stats once a version finishes building.

Configuration can be provided via a config file, environment variables, or
command-line flags, with flags taking precedence.`,
	Run: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/kgraphsvc.yaml or ./kgraphsvc.yaml)")
	RootCmd.PersistentFlags().Int("port", 0, "HTTP server port")
	RootCmd.PersistentFlags().String("neo4j-uri", "", "Neo4j connection URI")
	RootCmd.PersistentFlags().String("api-key", "", "bearer token required on /kg/* requests")

	viper.BindPFlag("server.port", RootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("neo4j.uri", RootCmd.PersistentFlags().Lookup("neo4j-uri"))
	viper.BindPFlag("server.api_key", RootCmd.PersistentFlags().Lookup("api-key"))
}

// initConfig wires viper's file/env sources; typed loading and validation
// happens later in runServer via config.Load, not here.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("kgraphsvc")
	}

	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

var envKeyReplacer = strings.NewReplacer(".", "_")

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxRetries:        cfg.MaxRetries,
		InitialBackoff:    time.Duration(cfg.InitialBackoffS * float64(time.Second)),
		MaxBackoff:        time.Duration(cfg.MaxBackoffS * float64(time.Second)),
		BackoffMultiplier: cfg.BackoffMultiplier,
	}
}

// runServer wires every collaborator package into a running HTTP server and
// blocks until SIGINT/SIGTERM triggers a graceful shutdown.
func runServer(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		common.Logger.WithError(err).Fatal("invalid configuration")
	}

	logger := common.NewLogger(common.LoggerConfig{
		Level:   common.LogLevel(cfg.Logging.Level),
		Format:  cfg.Logging.Format,
		Service: "kgraphsvc",
	})
	common.Logger = logger

	logger.WithFields(logrus.Fields{
		"neo4j_uri":      cfg.Neo4j.URI,
		"neo4j_password": common.MaskSecret(cfg.Neo4j.Password),
		"llm_api_key":    common.MaskSecret(cfg.LLM.APIKey),
		"embed_api_key":  common.MaskSecret(cfg.Embeddings.APIKey),
		"server_api_key": common.MaskSecret(cfg.Server.APIKey),
	}).Info("configuration loaded")

	ctx := context.Background()

	client, err := kgstore.NewClient(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to neo4j")
	}
	defer client.Close(ctx)

	state := kgstore.NewStateStore(client, cfg.Server.GraphName)
	if err := state.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("failed to ensure graph schema")
	}
	if err := state.RecoverIfInterrupted(ctx); err != nil {
		logger.WithError(err).Fatal("failed to recover interrupted task state")
	}
	graph := kgstore.NewGraphStore(client, cfg.Server.GraphName)

	hooksProvider, err := hooks.New(cfg.Hooks)
	if err != nil {
		logger.WithError(err).Fatal("failed to construct source hooks provider")
	}

	var m *metrics.Metrics
	if cfg.Deps.MetricsEnabled {
		m = metrics.New("kgraphsvc")
	}

	llmClient := llm.New(llm.Config{
		ChatAPIKey:      cfg.LLM.APIKey,
		ChatBaseURL:     cfg.LLM.APIBaseURL,
		ChatModel:       cfg.LLM.Model,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		ChatRPM:         cfg.LLM.RateLimit.RPM,
		ChatTPM:         cfg.LLM.RateLimit.TPM,
		ChatMaxInFlight: cfg.LLM.Concurrency.MaxInFlight,
		ChatRetry:       retryPolicy(cfg.LLM.Retry),

		ChatMaxElementsPerBatch: cfg.LLM.Batch.MaxElementsPerBatch,
		ChatMaxTokensPerBatch:   cfg.LLM.Batch.MaxTokensPerBatch,
		ChatMaxPendingRequests:  cfg.LLM.Batch.MaxPendingRequests,
		ChatSleepBetweenBatches: time.Duration(cfg.LLM.Batch.SleepBetweenBatchesS * float64(time.Second)),

		EmbedAPIKey:      cfg.Embeddings.APIKey,
		EmbedBaseURL:     cfg.Embeddings.APIBaseURL,
		EmbedModel:       cfg.Embeddings.Model,
		EmbedRPM:         cfg.Embeddings.RateLimit.RPM,
		EmbedTPM:         cfg.Embeddings.RateLimit.TPM,
		EmbedMaxInFlight: cfg.Embeddings.Concurrency.MaxInFlight,
		EmbedRetry:       retryPolicy(cfg.Embeddings.Retry),

		Metrics: m,
	})
	builder := atom.NewBuilder(llmClient)

	buildService := build.NewService(*cfg, state, graph, hooksProvider, builder).WithMetrics(m)

	var cache *querycache.Cache
	if cfg.Deps.RedisURL != "" {
		cache, err = querycache.New(ctx, querycache.Config{
			RedisURL:  cfg.Deps.RedisURL,
			KeyPrefix: cfg.Server.GraphName,
			TTL:       cfg.Deps.CacheTTL,
		})
		if err != nil {
			logger.WithError(err).Warn("failed to connect to query cache, running uncached")
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.Server.CORSAllowOrigins}))
	e.HTTPErrorHandler = api.HTTPErrorHandler

	api.RegisterHealthz(e)
	if m != nil {
		metrics.Register(e, "")
	}

	handlers := &api.Handlers{
		GraphName:         cfg.Server.GraphName,
		State:             state,
		Graph:             graph,
		Build:             buildService,
		Cache:             cache,
		Metrics:           m,
		DefaultLimitNodes: cfg.Query.DefaultLimitNodes,
		DefaultLimitEdges: cfg.Query.DefaultLimitEdges,
		DefaultDepth:      cfg.Query.DefaultDepth,
		MaxSeedNodes:      cfg.Query.MaxSeedNodes,
	}
	kg := e.Group("", api.BearerAuthMiddleware(cfg.Server.APIKey))
	handlers.RegisterRoutes(kg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		logger.Infof("server starting on %s", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Fatal("graceful shutdown failed")
	}
}
