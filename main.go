package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zlnvch/learnlink/api"
	"github.com/zlnvch/learnlink/cache/redis"
	"github.com/zlnvch/learnlink/config"
	"github.com/zlnvch/learnlink/mq/sqsmq"
	"github.com/zlnvch/learnlink/store/dynamo"
	"golang.org/x/oauth2"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	awsCfg, err := cfg.AWS(ctx)
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	classroomStore, err := dynamo.NewDynamoClassroomStore(ctx, awsCfg, cfg.Store.Endpoint, cfg.Store.Table)
	if err != nil {
		log.Fatalf("Failed to create dynamodb store: %v", err)
	}

	purgeQueue, err := sqsmq.NewSQSMessageQueue(ctx, awsCfg, cfg.Queue.Endpoint, cfg.Queue.PurgeBoardQueue)
	if err != nil {
		log.Fatalf("Failed to create SQS MQ: %v", err)
	}

	classroomCache, err := redis.NewRedisClassroomCache(ctx, cfg.DevMode, cfg.Cache.Endpoint)
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}
	defer classroomCache.Close()

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	classroomAPI, err := api.NewClassroomAPI(cfg, classroomStore, purgeQueue, classroomCache, oauthConfigs(cfg), shutdownCtx)
	if err != nil {
		log.Fatalf("Failed to create learnlink api: %v", err)
	}

	mux := http.NewServeMux()
	classroomAPI.RegisterRoutes(mux, cfg.Server.AllowedOrigin)

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           api.WithCORS(cfg.Server.AllowedOrigin, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting server on host port: %s\n", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-shutdownCtx.Done()
	log.Printf("Server shutting down...")

	timeoutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(timeoutCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}

// oauthConfigs returns client credentials for the providers that have them.
// Endpoints and scopes are filled in by the service.
func oauthConfigs(cfg *config.Config) map[string]*oauth2.Config {
	enabled := cfg.OAuthEnabled()
	configs := map[string]*oauth2.Config{}
	if enabled["google"] {
		configs["google"] = &oauth2.Config{
			ClientID:     cfg.OAuth.GoogleClientID,
			ClientSecret: cfg.OAuth.GoogleClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
		}
	}
	if enabled["github"] {
		configs["github"] = &oauth2.Config{
			ClientID:     cfg.OAuth.GitHubClientID,
			ClientSecret: cfg.OAuth.GitHubClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
		}
	}
	return configs
}
