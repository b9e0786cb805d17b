package config

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/joho/godotenv"
)

type Config struct {
	DevMode    bool
	Server     ServerConfig
	Store      StoreConfig
	Queue      QueueConfig
	Cache      CacheConfig
	Auth       AuthConfig
	OAuth      OAuthConfig
	Meeting    MeetingConfig
	Whiteboard WhiteboardConfig
}

type ServerConfig struct {
	Port            string
	AllowedOrigin   string
	ShutdownTimeout time.Duration
}

type StoreConfig struct {
	Endpoint string
	Table    string
}

type QueueConfig struct {
	Endpoint        string
	PurgeBoardQueue string
}

type CacheConfig struct {
	Endpoint string
}

type AuthConfig struct {
	JWTSecret []byte
	TokenTTL  time.Duration
}

type OAuthConfig struct {
	RedirectURL        string
	GoogleClientID     string
	GoogleClientSecret string
	GitHubClientID     string
	GitHubClientSecret string
}

type MeetingConfig struct {
	BaseURL       string
	LiveKitHost   string
	LiveKitAPIKey string
	LiveKitSecret string
	TokenTTL      time.Duration
}

type WhiteboardConfig struct {
	PointThrottle        time.Duration
	StrokeFlushInterval  time.Duration
	CounterFlushInterval time.Duration
	MaxBoardStrokes      int
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	jwtSecret, err := base64.StdEncoding.DecodeString(getEnv("JWT_SECRET", ""))
	if err != nil {
		return nil, fmt.Errorf("decode JWT_SECRET: %w", err)
	}

	cfg := &Config{
		DevMode: getBool("DEV_MODE", false),
		Server: ServerConfig{
			Port:            getEnv("HOST_PORT", "8080"),
			AllowedOrigin:   getEnv("ALLOWED_ORIGIN", "http://localhost:5173"),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Store: StoreConfig{
			Endpoint: getEnv("DYNAMODB_ENDPOINT", ""),
			Table:    getEnv("DYNAMODB_TABLE", "LearnLink"),
		},
		Queue: QueueConfig{
			Endpoint:        getEnv("SQS_ENDPOINT", ""),
			PurgeBoardQueue: getEnv("SQS_PURGE_BOARD_QUEUE", "PurgeBoardQueue"),
		},
		Cache: CacheConfig{
			Endpoint: getEnv("REDIS_ENDPOINT", "localhost:6379"),
		},
		Auth: AuthConfig{
			JWTSecret: jwtSecret,
			TokenTTL:  getDuration("TOKEN_TTL", 24*time.Hour),
		},
		OAuth: OAuthConfig{
			RedirectURL:        getEnv("OAUTH_REDIRECT_URL", ""),
			GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			GitHubClientID:     getEnv("GITHUB_CLIENT_ID", ""),
			GitHubClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
		},
		Meeting: MeetingConfig{
			BaseURL:       strings.TrimSuffix(getEnv("MEETING_BASE_URL", "https://meet.jit.si"), "/"),
			LiveKitHost:   getEnv("LIVEKIT_HOST", "ws://localhost:7880"),
			LiveKitAPIKey: getEnv("LIVEKIT_API_KEY", "devkey"),
			LiveKitSecret: getEnv("LIVEKIT_API_SECRET", "secret"),
			TokenTTL:      getDuration("MEETING_TOKEN_TTL", 2*time.Hour),
		},
		Whiteboard: WhiteboardConfig{
			PointThrottle:        getDuration("POINT_THROTTLE", 16*time.Millisecond),
			StrokeFlushInterval:  getDuration("STROKE_FLUSH_INTERVAL", 500*time.Millisecond),
			CounterFlushInterval: getDuration("COUNTER_FLUSH_INTERVAL", time.Minute),
			MaxBoardStrokes:      getInt("MAX_BOARD_STROKES", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) == 0 {
		return errors.New("JWT_SECRET is required")
	}
	if c.Whiteboard.PointThrottle <= 0 {
		return errors.New("POINT_THROTTLE must be positive")
	}
	if c.Whiteboard.StrokeFlushInterval <= 0 || c.Whiteboard.CounterFlushInterval <= 0 {
		return errors.New("flush intervals must be positive")
	}
	if c.Whiteboard.MaxBoardStrokes <= 0 {
		return errors.New("MAX_BOARD_STROKES must be positive")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	return nil
}

// OAuthEnabled reports which providers have client credentials configured.
func (c *Config) OAuthEnabled() map[string]bool {
	return map[string]bool{
		"google": c.OAuth.GoogleClientID != "" && c.OAuth.GoogleClientSecret != "",
		"github": c.OAuth.GitHubClientID != "" && c.OAuth.GitHubClientSecret != "",
	}
}

// AWS builds the shared SDK config. Dev mode uses dummy static credentials
// so DynamoDB Local and ElasticMQ accept the requests.
func (c *Config) AWS(ctx context.Context) (aws.Config, error) {
	if c.DevMode {
		return awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion("us-east-1"),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider("dummy", "dummy", ""),
			),
		)
	}

	// Production/Fargate: default chain (task role)
	return awsconfig.LoadDefaultConfig(ctx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// getDuration accepts Go durations ("16ms", "2h") or a bare number of milliseconds.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
