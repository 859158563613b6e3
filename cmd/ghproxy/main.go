// ghproxy exposes the cached GitHub client as a local HTTP proxy. Requests
// to /api/... are forwarded to the GitHub REST API through the tiered cache
// and rate limiter, so multiple local consumers share one budget.
package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/gitops-tools/github-client/pkg/client"
	"github.com/gitops-tools/github-client/pkg/logging"
)

type serverConfig struct {
	Token     string `env:"GITHUB_TOKEN,required"`
	Port      string `env:"PORT" envDefault:"8080"`
	CacheDir  string `env:"CACHE_DIR"`
	RedisURL  string `env:"REDIS_URL"`
	UserAgent string `env:"USER_AGENT" envDefault:"gitops-github-client/1.0"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		return
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	}).With().Str("component", "ghproxy").Logger()

	clientCfg := client.DefaultConfig(cfg.Token)
	clientCfg.UserAgent = cfg.UserAgent
	if cfg.CacheDir != "" {
		clientCfg.CacheDir = cfg.CacheDir
	}

	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("redis_url", cfg.RedisURL).Msg("Failed to connect to Redis")
		}
		clientCfg.Redis = redisClient
		logger.Info().Str("redis_url", cfg.RedisURL).Msg("Sharing rate limit state via Redis")
	}

	ghClient, err := client.New(clientCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create GitHub client")
	}
	defer ghClient.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/", proxyHandler(ghClient, logger))

	addr := ":" + cfg.Port
	logger.Info().
		Str("addr", addr).
		Str("user_agent", cfg.UserAgent).
		Msg("Starting GitHub proxy server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// proxyHandler forwards GET requests under /api/ to the upstream API.
// Example: /api/repos/octocat/hello -> /repos/octocat/hello.
func proxyHandler(ghClient *client.Client, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "only GET is proxied", http.StatusMethodNotAllowed)
			return
		}

		endpoint := strings.TrimPrefix(r.URL.Path, "/api")
		if endpoint == "" || endpoint == "/" {
			http.Error(w, "missing endpoint path", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
		defer cancel()

		data, err := ghClient.Get(ctx, endpoint, &client.RequestOptions{
			Params: r.URL.Query(),
		})
		if err != nil {
			status := client.StatusOf(err)
			if status == 0 {
				status = http.StatusBadGateway
			}
			logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Proxied request failed")
			http.Error(w, err.Error(), status)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			logger.Warn().Err(err).Msg("Failed to write response")
		}
	}
}
