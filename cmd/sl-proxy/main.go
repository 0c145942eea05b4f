// Command sl-proxy exposes the Service Layer client over HTTP. Callers pass
// tenant credentials as headers; the proxy shares sessions, bounds
// concurrency and normalizes responses.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/servicelayer-client/pkg/client"
	"github.com/Sternrassler/servicelayer-client/pkg/logging"
	"github.com/Sternrassler/servicelayer-client/pkg/session"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand creates the root Cobra command for sl-proxy
func newRootCommand() *cobra.Command {
	v := newViper()
	var configPath string

	cmd := &cobra.Command{
		Use:   "sl-proxy",
		Short: "sl-proxy - SAP Business One Service Layer proxy",
		Long: `sl-proxy forwards /sl/* requests to the Service Layer.

Tenant credentials are read from the X-SL-Company, X-SL-Username and
X-SL-Password headers. Configuration comes from an optional YAML file and
SL_* environment variables (servicelayer.url -> SL_SERVICELAYER_URL).`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (YAML)")
	cmd.Flags().String("listen", ":8080", "Listen address")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().String("servicelayer-url", "", "Service Layer base URL (e.g. https://hanab1)")
	cmd.Flags().String("redis-addr", "", "Redis address for the shared token store")

	_ = v.BindPFlag("listen", cmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("log.level", cmd.Flags().Lookup("log-level"))
	_ = v.BindPFlag("servicelayer.url", cmd.Flags().Lookup("servicelayer-url"))
	_ = v.BindPFlag("session.redis_addr", cmd.Flags().Lookup("redis-addr"))

	return cmd
}

func run(ctx context.Context, cfg proxyConfig) error {
	logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
		Output: os.Stderr,
		Fields: map[string]string{"service": "sl-proxy"},
	})
	logger := logging.NewLogger("sl-proxy")

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		cfg.Client.TokenStore = session.NewRedisStore(redisClient, cfg.Client.TokenTTL)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("Connected to Redis token store")
	}

	slClient, err := client.New(cfg.Client)
	if err != nil {
		return fmt.Errorf("create service layer client: %w", err)
	}
	defer slClient.Close()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           newHandler(slClient, redisClient, cfg.Retries),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Listen).
			Str("servicelayer", cfg.Client.URL()).
			Msg("Starting Service Layer proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
