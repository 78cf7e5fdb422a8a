package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Paisa224/ferreteria/internal/authz"
	"github.com/Paisa224/ferreteria/internal/cache"
	"github.com/Paisa224/ferreteria/internal/config"
	"github.com/Paisa224/ferreteria/internal/httpapi"
	"github.com/Paisa224/ferreteria/internal/service"
	"github.com/Paisa224/ferreteria/internal/store"
	"github.com/Paisa224/ferreteria/internal/store/memory"
	pgstore "github.com/Paisa224/ferreteria/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	log.Logger = newLogger(os.Stderr, cfg.LogFormat)
	zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel))

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 2)

	var repo store.Store
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback")
		}
		if cfg.AutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("schema migration failed")
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Str("store", "postgres").Bool("auto_migrate", cfg.AutoMigrate).Msg("store ready")
	} else {
		repo = memory.NewSeeded()
		log.Info().Str("store", "memory").Msg("store ready")
	}

	saleCache := cache.SaleCache(cache.NoopSaleCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSaleCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop sale cache")
			_ = redisCache.Close()
		} else {
			saleCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info().Str("cache", "redis").Str("addr", cfg.RedisAddr).Msg("sale cache ready")
		}
	} else {
		log.Info().Str("cache", "noop").Msg("sale cache ready")
	}

	users := store.NewUserDirectory(repo)
	authorizer := authz.NewRoleAuthorizer(users, nil)

	policy := service.DefaultPolicy()
	policy.RequirePaymentReference = cfg.RequirePaymentReference
	policy.AllowCashChange = cfg.AllowCashChange
	policy.SaleCacheTTL = cfg.SaleCacheTTL()

	svc := service.New(repo, authorizer, saleCache, policy)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), users)
	api := httpapi.New(svc, auth, authorizer, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Address()).Msg("ferreteria backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error().Err(err).Msg("close error")
		}
	}

	log.Info().Msg("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}

// newLogger writes JSON lines unless format is "console".
func newLogger(out io.Writer, format string) zerolog.Logger {
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func parseLevel(raw string) zerolog.Level {
	level, err := zerolog.ParseLevel(raw)
	if err != nil || raw == "" {
		return zerolog.InfoLevel
	}
	return level
}
