package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-auth-nosql/internal/application/auth"
	"github.com/go-auth-nosql/internal/application/notification"
	"github.com/go-auth-nosql/internal/application/otp"
	"github.com/go-auth-nosql/internal/application/ratelimit"
	"github.com/go-auth-nosql/internal/application/session"
	"github.com/go-auth-nosql/internal/application/token"
	"github.com/go-auth-nosql/internal/application/user"
	"github.com/go-auth-nosql/internal/config"
	"github.com/go-auth-nosql/internal/domain"
	"github.com/go-auth-nosql/internal/infrastructure/dynamo"
	"github.com/go-auth-nosql/internal/infrastructure/google"
	jwtinfra "github.com/go-auth-nosql/internal/infrastructure/jwt"
	"github.com/go-auth-nosql/internal/infrastructure/memory"
	"github.com/go-auth-nosql/internal/infrastructure/metrics"
	"github.com/go-auth-nosql/internal/infrastructure/postgres"
	redisinfra "github.com/go-auth-nosql/internal/infrastructure/redis"
	"github.com/go-auth-nosql/internal/infrastructure/smtp"
	"github.com/go-auth-nosql/internal/infrastructure/sns"
	"github.com/go-auth-nosql/internal/pkg/identifier"
	"github.com/go-auth-nosql/internal/pkg/logger"
	transporthttp "github.com/go-auth-nosql/internal/transport/http"
	"github.com/go-auth-nosql/internal/transport/http/handler"
	"github.com/joho/godotenv"
)

// credentialStore is the durable side of the service: accounts and refresh records.
type credentialStore struct {
	users   domain.UserRepository
	refresh domain.RefreshRepository
	ping    handler.Pinger
	close   func()
}

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger.New(cfg.LogLevel)
	if envErr != nil {
		slog.Info("no .env file found, reading from environment")
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Ephemeral store: OTP challenges, counters, blacklist, cutoffs.
	rdb := redisinfra.NewClient(cfg)
	defer rdb.Close()
	if err := redisinfra.Ping(ctx, rdb); err != nil {
		slog.Error("redis unreachable", "addr", cfg.Redis.Addr, "err", err)
		os.Exit(1)
	}
	store := redisinfra.NewStore(rdb, cfg.StoreTimeout)

	creds, err := openCredentialStore(ctx, cfg)
	if err != nil {
		slog.Error("credential store unavailable", "backend", cfg.CredentialStore, "err", err)
		os.Exit(1)
	}
	defer creds.close()

	m := metrics.New()

	// SNS SMS sender (optional: email delivery still works without it).
	var smsSender sns.SMSSender
	if sender, err := sns.NewSender(ctx, cfg); err == nil {
		smsSender = sender
	} else {
		slog.Warn("SNS sender not available", "err", err)
	}
	dispatcher := notification.NewDispatcher(notification.DispatcherDeps{
		Mailer:   smtp.NewMailer(cfg),
		SMS:      smsSender,
		Metrics:  m,
		Timeout:  cfg.OTP.SendTimeout,
		Validity: cfg.OTP.Expiration,
	})

	normalizer := identifier.NewNormalizer(cfg.OTP.CountryCode)
	engine := otp.NewEngine(otp.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Normalizer: normalizer,
		Metrics:    m,
		Config:     cfg.OTP,
	})

	provider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		slog.Error("jwt provider", "err", err)
		os.Exit(1)
	}
	tokens := token.NewService(token.ServiceDeps{
		Provider: provider,
		Refresh:  creds.refresh,
		Users:    creds.users,
		Store:    store,
		Metrics:  m,
		Config:   cfg.Token,
	})
	limiter := ratelimit.NewLimiter(store, m)

	authSvc := auth.NewService(auth.ServiceDeps{
		Users:      creds.users,
		Tokens:     tokens,
		OTP:        engine,
		Limiter:    limiter,
		Google:     google.NewVerifier(cfg.GoogleClientID),
		Normalizer: normalizer,
		Limits:     cfg.RateLimit,
	})
	userSvc := user.NewService(user.ServiceDeps{
		UserRepo: creds.users,
		OTP:      engine,
		Sessions: tokens,
		Limiter:  limiter,
		Limit:    cfg.RateLimit.ChangePassword,
	})

	go session.NewSweeper(tokens, cfg.Sweep).Run(ctx)

	router := transporthttp.NewRouter(ctx, cfg, &transporthttp.Deps{
		Auth:    authSvc,
		Users:   userSvc,
		Limiter: limiter,
		Abuse:   auth.NewAbuseInspector(engine, limiter, normalizer, cfg.RateLimit),
		Metrics: m.Handler(),
		Health: map[string]handler.Pinger{
			"redis": handler.PingFunc(func(ctx context.Context) error { return redisinfra.Ping(ctx, rdb) }),
			cfg.CredentialStore: creds.ping,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "credential_store", cfg.CredentialStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "err", err)
	}
	// Let in-flight OTP deliveries finish before the process exits.
	dispatcher.Wait()
	slog.Info("server stopped")
}

func openCredentialStore(ctx context.Context, cfg *config.Config) (*credentialStore, error) {
	switch cfg.CredentialStore {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &credentialStore{
			users:   postgres.NewUserRepo(pool, cfg.StoreTimeout),
			refresh: postgres.NewRefreshRepo(pool, cfg.StoreTimeout),
			ping: handler.PingFunc(func(ctx context.Context) error {
				return postgres.Ping(ctx, pool, cfg.StoreTimeout)
			}),
			close: pool.Close,
		}, nil

	case config.StoreMemory:
		slog.Warn("using in-memory credential store; accounts are lost on restart")
		return &credentialStore{
			users:   memory.NewUserRepo(),
			refresh: memory.NewRefreshRepo(),
			ping:    handler.PingFunc(func(context.Context) error { return nil }),
			close:   func() {},
		}, nil

	default:
		client, err := dynamo.NewClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		// Creates the tables if they don't exist.
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return &credentialStore{
			users:   dynamo.NewUserRepo(client, cfg.DynamoTables, cfg.StoreTimeout),
			refresh: dynamo.NewRefreshRepo(client, cfg.DynamoTables.RefreshTokens, cfg.StoreTimeout),
			ping: handler.PingFunc(func(ctx context.Context) error {
				_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
					TableName: aws.String(cfg.DynamoTables.Users),
				})
				return err
			}),
			close: func() {},
		}, nil
	}
}
