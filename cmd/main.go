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

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/redis/go-redis/v9"

	"movie-agent/handler"
	"movie-agent/internal/cache"
	"movie-agent/internal/config"
	"movie-agent/internal/integrations/openai"
	"movie-agent/internal/integrations/paramstore"
	"movie-agent/internal/integrations/tmdb"
	"movie-agent/internal/recommend"
	"movie-agent/internal/repository"
	"movie-agent/internal/server"
	"movie-agent/internal/telemetry"
	"movie-agent/internal/usecase"
	"movie-agent/internal/workflow"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("movie-agent stopped", "err", err)
		os.Exit(1)
	}
}

// run wires the service and blocks until it stops. Deferred cleanups, such as
// flushing spans, run before main exits on an error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfg.Tracing.Enabled {
		mode := "server"
		if cfg.Lambda.Enabled() {
			mode = "lambda"
		}
		shutdown, err := telemetry.InitTracer(telemetry.Resource{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version,
			Runtime:     mode,
		}, os.Stderr, logger)
		if err != nil {
			return fmt.Errorf("initialize tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				logger.Warn("flush traces", "err", err)
			}
		}()
	}

	// ---- AWS SDK config, only when something needs it ----
	var awsCfg *aws.Config
	if (cfg.NeedsParamStore() && cfg.Params.Prefix != "") || cfg.State.Backend == config.BackendDynamoDB {
		loaded, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		awsCfg = &loaded
	}

	// ---- Credentials ----
	tmdbKey, openaiKey, err := resolveCredentials(ctx, cfg, awsCfg)
	if err != nil {
		return fmt.Errorf("missing required credentials: %w", err)
	}

	// ---- Clients ----
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.Tracing.Enabled {
		httpClient = telemetry.HTTPClient(httpClient)
	}

	catalog, err := tmdb.NewClient(tmdbKey,
		tmdb.WithBaseURL(cfg.TMDB.BaseURL),
		tmdb.WithHTTPClient(httpClient),
		tmdb.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create catalog client: %w", err)
	}

	model, err := openai.NewClient(openaiKey,
		openai.WithBaseURL(cfg.OpenAI.BaseURL),
		openai.WithHTTPClient(httpClient),
		openai.WithModel(cfg.OpenAI.Model),
		openai.WithTemperature(cfg.OpenAI.Temperature),
	)
	if err != nil {
		return fmt.Errorf("create completion client: %w", err)
	}

	store, err := buildCache(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}

	state, err := buildState(cfg, awsCfg)
	if err != nil {
		return fmt.Errorf("create state store: %w", err)
	}

	// ---- Workflow ----
	tool, err := recommend.NewTool(catalog, store, recommend.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create recommendation tool: %w", err)
	}
	router, err := workflow.NewRouter(model, tool,
		workflow.WithMaxSteps(cfg.Router.MaxSteps),
		workflow.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	svc, err := usecase.NewRecommendService(router, state, logger)
	if err != nil {
		return fmt.Errorf("create recommend service: %w", err)
	}

	// ---- Handler ----
	h, err := handler.NewHandlerWithLogger(svc, logger)
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	if cfg.Lambda.Enabled() {
		lambda.Start(h.Handle)
		return nil
	}

	srv, err := server.New(server.Options{
		Port:               cfg.Port,
		CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		RateLimitRequests:  cfg.HTTP.RateLimitRequests,
		RateLimitWindow:    cfg.HTTP.RateLimitWindow,
		RequestTimeout:     cfg.HTTP.RequestTimeout,
		StaticDir:          cfg.HTTP.StaticDir,
	}, h, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	}
}

// resolveCredentials returns the catalog and completion API keys, taking each
// from the environment or, when unset, from SSM under the parameter prefix.
func resolveCredentials(ctx context.Context, cfg *config.Config, awsCfg *aws.Config) (string, string, error) {
	tmdbKey, openaiKey := cfg.TMDB.APIKey, cfg.OpenAI.APIKey

	if (tmdbKey == "" || openaiKey == "") && cfg.Params.Prefix != "" && awsCfg != nil {
		params, err := paramstore.New(awsssm.NewFromConfig(*awsCfg))
		if err != nil {
			return "", "", err
		}
		if tmdbKey == "" {
			if tmdbKey, err = paramstore.Token(ctx, params, paramstore.ParamName(cfg.Params.Prefix, paramstore.CatalogTokenParam)); err != nil {
				return "", "", err
			}
		}
		if openaiKey == "" {
			if openaiKey, err = paramstore.Token(ctx, params, paramstore.ParamName(cfg.Params.Prefix, paramstore.CompletionTokenParam)); err != nil {
				return "", "", err
			}
		}
	}

	var errs []error
	if tmdbKey == "" {
		errs = append(errs, errors.New("TMDB_API_KEY is not set"))
	}
	if openaiKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
	}
	return tmdbKey, openaiKey, errors.Join(errs...)
}

func buildCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis at %s: %w", cfg.Cache.RedisAddr, err)
		}
		return cache.NewRedis(client, cfg.Cache.TTL, logger)
	default:
		mem := cache.NewMemory(cfg.Cache.TTL, cache.WithLogger(logger))
		go mem.RunJanitor(ctx, cfg.Cache.PruneInterval)
		return mem, nil
	}
}

func buildState(cfg *config.Config, awsCfg *aws.Config) (usecase.StateStore, error) {
	switch cfg.State.Backend {
	case config.BackendDynamoDB:
		if awsCfg == nil {
			return nil, errors.New("dynamodb state store needs AWS config")
		}
		return repository.New(awsdynamodb.NewFromConfig(*awsCfg), cfg.State.Table, cfg.State.MaxMessages)
	default:
		return repository.NewMemoryStore(cfg.State.MaxMessages), nil
	}
}
