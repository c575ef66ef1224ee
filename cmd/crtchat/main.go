package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/crtlab/crtchat/internal/conversation"
	"github.com/crtlab/crtchat/internal/httpapi"
	"github.com/crtlab/crtchat/internal/llm/provider"
	"github.com/crtlab/crtchat/internal/moderation"
	"github.com/crtlab/crtchat/internal/session"
	"github.com/crtlab/crtchat/internal/transcript"
	"github.com/crtlab/crtchat/pkg/config"
	"github.com/crtlab/crtchat/pkg/observability"
	"github.com/crtlab/crtchat/pkg/retry"
	"github.com/crtlab/crtchat/pkg/security"
)

var (
	// Version information (set via ldflags)
	Version = "dev"

	configFile = flag.String("config", getEnv("CONFIG_FILE", "config/crtchat.yaml"), "Service configuration file")
	httpPort   = flag.Int("http-port", 0, "API server port (overrides config)")
)

func main() {
	flag.Parse()

	// Local development keeps credentials in a .env file.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	log.Printf("Starting crtchat v%s", Version)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Config: %v", err)
	}
	if *httpPort != 0 {
		cfg.Port = *httpPort
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config: %v", err)
	}

	observability.InitMetrics()
	if err := observability.InitTracingFromEnv(); err != nil {
		log.Printf("Tracing init failed: %v", err)
	}
	ctx := context.Background()

	llm, err := buildProvider(ctx, cfg)
	if err != nil {
		log.Fatalf("LLM provider: %v", err)
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Transcript store: %v", err)
	}
	defer store.Close()

	probes := []observability.Probe{
		observability.StoreProbe(store.Flush),
		observability.LLMProbe(llm.Name(), llmPing(llm)),
	}

	var cache *transcript.HistoryCache
	if cfg.RedisAddr != "" {
		cache, err = transcript.NewHistoryCache(transcript.HistoryCacheConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.HistoryTTL,
		})
		if err != nil {
			// The cache is an accelerator; the store alone is correct.
			log.Printf("History cache disabled: %v", err)
		} else {
			defer cache.Close()
			probes = append(probes, observability.CacheProbe(func(ctx context.Context) error {
				_, err := cache.Load(ctx, "000000000000000")
				return err
			}))
		}
	}

	requeue := transcript.NewRequeue(store,
		transcript.WithRequeueSchedule(cfg.RequeueSchedule),
		transcript.WithRequeueDepthGauge(observability.SetRequeueDepth),
	)
	if err := requeue.Start(); err != nil {
		log.Fatalf("Requeue: %v", err)
	}

	assigner, err := buildAssigner(cfg)
	if err != nil {
		log.Fatalf("Arm assigner: %v", err)
	}

	var checker moderation.Checker
	if cfg.Moderation.Checker == "classifier" {
		checker = &moderation.ClassifierChecker{LLM: llm, Model: cfg.Model}
	}
	moderator := moderation.NewModerator(llm, moderation.Options{
		Checker:       checker,
		HistoryBudget: cfg.Moderation.HistoryBudget,
		RewriteRounds: cfg.Moderation.RewriteRounds,
		FallbackHint:  cfg.Moderation.FallbackHint,
		Model:         cfg.Model,
		Temperature:   cfg.Temperature,
		MaxTokens:     cfg.MaxTokens,
	})

	svc, err := conversation.NewService(conversation.ServiceOptions{
		Registry:    session.NewRegistry(assigner),
		Assigner:    assigner,
		LLM:         llm,
		Moderator:   moderator,
		Store:       store,
		Cache:       cache,
		Requeue:     requeue,
		LLMRetry:    retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: cfg.LLMTimeout},
		StoreRetry:  retry.Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: cfg.StoreTimeout},
		Task:        moderation.Task{ForbiddenAnswers: cfg.Moderation.ForbiddenAnswers},
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		log.Fatalf("Conversation service: %v", err)
	}

	api := httpapi.NewServer(httpapi.Options{
		Service:     svc,
		Limiter:     security.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		ExtraOrigin: cfg.ExtraOrigin,
		StaticDir:   cfg.StaticDir,
	})

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.LLMTimeout,
		IdleTimeout:  120 * time.Second,
	}
	obsServer := observability.NewServer(cfg.MetricsPort, observability.NewHealth(probes...))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("API server listening on :%d", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("Metrics server listening on :%d", cfg.MetricsPort)
		if err := obsServer.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down...")
	case <-gctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("API server shutdown error: %v", err)
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}
	// Final drain so parked transcript rows are not lost on exit.
	if err := requeue.Stop(shutdownCtx); err != nil {
		log.Printf("Requeue shutdown error: %v", err)
	}
	if err := observability.ShutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}

	if err := g.Wait(); err != nil {
		log.Printf("Error: %v", err)
	}
	log.Println("Stopped")
}

func buildProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return provider.NewOpenAIProvider(cfg.OpenAIKey,
			provider.WithOpenAIModel(cfg.Model),
			provider.WithOpenAITimeout(cfg.LLMTimeout),
		)
	case "gemini":
		return provider.NewGeminiProvider(ctx, cfg.GeminiKey,
			provider.WithGeminiModel(cfg.Model),
		)
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func buildStore(ctx context.Context, cfg *config.Config) (transcript.Store, error) {
	switch cfg.Store {
	case "sheets":
		inner, err := transcript.NewSheetsStore(ctx, cfg.SheetID,
			transcript.WithWorksheet(cfg.Worksheet),
			transcript.WithCredentialsFile(cfg.GCPCredentials),
		)
		if err != nil {
			return nil, err
		}
		// Sheets append has no native idempotence; wrap it.
		return transcript.NewDedupStore(inner), nil
	case "firestore":
		return transcript.NewFirestoreStore(ctx, cfg.GCPProject,
			transcript.WithFirestoreCredentialsFile(cfg.GCPCredentials),
		)
	case "memory":
		log.Println("Using in-memory transcript store; data will not survive restarts")
		return transcript.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func buildAssigner(cfg *config.Config) (*session.Assigner, error) {
	configs := make([]session.ArmConfig, 0, len(cfg.Arms))
	for name, arm := range cfg.Arms {
		configs = append(configs, session.ArmConfig{
			Arm:             session.Arm(name),
			SystemPrompt:    arm.SystemPrompt,
			ContextDocument: arm.ContextDocument,
		})
	}
	return session.NewAssigner(session.AssignPolicy(cfg.AssignPolicy), cfg.ShortRatio, configs)
}

// llmPing makes the cheapest possible completion call, enough to prove
// credentials and connectivity for the health report.
func llmPing(llm provider.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		_, err := llm.Complete(ctx, provider.Request{
			Messages:  []provider.Message{{Role: "user", Content: "ping"}},
			MaxTokens: 1,
		})
		return err
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
