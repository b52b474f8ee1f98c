package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"regime-engine/internal/advisor"
	"regime-engine/internal/bot"
	"regime-engine/internal/cache"
	"regime-engine/internal/config"
	"regime-engine/internal/db"
	"regime-engine/internal/handler"
	"regime-engine/internal/job"
	"regime-engine/internal/provider"
	"regime-engine/internal/repository"
	"regime-engine/internal/service"
	"regime-engine/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"

	_ "regime-engine/docs"
)

var (
	loadEnvFunc              = godotenv.Load
	loadConfigFunc           = config.Load
	initPostgresFunc         = db.InitPostgres
	initRedisFunc            = cache.InitRedis
	initTracerFunc           = tracing.InitTracer
	newCandleRepoFunc        = repository.NewCandleRepository
	newRegimeRepoFunc        = repository.NewRegimeRepository
	newCoinGeckoProviderFunc = func(tracer trace.Tracer) service.PriceProvider {
		return provider.NewCoinGeckoProvider(tracer)
	}
	newPriceServiceFunc    = service.NewPriceService
	newRegimeServiceFunc   = service.NewRegimeService
	newPricePollerFunc     = job.NewPricePoller
	newRegimePollerFunc    = job.NewRegimePoller
	newTransitionJobFunc   = job.NewTransitionJob
	startPollerFunc        = func(p *job.PricePoller, ctx context.Context) { go p.Start(ctx) }
	startRegimePollerFunc  = func(p *job.RegimePoller, ctx context.Context) { go p.Start(ctx) }
	startTransitionFunc    = func(j *job.TransitionJob, ctx context.Context) { go j.Start(ctx) }
	startTelegramBotFunc   = bot.StartTelegramBot
	newHandlerFunc         = handler.New
	newRouterFunc          = gin.Default
	setupSignalNotify      = signal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           Regime Engine API
// @version         1.0
// @description     Probabilistic market-regime classification service.

// @host      localhost:8080
// @BasePath  /
func main() {
	loadEnvFunc()

	cfg := loadConfigFunc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Init Postgres and Redis
	os.Setenv("DATABASE_URL", cfg.DatabaseURL)
	os.Setenv("REDIS_URL", cfg.RedisURL)
	initPostgresFunc(ctx)
	initRedisFunc(ctx)

	// Init tracing
	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	// Create repositories and run migrations
	candleRepo := newCandleRepoFunc(db.Pool, tracer)
	regimeRepo := newRegimeRepoFunc(db.Pool, tracer)
	if db.Pool != nil {
		if err := candleRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run candle migrations: %v", err)
		}
		if err := regimeRepo.RunMigrations(ctx); err != nil {
			log.Fatalf("failed to run regime migrations: %v", err)
		}
	}

	// Create provider and price service
	cgProvider := newCoinGeckoProviderFunc(tracer)
	priceService := newPriceServiceFunc(tracer, cgProvider, candleRepo, cache.Client)

	// Create the regime classification service
	regimeService, err := newRegimeServiceFunc(tracer, candleRepo, regimeRepo, regimeConfig(cfg))
	if err != nil {
		log.Fatalf("failed to create regime service: %v", err)
	}

	// Start price poller (background goroutines, stopped by ctx cancel)
	poller := newPricePollerFunc(tracer, priceService, cfg.CoinGeckoPollSecs)
	startPollerFunc(poller, ctx)

	// Start regime jobs
	if cfg.RegimeEnabled {
		regimePoller := newRegimePollerFunc(tracer, regimeService, cfg.RegimeClassifySecs, cfg.RegimeResolvePollSecs)
		startRegimePollerFunc(regimePoller, ctx)

		transitionJob := newTransitionJobFunc(tracer, regimeService, cfg.RegimeRefreshHourUTC)
		startTransitionFunc(transitionJob, ctx)
	}

	// Create the advisor when an OpenAI key is configured
	var advisorService *advisor.AdvisorService
	if cfg.OpenAIAPIKey != "" {
		convRepo := repository.NewConversationRepository(db.Pool, tracer)
		advisorService = advisor.NewAdvisorService(
			tracer,
			advisor.NewOpenAIClient(cfg.OpenAIAPIKey),
			priceService,
			regimeService,
			convRepo,
			cfg.OpenAIModel,
			cfg.AdvisorMaxHistory,
		)
	}

	// Start Telegram bot; its flip handler pushes regime-change alerts
	os.Setenv("TELEGRAM_BOT_TOKEN", cfg.TelegramBotToken)
	if flip := startTelegramBotFunc(priceService, regimeService, advisorService); flip != nil {
		regimeService.SetFlipHandler(flip)
	}

	// Create handlers and routes
	h := newHandlerFunc(tracer, priceService, regimeService, cfg.APIKey)

	r := newRouterFunc()
	r.Use(otelgin.Middleware("regime-engine"))

	h.RegisterRoutes(r)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":8080",
		Handler: r,
	}

	go func() {
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

func regimeConfig(cfg *config.Config) service.RegimeConfig {
	return service.RegimeConfig{
		Interval:         cfg.RegimeInterval,
		HistoryBars:      cfg.RegimeHistoryBars,
		SmoothingWindow:  cfg.RegimeSmoothingWindow,
		SmoothingAlpha:   cfg.RegimeSmoothingAlpha,
		PriorStrength:    cfg.RegimePriorStrength,
		CalibrationBins:  cfg.RegimeCalibrationBins,
		CalibrationMin:   cfg.RegimeCalibrationMin,
		CalibrationBlend: cfg.RegimeCalibrationBlend,
		CalibrationDecay: cfg.RegimeCalibrationDecay,
		AnomalyThreshold: cfg.RegimeAnomalyThreshold,
		BoostEnabled:     cfg.RegimeBoostEnabled,
		MinTrainSamples:  cfg.RegimeMinTrainSamples,
		ModelWeights:     cfg.RegimeModelWeights,
		ResolveLag:       time.Duration(cfg.RegimeResolveLagHours) * time.Hour,
	}
}
