package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/uav-ledger/uavledger/internal/alert"
	"github.com/uav-ledger/uavledger/internal/anchor"
	"github.com/uav-ledger/uavledger/internal/archive"
	"github.com/uav-ledger/uavledger/internal/ledger/handler"
	"github.com/uav-ledger/uavledger/internal/ledger/model"
	"github.com/uav-ledger/uavledger/internal/ledger/repository"
	"github.com/uav-ledger/uavledger/internal/ledger/service"
	"github.com/uav-ledger/uavledger/internal/ledger/sweep"
	"github.com/uav-ledger/uavledger/pkg/chain"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("ledgerd exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	viper.SetConfigName("ledgerd")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("configs")
	viper.AddConfigPath(".")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("ledger.port", 8080)
	viper.SetDefault("ledger.cors_origins", []string{"http://localhost:3000"})
	viper.SetDefault("ledger.rate_limit_rps", 20)
	viper.SetDefault("ledger.startup_verify", true)
	viper.SetDefault("sweep.enabled", true)
	viper.SetDefault("sweep.interval", "10m")
	viper.SetDefault("sweep.fail_threshold", 3)
	viper.SetDefault("alert.urls", []string{})
	viper.SetDefault("alert.secret", "")
	viper.SetDefault("database.url", "")
	viper.SetDefault("anchor.gateway_url", "")
	viper.SetDefault("anchor.timeout", "10s")
	viper.SetDefault("archive.bucket", "")
	viper.SetDefault("archive.endpoint", "")
	viper.SetDefault("archive.region", "us-east-1")
	viper.SetDefault("archive.access_key_id", "")
	viper.SetDefault("archive.secret_access_key", "")

	if err := viper.ReadInConfig(); err != nil {
		var cfgNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgNotFound) {
			return fmt.Errorf("read config: %w", err)
		}
		logger.Warn("no config file found, using defaults and env vars")
	}

	// ── Storage ──────────────────────────────────────────────────────────────
	var (
		flights     service.FlightStore
		entries     service.EntryStore
		checkpoints service.CheckpointStore
	)

	dbURL := viper.GetString("database.url")
	if dbURL != "" {
		db, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		defer db.Close()

		if err := db.Ping(context.Background()); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		flights = repository.NewFlightRepository(db)
		entries = repository.NewEntryRepository(db)
		checkpoints = repository.NewCheckpointRepository(db)
	} else {
		mem := repository.NewMemoryStore()
		flights, entries, checkpoints = mem, mem, mem
		logger.Warn("no database.url configured, using in-memory store; nothing survives a restart")
	}

	// ── Anchoring ────────────────────────────────────────────────────────────
	var anchorer anchor.Anchorer
	gatewayURL := viper.GetString("anchor.gateway_url")
	if gatewayURL != "" {
		timeout, _ := time.ParseDuration(viper.GetString("anchor.timeout"))
		if timeout == 0 {
			timeout = 10 * time.Second
		}
		anchorer = anchor.NewHTTPAnchorer(gatewayURL, timeout)
		logger.Info("anchor gateway configured", zap.String("url", gatewayURL))
	} else {
		anchorer = anchor.NewMemoryAnchorer(logger)
		logger.Info("anchorer: in-memory (set anchor.gateway_url for external anchoring)")
	}

	svc := service.NewLedgerService(flights, entries, checkpoints, anchorer, logger)

	// ── Startup integrity sweep ──────────────────────────────────────────────
	if viper.GetBool("ledger.startup_verify") {
		startupVerify(context.Background(), svc, logger)
	}

	// ── Raw-log archive ──────────────────────────────────────────────────────
	var archiveStore *archive.Store
	if bucket := viper.GetString("archive.bucket"); bucket != "" {
		store, err := archive.NewStore(archive.Config{
			Bucket:          bucket,
			Endpoint:        viper.GetString("archive.endpoint"),
			Region:          viper.GetString("archive.region"),
			AccessKeyID:     viper.GetString("archive.access_key_id"),
			SecretAccessKey: viper.GetString("archive.secret_access_key"),
		})
		if err != nil {
			return fmt.Errorf("archive store: %w", err)
		}
		archiveStore = store
		logger.Info("raw-log archive configured", zap.String("bucket", bucket))
	}

	flightHandler := handler.NewFlightHandler(svc, logger)

	// ── HTTP Router ──────────────────────────────────────────────────────────
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	corsOrigins := viper.GetStringSlice("ledger.cors_origins")
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: !containsWildcard(corsOrigins),
		MaxAge:           12 * time.Hour,
	}))

	// Security headers
	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (8 MB; entry batches are large)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 8<<20)
		c.Next()
	})

	rps := viper.GetInt("ledger.rate_limit_rps")
	if rps > 0 {
		router.Use(handler.RateLimiter(rps, rps*2))
	}

	router.Use(handler.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "algorithm": chain.AlgorithmID})
	})
	router.GET("/metrics", handler.MetricsHandler())

	v1 := router.Group("/api/v1")
	flightHandler.Register(v1)
	if archiveStore != nil {
		handler.NewArchiveHandler(archiveStore, logger).Register(v1)
	}

	// ── Serve ────────────────────────────────────────────────────────────────
	httpPort := viper.GetInt("ledger.port")
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", httpPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Closed after the signal arrives so background workers stop without
	// competing with the shutdown path for the single signal delivery.
	stop := make(chan struct{})

	// ── Background: periodic integrity sweep ─────────────────────────────────
	if viper.GetBool("sweep.enabled") {
		interval, _ := time.ParseDuration(viper.GetString("sweep.interval"))
		sweeper := sweep.New(svc, svc, sweep.Config{
			Interval:      interval,
			FailThreshold: viper.GetInt("sweep.fail_threshold"),
		}, logger)
		sweeper.SetMetricsRecord(handler.RecordVerification)

		if urls := viper.GetStringSlice("alert.urls"); len(urls) > 0 {
			secret := viper.GetString("alert.secret")
			targets := make([]alert.Target, 0, len(urls))
			for _, u := range urls {
				targets = append(targets, alert.Target{URL: u, Secret: secret})
			}
			notifier := alert.NewNotifier(targets, logger)
			sweeper.SetAlert(notifier.Notify)
			logger.Info("tamper alerts configured", zap.Int("targets", len(targets)))
		}

		go sweeper.Start(stop)
	}

	go func() {
		logger.Info("ledgerd HTTP listening", zap.Int("port", httpPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	<-quit
	close(stop)
	logger.Info("shutting down ledgerd...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("ledgerd stopped")
	return nil
}

// startupVerify replays every stored flight against its recorded trust
// anchors and logs the outcome. Tampering is reported, never fatal: the
// operator decides what to do with a failed flight.
func startupVerify(ctx context.Context, svc *service.LedgerService, logger *zap.Logger) {
	flights, err := svc.ListFlights(ctx, 500)
	if err != nil {
		logger.Warn("startup integrity sweep skipped", zap.Error(err))
		return
	}

	var active, closed float64
	for _, f := range flights {
		if f.Status == model.FlightStatusClosed {
			closed++
		} else {
			active++
		}

		report, err := svc.VerifyStored(ctx, f.MissionID)
		if err != nil {
			if errors.Is(err, service.ErrNoExpectation) {
				continue
			}
			logger.Warn("startup verify error",
				zap.String("mission_id", f.MissionID),
				zap.Error(err),
			)
			continue
		}

		if report.Tampered() {
			logger.Warn("flight log integrity check FAILED",
				zap.String("mission_id", f.MissionID),
				zap.Uint64p("first_divergence", report.FirstDivergence),
			)
		} else {
			logger.Info("flight log verified",
				zap.String("mission_id", f.MissionID),
				zap.Uint64("entries_checked", report.CheckedEntryCount),
			)
		}
	}

	handler.SetFlightsGauge("active", active)
	handler.SetFlightsGauge("closed", closed)
	logger.Info("startup integrity sweep complete", zap.Int("flights", len(flights)))
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
