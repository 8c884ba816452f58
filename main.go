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

	"sjsage522/gridharvester/config"
	"sjsage522/gridharvester/internal/harvest"
	"sjsage522/gridharvester/internal/surface"
	"sjsage522/gridharvester/logger"
	"sjsage522/gridharvester/services/cache"
	"sjsage522/gridharvester/services/publisher"
	"sjsage522/gridharvester/services/worker"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	harvestURL string
	maxFilters int
	output     string
	resetPager bool
	headful    bool
	once       bool
)

func main() {
	// Load environment variables
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "gridharvester",
		Short: "Harvest every row of a paginated ASP.NET search grid",
		Long: `gridharvester drives a browser through every value of the search filters,
pages through all results of each search and publishes the rows to a Redis
stream or a JSON lines file.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().StringVar(&harvestURL, "url", "", "Search page URL (overrides HARVEST_URL)")
	rootCmd.Flags().IntVar(&maxFilters, "max-filters", 0, "Harvest at most this many filter combinations")
	rootCmd.Flags().StringVarP(&output, "output", "o", "", "Write JSON lines to this file instead of Redis")
	rootCmd.Flags().BoolVar(&resetPager, "reset-pager", false, "Return the pager to page 1 after each filter")
	rootCmd.Flags().BoolVar(&headful, "headful", false, "Show the browser window")
	rootCmd.Flags().BoolVar(&once, "once", false, "Run a single harvest and exit")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg := config.LoadConfig()
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return err
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("url", cfg.HarvestURL).
		Str("publisher", cfg.Publisher).
		Dur("crawl_interval", cfg.CrawlInterval).
		Msg("Starting application")

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize services
	services, err := initializeServices(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize services")
		return err
	}
	defer services.Cleanup()

	opts, err := worker.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	if services.Checkpoints != nil {
		opts.Checkpoints = services.Checkpoints
	}

	browserOpts := surface.Options{
		Bin:           cfg.BrowserBin,
		Headless:      cfg.BrowserHeadless,
		Proxy:         cfg.BrowserProxy,
		Width:         cfg.ViewportWidth,
		Height:        cfg.ViewportHeight,
		ActionTimeout: cfg.SettleTimeout,
	}
	newSession := func(ctx context.Context) (surface.Surface, error) {
		return surface.Launch(ctx, browserOpts)
	}

	w := worker.NewWorker(ctx, newSession, services.Publisher, opts, cfg.CrawlInterval)

	// Start worker in a goroutine
	workerDone := make(chan error, 1)
	go func() {
		log.Info().Msg("Starting grid harvester")
		workerDone <- w.Start()
	}()

	// Wait for shutdown signal or worker exit
	select {
	case sig := <-sigChan:
		log.Info().
			Str("signal", sig.String()).
			Msg("Received shutdown signal")
		cancel()
		err = <-workerDone
	case err = <-workerDone:
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Worker exited with error")
		return err
	}
	log.Info().Msg("Worker exited normally")
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.HarvestURL = harvestURL
	}
	if flags.Changed("max-filters") {
		cfg.MaxFilters = maxFilters
	}
	if flags.Changed("output") {
		cfg.Publisher = "file"
		cfg.OutputFile = output
	}
	if flags.Changed("reset-pager") {
		cfg.ResetPager = resetPager
	}
	if flags.Changed("headful") {
		cfg.BrowserHeadless = !headful
	}
	if once {
		cfg.CrawlInterval = 0
	}
}

// Services holds all the initialized services
type Services struct {
	Publisher   publisher.Publisher
	Checkpoints harvest.Checkpoint
	metrics     *http.Server
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			logger.LogError("publisher", err, "failed to close publisher")
		}
	}
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.metrics.Shutdown(ctx)
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	services := &Services{}

	// Initialize publisher
	switch cfg.Publisher {
	case "file":
		filePublisher, err := publisher.NewFilePublisher(cfg.OutputFile)
		if err != nil {
			return nil, err
		}
		services.Publisher = filePublisher
		logger.Info("Writing records to %s", cfg.OutputFile)
	default:
		redisPublisher := publisher.NewRedisPublisher(
			ctx,
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamMaxLength,
		)
		if err := redisPublisher.Ping(); err != nil {
			redisPublisher.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		services.Publisher = redisPublisher
		logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
			cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
	}

	// Initialize checkpoints
	if cfg.MemcacheAddr != "" {
		memcacheService := cache.NewMemcacheService(cfg.MemcacheAddr, time.Second)
		if err := memcacheService.Ping(); err != nil {
			logger.Warn("Memcache at %s is not reachable, checkpoints disabled: %v", cfg.MemcacheAddr, err)
		} else {
			services.Checkpoints = cache.NewCheckpoints(memcacheService, "gridharvester", cfg.CheckpointTTL)
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	// Expose metrics
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		services.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := services.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.LogError("metrics", err, "metrics server stopped")
			}
		}()
		logger.Info("Serving metrics on %s/metrics", cfg.MetricsAddr)
	}

	return services, nil
}
