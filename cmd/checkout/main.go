// Checkout service - marketplace cart, pricing, checkout and dispute evidence.
// Designed for Cloud Run deployment; state lives in PostgreSQL and Redis.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"checkout-service/internal/checkout"
	"checkout-service/internal/config"
	"checkout-service/internal/dispute"
	"checkout-service/internal/events"
	"checkout-service/internal/evidence"
	"checkout-service/internal/handler"
	"checkout-service/internal/metrics"
	"checkout-service/internal/middleware"
	"checkout-service/internal/orders"
	"checkout-service/internal/paypal"
	"checkout-service/internal/processor"
	"checkout-service/internal/store"
	"checkout-service/internal/stripe"
	"checkout-service/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg.LogLevel, cfg.Environment)
	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("max_cart_items", cfg.MaxCartItems),
		slog.Bool("paypal", cfg.PayPal.Enabled()),
		slog.Bool("stripe", cfg.Stripe.Enabled()),
	)

	m := metrics.New("checkout")

	deps, err := buildDeps(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer deps.close(logger)

	checkoutSvc := checkout.NewService(checkout.Config{
		Carts:      deps.carts,
		Catalog:    deps.catalog,
		Orders:     deps.orders,
		Processors: deps.processors,
		Events:     deps.events,
		Metrics:    m,
		MaxItems:   cfg.MaxCartItems,
		Logger:     logger,
	})
	disputeSvc := dispute.NewService(dispute.Config{
		Purchases: deps.purchases,
		Registry:  deps.processors,
		Assembler: evidence.NewAssembler(loadCarriers(cfg.CarriersFile, logger), m, logger),
		Events:    deps.events,
		Metrics:   m,
		Logger:    logger,
	})

	h := handler.New(handler.Config{
		Checkout: checkoutSvc,
		Disputes: disputeSvc,
		Checks:   deps.checks,
		Metrics:  m,
		Logger:   logger,
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Recovery must wrap logging to catch its panics; the request id is set
	// first so both can log it.
	httpHandler := middleware.Chain(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logging(logger),
		middleware.BuyerContext(logger),
	)(mux)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
			slog.Any("processors", deps.processors.Names()),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// deps holds the backing services the handlers run on.
type deps struct {
	carts      store.CartStore
	catalog    store.Catalog
	purchases  store.Purchases
	orders     orders.Creator
	events     events.Publisher
	processors *processor.Registry
	checks     map[string]handler.Pinger

	closers []io.Closer
}

func (d *deps) close(logger *slog.Logger) {
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			logger.Warn("closing dependency", slog.String("error", err.Error()))
		}
	}
}

func buildDeps(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*deps, error) {
	d := &deps{events: events.Noop{}, checks: map[string]handler.Pinger{}}

	if cfg.DatabaseURL != "" {
		db, err := store.Open(cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, db)
		if err := db.Migrate(ctx); err != nil {
			d.close(logger)
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		d.carts, d.catalog, d.purchases = db, db, db
		d.checks["database"] = db
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		mem := store.NewMemory()
		d.carts, d.catalog, d.purchases = mem, mem, mem
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			d.close(logger)
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		d.closers = append(d.closers, rdb)
		d.checks["redis"] = handler.PingFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		d.carts = store.NewCached(d.carts, rdb, cfg.CartCacheTTL, logger)
	}

	if len(cfg.KafkaBrokers) > 0 {
		k := events.NewKafka(cfg.KafkaBrokers, logger)
		d.closers = append(d.closers, k)
		d.events = k
	}

	if cfg.Orders.URL != "" {
		d.orders = orders.NewClient(cfg.Orders.URL, cfg.Orders.APIKey, outbound("orders", cfg, m))
	} else {
		logger.Warn("ORDERS_URL not set, every checkout item will succeed locally")
		d.orders = &orders.Mock{}
	}

	var procs []processor.Processor
	if cfg.PayPal.Enabled() {
		pp, err := paypal.New(paypal.Config{
			ClientID:   cfg.PayPal.ClientID,
			Secret:     cfg.PayPal.Secret,
			BaseURL:    cfg.PayPal.URL(),
			HTTPClient: outbound("paypal", cfg, m),
			Logger:     logger,
		})
		if err != nil {
			d.close(logger)
			return nil, err
		}
		procs = append(procs, pp)
	}
	if cfg.Stripe.Enabled() {
		procs = append(procs, stripe.New(stripe.Config{
			SecretKey:  cfg.Stripe.SecretKey,
			APIURL:     cfg.Stripe.APIURL,
			FilesURL:   cfg.Stripe.FilesURL,
			HTTPClient: outbound("stripe", cfg, m),
			Logger:     logger,
		}))
	}
	d.processors = processor.NewRegistry(procs...)

	return d, nil
}

func outbound(name string, cfg *config.Config, m *metrics.Metrics) *http.Client {
	return transport.NewClient(transport.Options{
		Name:      name,
		Timeout:   cfg.Processors.Timeout,
		ChromeTLS: cfg.Processors.ChromeTLS,
		Metrics:   m,
	})
}

// loadCarriers reads the carrier table override. A missing or unreadable file
// falls back to the embedded table.
func loadCarriers(path string, logger *slog.Logger) *evidence.Carriers {
	if path == "" {
		return evidence.DefaultCarriers(logger)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("carrier table unreadable, using embedded table",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return evidence.DefaultCarriers(logger)
	}
	carriers := evidence.ParseCarriers(data, logger)
	if carriers.Len() == 0 {
		logger.Warn("carrier table empty, using embedded table", slog.String("path", path))
		return evidence.DefaultCarriers(logger)
	}
	logger.Info("carrier table loaded", slog.String("path", path), slog.Int("carriers", carriers.Len()))
	return carriers
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
func initLogger(level, environment string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
