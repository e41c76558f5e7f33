package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/contrib/instrumentation/runtime"

	"github.com/ecrodrig/storefront/internal/auth"
	"github.com/ecrodrig/storefront/internal/cart"
	"github.com/ecrodrig/storefront/internal/catalog"
	"github.com/ecrodrig/storefront/internal/checkout"
	"github.com/ecrodrig/storefront/internal/messaging"
	"github.com/ecrodrig/storefront/internal/telemetry"
)

const (
	serviceName    = "storefront"
	serviceVersion = "0.1.0"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	postgresURL := os.Getenv("POSTGRES_URL")
	if postgresURL == "" {
		logger.Error("POSTGRES_URL environment variable is required")
		os.Exit(1)
	}

	authSecret := os.Getenv("AUTH_SECRET")
	if authSecret == "" {
		logger.Error("AUTH_SECRET environment variable is required")
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	if err := runtime.Start(); err != nil {
		logger.Error("failed to start runtime instrumentation", "error", err)
		os.Exit(1)
	}

	db, err := telemetry.OpenDB("postgres", postgresURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var producer *messaging.Producer
	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers != "" {
		brokers := strings.Split(kafkaBrokers, ",")
		producer = messaging.NewProducer(brokers, "order.placed")
		defer func() { _ = producer.Close() }()
	}

	checkoutMetrics, err := telemetry.NewCheckoutMetrics()
	if err != nil {
		logger.Error("failed to create checkout metrics", "error", err)
		os.Exit(1)
	}

	tokens := auth.NewTokenManager([]byte(authSecret), 24*time.Hour)

	userRepo := auth.NewUserRepository(db)
	productRepo := catalog.NewProductRepository(db)
	cartRepo := cart.NewCartRepository(db)
	orderRepo := checkout.NewOrderRepository(db)

	authHandler := auth.NewHandler(userRepo, tokens, logger)
	catalogHandler := catalog.NewHandler(productRepo, logger)
	cartHandler := cart.NewHandler(cartRepo, logger)
	checkoutHandler := checkout.NewHandler(orderRepo, userRepo, producer, checkoutMetrics, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metricsHandler)

	route := telemetry.WithHTTPRoute

	mux.HandleFunc("GET /products", route(catalogHandler.HandleList))
	mux.HandleFunc("GET /products/{id}", route(catalogHandler.HandleGet))
	mux.HandleFunc("POST /register", route(authHandler.HandleRegister))
	mux.HandleFunc("POST /login", route(authHandler.HandleLogin))

	mux.HandleFunc("GET /cart", route(tokens.RequireUser(cartHandler.HandleView)))
	mux.HandleFunc("POST /cart/items/{productId}", route(tokens.RequireUser(cartHandler.HandleAdd)))
	mux.HandleFunc("PATCH /cart/items/{id}", route(tokens.RequireUser(cartHandler.HandleUpdate)))
	mux.HandleFunc("DELETE /cart/items/{id}", route(tokens.RequireUser(cartHandler.HandleRemove)))
	mux.HandleFunc("POST /checkout", route(tokens.RequireUser(checkoutHandler.HandleCheckout)))
	mux.HandleFunc("GET /orders", route(tokens.RequireUser(checkoutHandler.HandleListOwn)))
	mux.HandleFunc("GET /orders/{id}", route(tokens.RequireUser(checkoutHandler.HandleGet)))

	mux.HandleFunc("POST /admin/products", route(tokens.RequireAdmin(catalogHandler.HandleCreate)))
	mux.HandleFunc("PUT /admin/products/{id}", route(tokens.RequireAdmin(catalogHandler.HandleUpdate)))
	mux.HandleFunc("DELETE /admin/products/{id}", route(tokens.RequireAdmin(catalogHandler.HandleDelete)))
	mux.HandleFunc("GET /admin/orders", route(tokens.RequireAdmin(checkoutHandler.HandleAdminList)))
	mux.HandleFunc("PATCH /admin/orders/{id}/status", route(tokens.RequireAdmin(checkoutHandler.HandleUpdateStatus)))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr: ":" + port,
		Handler: otelhttp.NewHandler(mux, serviceName,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting storefront service", "port", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
