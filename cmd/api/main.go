package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/crawl"
	"github.com/joseph-ayodele/receipts-pipeline/internal/export"
	"github.com/joseph-ayodele/receipts-pipeline/internal/ingest"
	"github.com/joseph-ayodele/receipts-pipeline/internal/messaging"
	"github.com/joseph-ayodele/receipts-pipeline/internal/realtime"
	"github.com/joseph-ayodele/receipts-pipeline/internal/receipts"
	repo "github.com/joseph-ayodele/receipts-pipeline/internal/repository"
	"github.com/joseph-ayodele/receipts-pipeline/internal/server"
	ingestsvc "github.com/joseph-ayodele/receipts-pipeline/internal/services/ingest"
	"github.com/joseph-ayodele/receipts-pipeline/internal/services/merchant"
	"github.com/joseph-ayodele/receipts-pipeline/internal/services/product"
	"github.com/joseph-ayodele/receipts-pipeline/internal/services/purchase"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger := common.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if err := cfg.ValidateAPI(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("api stopped")
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger) error {
	drv, pool, err := repo.Open(ctx, repo.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer repo.Close(drv, pool, logger)

	if err := repo.HealthCheck(ctx, pool, 5*time.Second, logger); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if err := repo.Migrate(ctx, drv, logger); err != nil {
		return err
	}

	broker, err := messaging.Dial(cfg.Broker.URL, logger, messaging.WithDialer(messaging.AMQPDialer(cfg.Broker.Heartbeat)))
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer func() {
		if err := broker.Close(); err != nil {
			logger.Warn("failed to close broker", "error", err)
		}
	}()
	b := cfg.Broker
	for _, exchange := range []string{b.ImageToCompraExchange, b.EntityExchange, b.ProductCodeExchange, b.PurchaseExchange} {
		if err := broker.EnsureExchange(exchange); err != nil {
			return err
		}
	}
	publisher := broker.Publisher(
		messaging.WithExchangeSchema(b.ImageToCompraExchange, messaging.ReceiptSchema),
		messaging.WithExchangeSchema(b.EntityExchange, messaging.MerchantRequestSchema),
		messaging.WithExchangeSchema(b.ProductCodeExchange, messaging.ProductCodeSchema),
		messaging.WithExchangeSchema(b.PurchaseExchange, messaging.PurchaseSchema),
	)
	defer publisher.Close()

	if err := os.MkdirAll(cfg.Server.UploadsBasePath, 0o755); err != nil {
		return fmt.Errorf("create uploads dir: %w", err)
	}

	receiptRepo := repo.NewReceiptRepository(drv, logger)
	purchaseRepo := repo.NewPurchaseRepository(drv, logger)
	merchantRepo := repo.NewMerchantRepository(drv, logger)
	productRepo := repo.NewProductRepository(drv, logger)
	tx := repo.NewTxRunner(drv, logger)

	receiptsService := receipts.NewService(receiptRepo, logger)
	store := ingest.NewFSStore(cfg.Server.UploadsBasePath, logger)
	registry := realtime.NewRegistry(logger)

	api := server.New(server.Deps{
		Receipts: receiptsService,
		Uploads: ingestsvc.NewService(store, receiptsService, publisher,
			messaging.Route{Exchange: b.ImageToCompraExchange, Key: b.ImageToCompraKey},
			cfg.Server.ServerURL, logger),
		Purchases: purchase.NewService(purchaseRepo, merchantRepo, productRepo, tx, receiptsService, publisher, purchase.Routes{
			Merchant:    messaging.Route{Exchange: b.EntityExchange, Key: b.EntityNewKey},
			ProductCode: messaging.Route{Exchange: b.ProductCodeExchange, Key: b.ProductCodeNewKey},
			Purchase:    messaging.Route{Exchange: b.PurchaseExchange, Key: b.PurchasePredictKey},
		}, logger),
		Merchants:   merchant.NewService(merchantRepo, purchaseRepo, logger),
		Products:    product.NewService(productRepo, purchaseRepo, tx, logger),
		Tokens:      repo.NewNodeTokenRepository(drv, logger),
		Crawl:       crawl.NewController(repo.NewCrawlCounterRepository(drv, logger), logger),
		Export:      export.NewService(receiptRepo, logger),
		Store:       store,
		Registry:    registry,
		CORSOrigins: cfg.Server.CORSOrigins,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	listener := realtime.NewListener(realtime.PgxConnFactory(cfg.Database.NotificationsDSN), registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := listener.Run(gctx); err != nil {
			healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
			return fmt.Errorf("status listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()
		registry.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})
	return g.Wait()
}
