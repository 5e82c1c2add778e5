package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/crawl"
	"github.com/joseph-ayodele/receipts-pipeline/internal/entity"
	"github.com/joseph-ayodele/receipts-pipeline/internal/llm/openai"
	"github.com/joseph-ayodele/receipts-pipeline/internal/messaging"
	"github.com/joseph-ayodele/receipts-pipeline/internal/retryhttp"
	"github.com/joseph-ayodele/receipts-pipeline/internal/workers"
)

func main() {
	var node string
	cmd := &cobra.Command{
		Use:           "worker",
		Short:         "Run one receipt enrichment node",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, node)
		},
	}
	cmd.Flags().StringVar(&node, "node", "", "node to run ("+workers.NodeImageReader+"|"+workers.NodeEntityFinder+"|"+workers.NodeProductFinder+"); defaults to WORKER_NODE")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, node string) error {
	cfg, err := common.LoadConfig()
	if err != nil {
		return err
	}
	if node != "" {
		cfg.Worker.Node = node
	}
	logger := common.NewLogger(os.Stdout, cfg.LogLevel).With("node", cfg.Worker.Node)
	slog.SetDefault(logger)
	if err := cfg.ValidateWorker(); err != nil {
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

	api := retryhttp.New(logger, retryhttp.WithHeader("Authorization", "Bearer "+cfg.Crawl.NodeToken))
	onError := workers.ErrorHandler(logger)

	var consumer workers.Consumer
	switch cfg.Worker.Node {
	case workers.NodeImageReader:
		queue, err := declare(broker, cfg.Broker.ImageToCompraQueue, cfg.Broker.ImageToCompraExchange, cfg.Broker.ImageToCompraKey)
		if err != nil {
			return err
		}
		extractor := openai.NewClient(openai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		}, logger)
		reader := workers.NewImageReader(api, cfg.Server.ServerURL, extractor, logger)
		consumer = messaging.NewConsumer[entity.Receipt](broker, queue, messaging.ReceiptSchema, reader.Handle, onError)

	case workers.NodeEntityFinder:
		queue, err := declare(broker, cfg.Broker.EntityFinderQueue, cfg.Broker.EntityExchange, cfg.Broker.EntityNewKey)
		if err != nil {
			return err
		}
		finder := workers.NewEntityFinder(
			crawl.NewAdmission(api, cfg.Server.ServerURL, logger),
			crawl.NewPacer(cfg.Crawl.TaskDelay),
			workers.NewHTTPLookup(retryhttp.New(logger), cfg.Worker.EntityLookupURL),
			api,
			cfg.Worker.EntitiesEndpoint,
			logger,
		)
		consumer = messaging.NewConsumer[entity.MerchantRequest](broker, queue, messaging.MerchantRequestSchema, finder.Handle, onError)

	case workers.NodeProductFinder:
		queue, err := declare(broker, cfg.Broker.ProductFinderQueue, cfg.Broker.ProductCodeExchange, cfg.Broker.ProductCodeNewKey)
		if err != nil {
			return err
		}
		finder := workers.NewProductFinder(
			crawl.NewAdmission(api, cfg.Server.ServerURL, logger),
			crawl.NewPacer(cfg.Crawl.TaskDelay),
			workers.NewHTTPProductLookup(retryhttp.New(logger), cfg.Worker.ProductLookupURL),
			api,
			cfg.Worker.ProductCodesEndpoint,
			logger,
		)
		consumer = messaging.NewConsumer[entity.ProductCode](broker, queue, messaging.ProductCodeSchema, finder.Handle, onError)
	}

	logger.Info("worker starting", "server_url", cfg.Server.ServerURL)
	return workers.Run(ctx, consumer)
}

// declare makes sure the node's queue exists and is bound to its exchange.
func declare(broker *messaging.Broker, queue, exchange, key string) (string, error) {
	if err := broker.EnsureExchange(exchange); err != nil {
		return "", err
	}
	name, err := broker.EnsureQueue(queue)
	if err != nil {
		return "", err
	}
	if exchange == "" {
		return name, nil
	}
	if err := broker.Bind(name, exchange, key); err != nil {
		return "", err
	}
	return name, nil
}
