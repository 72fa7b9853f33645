package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/config"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
)

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg := config.LoadWorker()

	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	p := NewProcessor(orders.NewStore(clients.DynamoDB, cfg.OrdersTable), logger)

	// If RUN_LOCAL=true, process a single message from LOCAL_SQS_BODY and exit.
	if cfg.RunLocal {
		resp, err := p.Handle(context.Background(), events.SQSEvent{
			Records: []events.SQSMessage{{MessageId: "local-1", Body: cfg.LocalSQSBody}},
		})
		if err != nil || len(resp.BatchItemFailures) > 0 {
			logger.Fatal("local handler error", zap.Error(err), zap.Int("failures", len(resp.BatchItemFailures)))
		}
		return
	}

	lambda.Start(p.Handle)
}
