package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/imrishuroy/storefront-orderflow/internal/aws"
	"github.com/imrishuroy/storefront-orderflow/internal/catalog"
	"github.com/imrishuroy/storefront-orderflow/internal/checkout"
	"github.com/imrishuroy/storefront-orderflow/internal/config"
	"github.com/imrishuroy/storefront-orderflow/internal/handlers"
	"github.com/imrishuroy/storefront-orderflow/internal/idempotency"
	"github.com/imrishuroy/storefront-orderflow/internal/middleware"
	"github.com/imrishuroy/storefront-orderflow/internal/orders"
	"github.com/imrishuroy/storefront-orderflow/internal/payment"
	"github.com/imrishuroy/storefront-orderflow/internal/reconcile"
	"github.com/imrishuroy/storefront-orderflow/internal/telemetry"
)

func setupRouter(cfg handlers.HandlerConfig, logger *zap.Logger, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.MetricsMiddleware())

	// health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", middleware.PrometheusHandler())

	handlers.RegisterRoutes(r, cfg)

	return r
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.OTelEnabled {
		shutdown, err := telemetry.SetupTracer(context.Background(), cfg.ServiceName)
		if err != nil {
			logger.Fatal("failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				logger.Warn("tracer shutdown", zap.Error(err))
			}
		}()
	}

	clients, err := aws.NewAWSClients(context.Background())
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}

	productStore := catalog.NewStore(clients.DynamoDB, cfg.ProductsTable)
	orderStore := orders.NewStore(clients.DynamoDB, cfg.OrdersTable)
	idempStore := idempotency.NewStore(clients.DynamoDB, cfg.IdempotencyTable, cfg.IdempotencyTTL)

	var providerOpts []payment.Option
	if cfg.RazorpayBaseURL != "" {
		providerOpts = append(providerOpts, payment.WithBaseURL(cfg.RazorpayBaseURL))
	}
	provider := payment.NewRazorpayClient(cfg.RazorpayKeyID, cfg.RazorpayKeySecret, cfg.ProviderTimeout, providerOpts...)

	var publisher reconcile.EventPublisher
	if cfg.OrderEventsQueue != "" {
		publisher = aws.NewPublisher(clients.SQS, cfg.OrderEventsQueue)
	} else {
		logger.Warn("ORDER_EVENTS_QUEUE_URL not set, order.paid events will not be published")
	}
	recorders := reconcile.Recorders{
		aws.NewMetrics(clients.CloudWatch, cfg.MetricsNamespace),
		middleware.PrometheusRecorder{},
	}

	hcfg := handlers.HandlerConfig{
		Checkout: checkout.NewService(productStore, orderStore, provider, idempStore, logger.Named("checkout")),
		Reconcile: reconcile.NewService(orderStore, reconcile.Secrets{
			KeySecret:     cfg.RazorpayKeySecret,
			WebhookSecret: cfg.RazorpayWebhookSecret,
		}, publisher, recorders, logger.Named("reconcile")),
		Orders:      orderStore,
		Products:    productStore,
		Idempotency: idempStore,
		JWTSecret:   []byte(cfg.JWTSecret),
		SellerEmail: cfg.SellerEmail,
		Logger:      logger.Named("http"),
	}

	r := setupRouter(hcfg, logger, cfg.ServiceName)

	// if environment variable RUN_LOCAL is set to "true", run local HTTP server for development.
	if cfg.RunLocal {
		bootstrapLocal(context.Background(), cfg, productStore, logger)
		runLocal(r, ":"+cfg.Port, logger)
		return
	}

	// lambda adapter
	adapter := ginadapter.New(r)

	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}

func runLocal(r *gin.Engine, addr string, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("running local server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
