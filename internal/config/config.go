// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds every setting the api and worker binaries read.
type Config struct {
	RunLocal bool
	Port     string

	OrdersTable      string
	ProductsTable    string
	IdempotencyTable string
	IdempotencyTTL   time.Duration
	OrderEventsQueue string
	MetricsNamespace string

	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	RazorpayBaseURL       string
	ProviderTimeout       time.Duration

	JWTSecret   string
	SellerEmail string

	ServiceName    string
	OTelEnabled    bool
	LogDevelopment bool

	// Local runs only. SeedProductsFile is a JSON array of products written
	// to the catalog at startup; DevUserID gets a session token logged.
	SeedProductsFile string
	DevUserID        string

	// LocalSQSBody is the message the worker processes when RunLocal is set.
	LocalSQSBody string
}

// Load reads the environment. Missing required values are reported together.
func Load() (*Config, error) {
	cfg := &Config{
		RunLocal:         getEnv("RUN_LOCAL", "") == "true",
		Port:             getEnv("PORT", "8080"),
		OrdersTable:      getEnv("ORDERS_TABLE", "orders"),
		ProductsTable:    getEnv("PRODUCTS_TABLE", "products"),
		IdempotencyTable: getEnv("IDEMPOTENCY_TABLE", "idempotency"),
		OrderEventsQueue: getEnv("ORDER_EVENTS_QUEUE_URL", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "Storefront/Payments"),

		RazorpayKeyID:         getEnv("RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret:     getEnv("RAZORPAY_KEY_SECRET", ""),
		RazorpayWebhookSecret: getEnv("RAZORPAY_WEBHOOK_SECRET", ""),
		RazorpayBaseURL:       getEnv("RAZORPAY_BASE_URL", ""),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		SellerEmail: getEnv("SELLER_EMAIL", ""),

		ServiceName:    getEnv("SERVICE_NAME", "storefront-orderflow"),
		OTelEnabled:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "") != "",
		LogDevelopment: getEnv("LOG_LEVEL", "") == "debug",

		SeedProductsFile: getEnv("SEED_PRODUCTS_FILE", ""),
		DevUserID:        getEnv("DEV_USER_ID", ""),
	}

	var errs []error
	var err error
	if cfg.ProviderTimeout, err = getDuration("PROVIDER_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 48*time.Hour); err != nil {
		errs = append(errs, err)
	}
	for name, v := range map[string]string{
		"RAZORPAY_KEY_ID":         cfg.RazorpayKeyID,
		"RAZORPAY_KEY_SECRET":     cfg.RazorpayKeySecret,
		"RAZORPAY_WEBHOOK_SECRET": cfg.RazorpayWebhookSecret,
		"JWT_SECRET":              cfg.JWTSecret,
	} {
		if v == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadWorker reads only what the fulfillment worker needs.
func LoadWorker() *Config {
	return &Config{
		RunLocal:       getEnv("RUN_LOCAL", "") == "true",
		OrdersTable:    getEnv("ORDERS_TABLE", "orders"),
		ServiceName:    getEnv("SERVICE_NAME", "storefront-orderflow-worker"),
		LogDevelopment: getEnv("LOG_LEVEL", "") == "debug",
		LocalSQSBody:   getEnv("LOCAL_SQS_BODY", `{"order_id":"local-order-1","payment_id":"pay_local"}`),
	}
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s: invalid duration %q", key, raw)
	}
	return d, nil
}
