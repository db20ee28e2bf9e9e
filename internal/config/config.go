// Package config handles loading and validation of service configuration.
// Supports both development (env vars or CONFIG_FILE) and production (Secret
// Manager for processor credentials) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/spf13/viper"

	"checkout-service/internal/cart"
	"checkout-service/internal/paypal"
)

// Config holds all service configuration.
// Environment determines whether processor secrets load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"` // "development" or "production"
	LogLevel    string `mapstructure:"log_level"`   // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string `mapstructure:"gcp_project"`
	SecretName string `mapstructure:"secret_name"`

	MaxCartItems int `mapstructure:"max_cart_items"`

	// Storage. An empty DatabaseURL runs on the in-memory store.
	DatabaseURL  string        `mapstructure:"database_url"`
	RedisURL     string        `mapstructure:"redis_url"`
	CartCacheTTL time.Duration `mapstructure:"cart_cache_ttl"`

	// Events. No brokers drops events.
	KafkaBrokers []string `mapstructure:"kafka_brokers"`

	Orders     OrdersConfig     `mapstructure:"orders"`
	PayPal     PayPalConfig     `mapstructure:"paypal"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	Processors ProcessorsConfig `mapstructure:"processors"`

	// CarriersFile overrides the embedded shipping carrier table.
	CarriersFile string `mapstructure:"carriers_file"`
}

// OrdersConfig points at the order service that records purchases.
type OrdersConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// PayPalConfig holds PayPal REST credentials.
type PayPalConfig struct {
	ClientID string `mapstructure:"client_id"`
	Secret   string `mapstructure:"secret"`
	Sandbox  bool   `mapstructure:"sandbox"`
	// BaseURL overrides the sandbox/live choice.
	BaseURL string `mapstructure:"base_url"`
}

// Enabled reports whether PayPal credentials are configured.
func (p PayPalConfig) Enabled() bool { return p.ClientID != "" }

// URL returns the REST base URL for the configured mode.
func (p PayPalConfig) URL() string {
	switch {
	case p.BaseURL != "":
		return strings.TrimSuffix(p.BaseURL, "/")
	case p.Sandbox:
		return paypal.SandboxURL
	default:
		return paypal.LiveURL
	}
}

// StripeConfig holds the Stripe secret key. Live or test mode follows the key.
type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	APIURL    string `mapstructure:"api_url"`
	FilesURL  string `mapstructure:"files_url"`
}

// Enabled reports whether a Stripe key is configured.
func (s StripeConfig) Enabled() bool { return s.SecretKey != "" }

// ProcessorsConfig tunes outbound processor clients.
type ProcessorsConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	ChromeTLS bool          `mapstructure:"chrome_tls"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars. Production then overlays
// processor credentials from Secret Manager.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	var cfg *Config
	var err error
	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		cfg, err = loadFromFile(configPath)
	} else {
		cfg, err = loadFromEnv()
	}
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading processor secrets: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON, YAML or TOML file; the
// format follows the extension.
func loadFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// loadFromEnv reads configuration from individual environment variables.
func loadFromEnv() (*Config, error) {
	cfg := &Config{
		Port:        os.Getenv("PORT"),
		Environment: os.Getenv("ENVIRONMENT"),
		LogLevel:    os.Getenv("LOG_LEVEL"),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretName:  os.Getenv("SECRET_NAME"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		Orders: OrdersConfig{
			URL:    os.Getenv("ORDERS_URL"),
			APIKey: os.Getenv("ORDERS_API_KEY"),
		},
		PayPal: PayPalConfig{
			ClientID: os.Getenv("PAYPAL_CLIENT_ID"),
			Secret:   os.Getenv("PAYPAL_SECRET"),
			BaseURL:  os.Getenv("PAYPAL_BASE_URL"),
		},
		Stripe: StripeConfig{
			SecretKey: os.Getenv("STRIPE_SECRET_KEY"),
			APIURL:    os.Getenv("STRIPE_API_URL"),
			FilesURL:  os.Getenv("STRIPE_FILES_URL"),
		},
		CarriersFile: os.Getenv("CARRIERS_FILE"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.MaxCartItems, err = envInt("MAX_CART_ITEMS"); err != nil {
		return nil, err
	}
	if cfg.PayPal.Sandbox, err = envBool("PAYPAL_SANDBOX"); err != nil {
		return nil, err
	}
	if cfg.Processors.ChromeTLS, err = envBool("PROCESSOR_CHROME_TLS"); err != nil {
		return nil, err
	}
	if cfg.CartCacheTTL, err = envDuration("CART_CACHE_TTL"); err != nil {
		return nil, err
	}
	if cfg.Processors.Timeout, err = envDuration("PROCESSOR_TIMEOUT"); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Port = withDefault(c.Port, "8080")
	c.Environment = withDefault(c.Environment, "development")
	c.LogLevel = withDefault(c.LogLevel, "info")
	c.SecretName = withDefault(c.SecretName, "checkout-processors")
	if c.MaxCartItems == 0 {
		c.MaxCartItems = cart.DefaultMaxItems
	}
	if c.CartCacheTTL == 0 {
		c.CartCacheTTL = 24 * time.Hour
	}
	if c.Processors.Timeout == 0 {
		c.Processors.Timeout = 30 * time.Second
	}
}

// processorSecret is the Secret Manager payload.
type processorSecret struct {
	PayPalClientID  string `json:"paypal_client_id"`
	PayPalSecret    string `json:"paypal_secret"`
	StripeSecretKey string `json:"stripe_secret_key"`
	OrdersAPIKey    string `json:"orders_api_key"`
}

// loadFromSecretManager fetches processor credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_name}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretName)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}
	return c.applySecret(result.Payload.Data)
}

// applySecret overlays credentials from a secret payload. Values already set
// by file or env win.
func (c *Config) applySecret(data []byte) error {
	var s processorSecret
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	c.PayPal.ClientID = withDefault(c.PayPal.ClientID, s.PayPalClientID)
	c.PayPal.Secret = withDefault(c.PayPal.Secret, s.PayPalSecret)
	c.Stripe.SecretKey = withDefault(c.Stripe.SecretKey, s.StripeSecretKey)
	c.Orders.APIKey = withDefault(c.Orders.APIKey, s.OrdersAPIKey)
	return nil
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("port must be numeric, got %q", c.Port)
	}
	if c.MaxCartItems < 1 {
		return fmt.Errorf("max_cart_items must be at least 1")
	}

	if c.PayPal.Enabled() && c.PayPal.Secret == "" {
		return fmt.Errorf("paypal.secret is required with paypal.client_id")
	}
	if c.PayPal.BaseURL != "" {
		if err := checkURL("paypal.base_url", c.PayPal.BaseURL); err != nil {
			return err
		}
	}
	if c.Stripe.Enabled() && !strings.HasPrefix(c.Stripe.SecretKey, "sk_") && !strings.HasPrefix(c.Stripe.SecretKey, "rk_") {
		return fmt.Errorf("stripe.secret_key must be a secret or restricted key")
	}

	if c.Orders.URL != "" {
		if err := checkURL("orders.url", c.Orders.URL); err != nil {
			return err
		}
	}

	if c.Environment == "production" {
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required in production")
		}
		if c.Orders.URL == "" {
			return fmt.Errorf("orders.url is required in production")
		}
		if !c.PayPal.Enabled() && !c.Stripe.Enabled() {
			return fmt.Errorf("at least one of paypal.client_id or stripe.secret_key is required in production")
		}
	}
	return nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s: %q", field, raw)
	}
	return nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

func envInt(key string) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envBool(key string) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", key, err)
	}
	return b, nil
}

func envDuration(key string) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return d, nil
}
