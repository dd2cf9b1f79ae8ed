package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	TrackHub TrackHubConfig `yaml:"trackhub"`
	Carriers CarriersConfig `yaml:"carriers"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

func (d DatabaseConfig) ConnString() string {
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.DBName, ssl)
}

type KafkaConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (k KafkaConfig) Addr() string {
	return fmt.Sprintf("%s:%d", k.Host, k.Port)
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type TrackHubConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	SwaggerPath        string `yaml:"swagger_path"`

	ShipmentCacheTTLSeconds   int `yaml:"shipment_cache_ttl_seconds"`
	SyncRefreshTimeoutSeconds int `yaml:"sync_refresh_timeout_seconds"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int `yaml:"worker_lease_seconds"`
	WorkerFailThreshold       int `yaml:"worker_fail_threshold"`

	// Refresh scheduling (optional). Unset values fall back to prod-like
	// defaults: CREATED 15m, IN_TRANSIT 30..60m, OUT_FOR_DELIVERY 10m,
	// UNKNOWN 60m, backoff 5m doubling up to 6h.
	NextCheckCreatedSeconds        int `yaml:"next_check_created_seconds"`
	NextCheckInTransitMinSeconds   int `yaml:"next_check_in_transit_min_seconds"`
	NextCheckInTransitMaxSeconds   int `yaml:"next_check_in_transit_max_seconds"`
	NextCheckOutForDeliverySeconds int `yaml:"next_check_out_for_delivery_seconds"`
	NextCheckUnknownSeconds        int `yaml:"next_check_unknown_seconds"`
	BackoffBaseSeconds             int `yaml:"backoff_base_seconds"`
	BackoffCapSeconds              int `yaml:"backoff_cap_seconds"`
}

type CarriersConfig struct {
	DHL         DHLConfig         `yaml:"dhl"`
	UPS         UPSConfig         `yaml:"ups"`
	FedEx       FedExConfig       `yaml:"fedex"`
	TNT         TNTConfig         `yaml:"tnt"`
	SDA         SDAConfig         `yaml:"sda"`
	BRT         BRTConfig         `yaml:"brt"`
	SpediamoPro SpediamoProConfig `yaml:"spediamopro"`

	// UseFake swaps every carrier for the deterministic in-process one;
	// meant for demos and local runs without credentials.
	UseFake bool `yaml:"use_fake"`
}

type DHLConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	SiteID             string `yaml:"site_id"`
	Password           string `yaml:"password"`
	CustomerCode       string `yaml:"customer_code"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type UPSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	TrackURL           string `yaml:"track_url"`
	RateURL            string `yaml:"rate_url"`
	LicenseNumber      string `yaml:"license_number"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	ClientID           string `yaml:"client_id"`
	ClientSecret       string `yaml:"client_secret"`
	AccountNumber      string `yaml:"account_number"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type FedExConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	ClientID           string `yaml:"client_id"`
	ClientSecret       string `yaml:"client_secret"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type TNTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	Customer           string `yaml:"customer"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	AccountNumber      string `yaml:"account_number"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type SDAConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	AuthURL            string `yaml:"auth_url"`
	ClientID           string `yaml:"client_id"`
	ClientSecret       string `yaml:"client_secret"`
	Scope              string `yaml:"scope"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type BRTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

type SpediamoProConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	AuthCode           string `yaml:"auth_code"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
