// Package config loads application settings from app.env, .env and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	ServerPort   string
	ClientOrigin string

	JWTSecret  string
	APIKeyHash string

	DatabaseDriver string
	DatabaseURL    string

	MQTTBrokerURL string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string
	MQTTQoS       byte

	KafkaBrokers []string
	KafkaTopic   string

	EmailRegion  string
	EmailFrom    string
	EmailAlertTo string

	PaymentDelay time.Duration

	LogLevel  string
	LogFormat string
}

var defaults = map[string]any{
	"server_port":          "8080",
	"server_client_origin": "http://localhost:5173",
	"auth_jwt_secret":      "",
	"auth_api_key_hash":    "",
	"database_driver":      DriverPostgres,
	"database_url":         "",
	"mqtt_broker_url":      "",
	"mqtt_client_id":       "medicine-dispatch",
	"mqtt_username":        "",
	"mqtt_password":        "",
	"mqtt_qos":             1,
	"kafka_brokers":        []string{},
	"kafka_topic":          "order-events",
	"email_region":         "",
	"email_from":           "",
	"email_alert_to":       "",
	"payment_delay":        "3s",
	"log_level":            "info",
	"log_format":           "json",
}

// LoadConfig reads app.env from path (optional), a .env file (optional) and
// the environment. Keys are flat, e.g. AUTH_JWT_SECRET or DATABASE_URL.
func LoadConfig(path string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, def := range defaults {
		v.SetDefault(k, def)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config.LoadConfig: %w", err)
		}
	}

	cfg := &Config{
		ServerPort:     v.GetString("server_port"),
		ClientOrigin:   v.GetString("server_client_origin"),
		JWTSecret:      v.GetString("auth_jwt_secret"),
		APIKeyHash:     v.GetString("auth_api_key_hash"),
		DatabaseDriver: strings.ToLower(v.GetString("database_driver")),
		DatabaseURL:    v.GetString("database_url"),
		MQTTBrokerURL:  v.GetString("mqtt_broker_url"),
		MQTTClientID:   v.GetString("mqtt_client_id"),
		MQTTUsername:   v.GetString("mqtt_username"),
		MQTTPassword:   v.GetString("mqtt_password"),
		MQTTQoS:        byte(v.GetUint("mqtt_qos")),
		KafkaBrokers:   splitList(v.GetStringSlice("kafka_brokers")),
		KafkaTopic:     v.GetString("kafka_topic"),
		EmailRegion:    v.GetString("email_region"),
		EmailFrom:      v.GetString("email_from"),
		EmailAlertTo:   v.GetString("email_alert_to"),
		PaymentDelay:   v.GetDuration("payment_delay"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("AUTH_JWT_SECRET is required"))
	}
	if c.APIKeyHash == "" {
		errs = append(errs, errors.New("AUTH_API_KEY_HASH is required"))
	}
	switch c.DatabaseDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER %q is not supported", c.DatabaseDriver))
	}
	if c.MQTTQoS > 2 {
		errs = append(errs, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTTQoS))
	}
	if c.PaymentDelay < 0 {
		errs = append(errs, errors.New("PAYMENT_DELAY must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config.Validate: %w", errors.Join(errs...))
	}
	return nil
}

// splitList accepts both repeated values and a single comma separated string.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
