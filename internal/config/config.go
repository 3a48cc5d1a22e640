package config

import (
	"log"
	"os"
	"time"
)

type Config struct {
	Port    string
	DBDSN   string
	LogFile string

	Mpesa MpesaConfig

	IdempotencyTTL time.Duration
	ReservationTTL time.Duration
}

// MpesaConfig holds the Daraja credentials and the confirmation wait policy.
type MpesaConfig struct {
	Environment       string // sandbox | production
	BaseURL           string
	ConsumerKey       string
	ConsumerSecret    string
	PassKey           string
	BusinessShortCode string
	CallbackURL       string

	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
}

const (
	sandboxURL    = "https://sandbox.safaricom.co.ke"
	productionURL = "https://api.safaricom.co.ke"
)

func Load() Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "dukapos.db"
	} // sqlite file in working directory
	logFile, ok := os.LookupEnv("LOG_FILE")
	if !ok {
		logFile = "./dukapos.log"
	}

	env := os.Getenv("MPESA_ENV")
	if env == "" {
		env = "sandbox"
	}
	baseURL := os.Getenv("MPESA_BASE_URL")
	if baseURL == "" {
		baseURL = sandboxURL
		if env == "production" {
			baseURL = productionURL
		}
	}

	cfg := Config{
		Port:    port,
		DBDSN:   dsn,
		LogFile: logFile,
		Mpesa: MpesaConfig{
			Environment:       env,
			BaseURL:           baseURL,
			ConsumerKey:       os.Getenv("MPESA_CONSUMER_KEY"),
			ConsumerSecret:    os.Getenv("MPESA_CONSUMER_SECRET"),
			PassKey:           os.Getenv("MPESA_PASSKEY"),
			BusinessShortCode: os.Getenv("MPESA_BUSINESS_SHORTCODE"),
			CallbackURL:       os.Getenv("CALLBACK_URL"),
			ConfirmTimeout:    duration("MPESA_CONFIRM_TIMEOUT", 90*time.Second),
			PollInterval:      duration("MPESA_POLL_INTERVAL", 5*time.Second),
			RequestTimeout:    duration("MPESA_REQUEST_TIMEOUT", 30*time.Second),
		},
		IdempotencyTTL: duration("IDEMPOTENCY_TTL", 24*time.Hour),
		ReservationTTL: duration("RESERVATION_TTL", 15*time.Minute),
	}
	log.Printf("[config] PORT=%s DB_DSN=%s LOG_FILE=%s MPESA_ENV=%s MPESA_BASE_URL=%s SHORTCODE=%s CONFIRM_TIMEOUT=%s POLL=%s",
		cfg.Port, cfg.DBDSN, cfg.LogFile, cfg.Mpesa.Environment, cfg.Mpesa.BaseURL,
		cfg.Mpesa.BusinessShortCode, cfg.Mpesa.ConfirmTimeout, cfg.Mpesa.PollInterval)
	return cfg
}

func duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		log.Printf("[config] ignoring %s=%q: %v", key, raw, err)
		return def
	}
	return d
}
