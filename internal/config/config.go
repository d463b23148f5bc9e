package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Strings carry identifiers and secrets; durations
// carry the knobs of the background loops and the gateway HTTP client.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify bearer tokens

	// Z-Pay aggregation gateway credentials and endpoints.
	ZPayPID     string // merchant id assigned by the gateway
	ZPayKey     string // merchant signing key
	ZPayBaseURL string // gateway base URL, no trailing slash
	NotifyURL   string // public URL the gateway posts notifications to
	ReturnURL   string // URL the customer is sent back to after paying
	SiteName    string // site name shown on the cashier page

	SweepInterval  time.Duration // how often the hold sweeper runs
	GatewayTimeout time.Duration // HTTP timeout for gateway calls
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"), // empty allowed
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		ZPayPID:        must("ZPAY_PID"),
		ZPayKey:        must("ZPAY_KEY"),
		ZPayBaseURL:    envStr("ZPAY_BASE_URL", "https://z-pay.cn"),
		NotifyURL:      must("ZPAY_NOTIFY_URL"),
		ReturnURL:      envStr("ZPAY_RETURN_URL", ""),
		SiteName:       envStr("SITE_NAME", "Event Booking"),
		SweepInterval:  envDur("SWEEP_INTERVAL", time.Minute),
		GatewayTimeout: envDur("GATEWAY_TIMEOUT", 30*time.Second),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
