// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/javajoker/escrowpay/internal/escrow"
)

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Escrow      EscrowConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	ReadTimeout    int
	WriteTimeout   int
	IdleTimeout    int
	AllowedOrigins []string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, d.SSLMode,
	)
}

// JWTConfig holds the key used to verify tokens minted by the platform's
// auth service. This service never issues tokens.
type JWTConfig struct {
	SecretKey string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
}

type PaymentConfig struct {
	StripeSecretKey string
	WebhookSecret   string
	StatementLabel  string
}

// EscrowConfig is immutable after load: fee policy, hold periods, and timing
// rules. Fee amounts are integer cents.
type EscrowConfig struct {
	FeePercent         float64
	MinFee             int64
	MaxFee             int64
	AutoReleaseEnabled bool
	DisputeWindowDays  int
	SweepInterval      int // in seconds

	// Hold period per seller trust tier, in days after delivery.
	UnverifiedHoldDays int
	BasicHoldDays      int
	VerifiedHoldDays   int
	TrustedHoldDays    int
}

// FeePolicy returns the escrow core's view of the fee schedule.
func (e EscrowConfig) FeePolicy() escrow.FeePolicy {
	return escrow.FeePolicy{
		Percent: e.FeePercent,
		MinFee:  e.MinFee,
		MaxFee:  e.MaxFee,
	}
}

// HoldPeriods returns the tier-to-period table.
func (e EscrowConfig) HoldPeriods() escrow.HoldPeriods {
	return escrow.HoldPeriods{
		escrow.TierUnverified: e.UnverifiedHoldDays,
		escrow.TierBasic:      e.BasicHoldDays,
		escrow.TierVerified:   e.VerifiedHoldDays,
		escrow.TierTrusted:    e.TrustedHoldDays,
	}
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsSlice("ALLOWED_ORIGINS", nil),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "escrowpay"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "silent"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "escrowpay-evidence"),
		},
		Payment: PaymentConfig{
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret:   getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			StatementLabel:  getEnv("PAYMENT_STATEMENT_LABEL", "ESCROWPAY"),
		},
		Escrow: EscrowConfig{
			FeePercent:         getEnvAsFloat("ESCROW_FEE_PERCENT", 10.0),
			MinFee:             int64(getEnvAsInt("ESCROW_MIN_FEE_CENTS", 100)),
			MaxFee:             int64(getEnvAsInt("ESCROW_MAX_FEE_CENTS", 10000)),
			AutoReleaseEnabled: getEnvAsBool("ESCROW_AUTO_RELEASE", true),
			DisputeWindowDays:  getEnvAsInt("ESCROW_DISPUTE_WINDOW_DAYS", 3),
			SweepInterval:      getEnvAsInt("ESCROW_SWEEP_INTERVAL_SECONDS", 300),
			UnverifiedHoldDays: getEnvAsInt("ESCROW_HOLD_DAYS_UNVERIFIED", 14),
			BasicHoldDays:      getEnvAsInt("ESCROW_HOLD_DAYS_BASIC", 7),
			VerifiedHoldDays:   getEnvAsInt("ESCROW_HOLD_DAYS_VERIFIED", 3),
			TrustedHoldDays:    getEnvAsInt("ESCROW_HOLD_DAYS_TRUSTED", 0),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == "your-secret-key-change-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	if c.Escrow.FeePercent < 0 || c.Escrow.FeePercent > 100 {
		return fmt.Errorf("escrow fee percent must be between 0 and 100")
	}

	if c.Escrow.MinFee < 0 || c.Escrow.MaxFee < c.Escrow.MinFee {
		return fmt.Errorf("escrow fee bounds are inconsistent")
	}

	if c.Escrow.DisputeWindowDays < 0 {
		return fmt.Errorf("dispute window must be non-negative")
	}

	for name, days := range map[string]int{
		"unverified": c.Escrow.UnverifiedHoldDays,
		"basic":      c.Escrow.BasicHoldDays,
		"verified":   c.Escrow.VerifiedHoldDays,
		"trusted":    c.Escrow.TrustedHoldDays,
	} {
		if days < 0 {
			return fmt.Errorf("hold period for tier %s must be non-negative", name)
		}
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
