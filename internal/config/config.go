package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// RepNoAnswerPolicy decides what happens to the customer when the
// representative cannot be reached.
type RepNoAnswerPolicy string

const (
	// RepNoAnswerResume returns the customer to the AI conversation.
	RepNoAnswerResume RepNoAnswerPolicy = "resume"
	// RepNoAnswerApologize plays a closing message and ends the call.
	RepNoAnswerApologize RepNoAnswerPolicy = "apologize"
)

// Config contains all runtime settings for the warm-transfer worker.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	TelephonyProvider   string
	TelephonyGatewayURL string
	TelephonyAuthToken  string
	TrunkID             string
	CallerID            string

	RepresentativeNumber string
	HoldMusicResource    string

	DialTimeout        time.Duration
	BriefingAckTimeout time.Duration
	HoldMaxWait        time.Duration
	OnRepNoAnswer      RepNoAnswerPolicy
	SessionRetention   time.Duration

	BrainMode    string
	BrainHTTPURL string

	CompanyName string
	ProductName string

	LookupTimeout time.Duration
	DatabaseURL   string

	LogLevel string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "warmline"),
		TelephonyProvider:    envOrDefault("TELEPHONY_PROVIDER", "auto"),
		TelephonyGatewayURL:  envTrimmed("TELEPHONY_GATEWAY_URL"),
		TelephonyAuthToken:   envTrimmed("TELEPHONY_AUTH_TOKEN"),
		TrunkID:              envTrimmed("TELEPHONY_OUTBOUND_TRUNK"),
		CallerID:             envTrimmed("TELEPHONY_CALLER_ID"),
		RepresentativeNumber: envTrimmed("TRANSFER_REPRESENTATIVE_NUMBER"),
		HoldMusicResource:    envOrDefault("TRANSFER_HOLD_MUSIC", "hold_music"),
		OnRepNoAnswer:        RepNoAnswerPolicy(envOrDefault("TRANSFER_ON_REP_NO_ANSWER", string(RepNoAnswerResume))),
		BrainMode:            envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:         envTrimmed("BRAIN_HTTP_URL"),
		CompanyName:          envOrDefault("SALES_COMPANY_NAME", "CloudAnalytics AI"),
		ProductName:          envOrDefault("SALES_PRODUCT_NAME", "CloudAnalytics AI"),
		DatabaseURL:          envTrimmed("DATABASE_URL"),
		LogLevel:             envOrDefault("APP_LOG_LEVEL", "info"),
		ShutdownTimeout:      15 * time.Second,
		DialTimeout:          30 * time.Second,
		BriefingAckTimeout:   25 * time.Second,
		HoldMaxWait:          90 * time.Second,
		SessionRetention:     time.Hour,
		LookupTimeout:        2 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DialTimeout, err = durationFromEnv("TRANSFER_DIAL_TIMEOUT", cfg.DialTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BriefingAckTimeout, err = durationFromEnv("TRANSFER_BRIEFING_ACK_TIMEOUT", cfg.BriefingAckTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HoldMaxWait, err = durationFromEnv("TRANSFER_HOLD_MAX_WAIT", cfg.HoldMaxWait)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionRetention, err = durationFromEnv("TRANSFER_SESSION_RETENTION", cfg.SessionRetention)
	if err != nil {
		return Config{}, err
	}
	cfg.LookupTimeout, err = durationFromEnv("LOOKUP_TIMEOUT", cfg.LookupTimeout)
	if err != nil {
		return Config{}, err
	}

	if cfg.DialTimeout < time.Second {
		return Config{}, fmt.Errorf("TRANSFER_DIAL_TIMEOUT must be at least 1s")
	}
	if cfg.BriefingAckTimeout < time.Second {
		return Config{}, fmt.Errorf("TRANSFER_BRIEFING_ACK_TIMEOUT must be at least 1s")
	}
	if cfg.HoldMaxWait < cfg.DialTimeout {
		return Config{}, fmt.Errorf("TRANSFER_HOLD_MAX_WAIT must be at least TRANSFER_DIAL_TIMEOUT")
	}
	if cfg.SessionRetention <= 0 {
		return Config{}, fmt.Errorf("TRANSFER_SESSION_RETENTION must be positive")
	}
	if cfg.LookupTimeout <= 0 {
		return Config{}, fmt.Errorf("LOOKUP_TIMEOUT must be positive")
	}
	switch cfg.OnRepNoAnswer {
	case RepNoAnswerResume, RepNoAnswerApologize:
	default:
		return Config{}, fmt.Errorf("TRANSFER_ON_REP_NO_ANSWER must be %q or %q", RepNoAnswerResume, RepNoAnswerApologize)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}
