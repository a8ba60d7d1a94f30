package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Config controls driver construction.
type Config struct {
	Provider   string
	GatewayURL string
	AuthToken  string
}

// New builds the configured signaling driver. Mode "auto" prefers the
// websocket gateway when a URL is configured, falling back to the mock.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Driver, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "ws":
		if strings.TrimSpace(cfg.GatewayURL) == "" {
			return nil, errors.New("TELEPHONY_GATEWAY_URL is required for ws mode")
		}
		return NewWSDriver(ctx, WSConfig{GatewayURL: cfg.GatewayURL, AuthToken: cfg.AuthToken}, logger)
	case "mock":
		return NewMockDriver(), nil
	case "auto":
		if strings.TrimSpace(cfg.GatewayURL) != "" {
			return NewWSDriver(ctx, WSConfig{GatewayURL: cfg.GatewayURL, AuthToken: cfg.AuthToken}, logger)
		}
		logger.Info("no telephony gateway configured, using mock driver")
		return NewMockDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported telephony provider %q", cfg.Provider)
	}
}
