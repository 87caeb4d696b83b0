package logging

import (
	"fmt"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stepfunction-inspector/internal/config"
)

// New builds a logger at level. Format "console" selects the development
// encoder, anything else JSON.
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func Module() fx.Option {
	return fx.Provide(func(cfg config.Config) (*zap.Logger, error) {
		logger, err := New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return nil, err
		}
		return logger.With(zap.String("service", cfg.Telemetry.ServiceName)), nil
	})
}
