package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"notify-sync-client/config"
)

// New builds the process logger. The returned func flushes buffered entries.
func New(cfg config.LogConfig, name string) (*zap.SugaredLogger, func(), error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, nil, err
	}
	sugar := logger.Named(name).Sugar()
	return sugar, func() { _ = logger.Sync() }, nil
}
