package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/semmidev/keepsake/internal/config"
)

type Logger struct {
	*zap.SugaredLogger
}

// New builds a console logger, teed into a rotating JSON file when
// cfg.LogFile is set. Every entry carries the service name.
func New(cfg *config.AppConfig) (*Logger, error) {
	if cfg.LogFile != "" {
		logDir := filepath.Dir(cfg.LogFile)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
	fileEncoder := zapcore.NewJSONEncoder(encoderConfig)

	consoleWriter := zapcore.AddSync(os.Stdout)

	var core zapcore.Core
	if cfg.LogFile != "" {
		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
		core = zapcore.NewTee(
			zapcore.NewCore(consoleEncoder, consoleWriter, level),
			zapcore.NewCore(fileEncoder, fileWriter, level),
		)
	} else {
		core = zapcore.NewCore(consoleEncoder, consoleWriter, level)
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Name != "" {
		opts = append(opts, zap.Fields(zap.String("service", cfg.Name)))
	}

	zapLogger := zap.New(core, opts...)
	return &Logger{zapLogger.Sugar()}, nil
}

// Named returns a child logger tagged with a component name, e.g.
// "scheduler" or "retention".
func (l *Logger) Named(component string) *Logger {
	return &Logger{l.SugaredLogger.Named(component)}
}

func (l *Logger) Close() {
	_ = l.Sync()
}
