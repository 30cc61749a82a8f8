// Package logging builds the zerolog logger shared by the server and the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/aws/smithy-go/logging"
	"github.com/natefinch/lumberjack"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mobiledetail/backend/internal/config"
)

// New returns a logger writing to stderr and, when LOG_FILE is set, to a
// rotating file. It also replaces the zerolog global logger.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q, defaulting to info\n", cfg.LogLevel)
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writers []io.Writer
	if cfg.Env == "production" {
		writers = append(writers, os.Stderr)
	} else {
		writers = append(writers, zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
			w.Out = os.Stderr
			w.TimeFormat = time.Kitchen
		}))
	}

	if cfg.LogFile != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileBackups,
			MaxAge:     cfg.LogFileMaxAge,
			Compress:   true,
		})
	}

	logger := zerolog.New(io.MultiWriter(writers...)).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}

// GinWriter forwards gin's plain text lines as zerolog events.
type GinWriter struct {
	logger zerolog.Logger
	level  zerolog.Level
}

func NewGinWriter(logger zerolog.Logger, level zerolog.Level) *GinWriter {
	return &GinWriter{logger: logger, level: level}
}

func (w *GinWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if msg == "" {
		return len(p), nil
	}
	w.logger.WithLevel(w.level).Str("component", "gin").Msg(msg)
	return len(p), nil
}

// AWSLogger adapts zerolog to the smithy logging interface used by the AWS SDK.
type AWSLogger struct {
	logger zerolog.Logger
}

func NewAWSLogger(logger zerolog.Logger) *AWSLogger {
	return &AWSLogger{logger: logger.With().Str("component", "aws").Logger()}
}

func (l *AWSLogger) Logf(classification logging.Classification, format string, v ...interface{}) {
	if classification == logging.Warn {
		l.logger.Warn().Msgf(format, v...)
		return
	}
	l.logger.Debug().Msgf(format, v...)
}
