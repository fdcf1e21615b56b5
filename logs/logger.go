// Package logs is the process-wide logger: colored text on stdout and, when a
// path is given, the same entries as plain text in a size-rotated file.
package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"grid_hedge_bot/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampLayout = "2006-01-02 15:04:05"

var (
	// log writes to stderr until Init replaces it, so packages can log in tests.
	log  = logrus.New()
	sink *rotatingHook
)

// rotatingHook mirrors every entry that passes the logger level into a
// lumberjack file, without colors.
type rotatingHook struct {
	file   *lumberjack.Logger
	format logrus.Formatter
}

func newRotatingHook(path string, cfg *config.LogConfig) (*rotatingHook, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &rotatingHook{
		file: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
		format: &logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: timestampLayout,
		},
	}, nil
}

func (h *rotatingHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *rotatingHook) Fire(entry *logrus.Entry) error {
	line, err := h.format.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.file.Write(line)
	return err
}

func consoleFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		ForceColors:            true,
		FullTimestamp:          true,
		TimestampFormat:        timestampLayout,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	}
}

// parseLevel falls back to info for an unknown level name.
func parseLevel(name string) logrus.Level {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// Init builds the logger from cfg. An empty path logs to the console only.
func Init(cfg *config.LogConfig, path string) error {
	next := logrus.New()
	next.SetLevel(parseLevel(cfg.LogLevel))
	next.SetFormatter(consoleFormatter())
	next.SetOutput(os.Stdout)

	if path != "" {
		hook, err := newRotatingHook(path, cfg)
		if err != nil {
			return err
		}
		next.AddHook(hook)
		sink = hook
	}

	// the logrus standard logger stays silent so stray calls go nowhere
	logrus.SetOutput(io.Discard)
	logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks))

	log = next
	if path == "" {
		log.Info("Logging to console only.")
	} else {
		log.WithField("file", path).Info("Logging to console and file.")
	}
	return nil
}

// Close releases the log file, if any.
func Close() {
	log.Info("Logging system closed.")
	if sink == nil {
		return
	}
	if err := sink.file.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
	sink = nil
}

func WithField(key string, value interface{}) *logrus.Entry { return log.WithField(key, value) }
func WithFields(fields logrus.Fields) *logrus.Entry         { return log.WithFields(fields) }

func Debug(args ...interface{})                 { log.Debug(args...) }
func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }
func Info(args ...interface{})                  { log.Info(args...) }
func Infof(format string, args ...interface{})  { log.Infof(format, args...) }
func Warn(args ...interface{})                  { log.Warn(args...) }
func Warnf(format string, args ...interface{})  { log.Warnf(format, args...) }
func Error(args ...interface{})                 { log.Error(args...) }
func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }
func Fatal(args ...interface{})                 { log.Fatal(args...) }
func Fatalf(format string, args ...interface{}) { log.Fatalf(format, args...) }
