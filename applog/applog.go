package applog

import (
	"fmt"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"os"
	"path/filepath"
	"rtc-soak/build"
	"sync/atomic"
	"time"
)

type Logger = zap.Logger

const (
	asyncSinkBufferSize      = 4096
	asyncSinkShutdownTimeout = 2 * time.Second
)

var (
	globalLogger   = newConsoleLogger()
	logFile        *os.File
	fileCompressor *zstd.Encoder
	asyncSinks     []*asyncSink
	// acceptingLogs is 1 while package-level helpers should forward entries.
	acceptingLogs int32 = 1
)

func Info(msg string, fields ...zapcore.Field) {
	if atomic.LoadInt32(&acceptingLogs) == 0 {
		return
	}
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Info(msg, fields...)
}

func Warn(msg string, fields ...zapcore.Field) {
	if atomic.LoadInt32(&acceptingLogs) == 0 {
		return
	}
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Warn(msg, fields...)
}

func Debug(msg string, fields ...zapcore.Field) {
	if atomic.LoadInt32(&acceptingLogs) == 0 {
		return
	}
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Debug(msg, fields...)
}

func Error(msg string, fields ...zapcore.Field) {
	if atomic.LoadInt32(&acceptingLogs) == 0 {
		return
	}
	globalLogger.WithOptions(zap.AddCallerSkip(1)).Error(msg, fields...)
}

func GetLogger() *Logger {
	return globalLogger
}

// LogStartupInfo logs what the binary was built from together with the
// effective launch configuration.
func LogStartupInfo(launchInfo interface{}) {
	Info("Application started",
		zap.Stringer("buildCommit", build.Read()),
		zap.Reflect("build", build.Read()),
		zap.Any("launchInfo", launchInfo),
	)
}

// Initialize replaces the console-only default logger with one that writes to
// both stdout and a per-run log file. When compress is set the file is written
// as a zstd stream.
func Initialize(runId string, rawLogLevel int, logPath string, compress bool) error {
	logDir := logPath
	if logDir == "" {
		workdir, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current working directory: %w", err)
		}
		logDir = filepath.Join(workdir, "logs")
	}

	if err := os.MkdirAll(logDir, os.ModePerm); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	logFilename := filepath.Join(logDir, fmt.Sprintf("run_%s.log", runId))
	if compress {
		logFilename += ".zst"
	}

	var err error
	logFile, err = os.OpenFile(logFilename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file '%s': %w", logFilename, err)
	}

	fileSyncer := zapcore.AddSync(logFile)
	if compress {
		fileCompressor, err = zstd.NewWriter(logFile)
		if err != nil {
			_ = logFile.Close()
			logFile = nil
			return fmt.Errorf("failed to create log compressor: %w", err)
		}
		fileSyncer = &compressedSyncer{enc: fileCompressor}
	}

	level := safeGetLogLevelOrDefault(rawLogLevel)
	encoder := zapcore.NewJSONEncoder(getEncoderConfig())

	consoleSink := newAsyncSink(zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level), asyncSinkBufferSize)
	fileSink := newAsyncSink(zapcore.NewCore(encoder.Clone(), fileSyncer, level), asyncSinkBufferSize)
	asyncSinks = []*asyncSink{consoleSink, fileSink}

	l := zap.New(zapcore.NewTee(consoleSink, fileSink), zap.AddCaller()).
		With(zap.String("runId", runId))

	setLogger(l)
	atomic.StoreInt32(&acceptingLogs, 1)
	return nil
}

// Shutdown stops the package-level helpers from accepting new entries, drains
// the async sinks and closes the log file.
func Shutdown() {
	atomic.StoreInt32(&acceptingLogs, 0)

	for _, sink := range asyncSinks {
		sink.Shutdown(asyncSinkShutdownTimeout)
	}
	asyncSinks = nil

	_ = globalLogger.Sync()

	if fileCompressor != nil {
		_ = fileCompressor.Close()
		fileCompressor = nil
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

func safeGetLogLevelOrDefault(level int) zapcore.Level {
	if level < int(zapcore.DebugLevel) || level > int(zapcore.FatalLevel) {
		return zapcore.InfoLevel
	}
	return zapcore.Level(level)
}

func getEncoderConfig() zapcore.EncoderConfig {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339)) // Ensure UTC
	}
	return encoderConfig
}

func newConsoleLogger() *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(getEncoderConfig()),
		zapcore.AddSync(os.Stdout),
		zapcore.InfoLevel,
	)
	return zap.New(core, zap.AddCaller())
}

func setLogger(l *Logger) {
	globalLogger = l
	zap.ReplaceGlobals(globalLogger)
}

// compressedSyncer flushes the zstd frame on Sync so a crashed run still leaves
// a readable prefix on disk.
type compressedSyncer struct {
	enc *zstd.Encoder
}

func (c *compressedSyncer) Write(p []byte) (int, error) {
	return c.enc.Write(p)
}

func (c *compressedSyncer) Sync() error {
	return c.enc.Flush()
}
