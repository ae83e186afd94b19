package log

// Two zap loggers: a file logger that records everything and a console logger for
// the narration a user watches during a long crawl (progress, skipped chunks, fallbacks).
// Both are no-ops until Setup is called.

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var Logger = zap.NewNop()
var consoleLogger = zap.NewNop() // narration, warnings and errors
var setupMu sync.Mutex

// Options controls where logs go.
type Options struct {
	Dir   string // directory for app.log; empty disables the file core
	Debug bool   // record DEBUG entries in the file
	Quiet bool   // suppress console narration (warnings and errors still shown)
}

// Setup builds the loggers. It can be called more than once; the last call wins.
func Setup(opts Options) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	fileLogger := zap.NewNop()
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}

		fileConfig := zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
			EncodeDuration: zapcore.SecondsDurationEncoder,
		}

		level := zapcore.InfoLevel
		if opts.Debug {
			level = zapcore.DebugLevel
		}

		fileCore := zapcore.NewCore(
			&fileEncoder{Encoder: zapcore.NewConsoleEncoder(fileConfig)},
			getLogFileWriter(filepath.Join(opts.Dir, "app.log")),
			level,
		)
		fileLogger = zap.New(fileCore)
	}

	consoleConfig := zap.NewDevelopmentConfig()
	consoleConfig.EncoderConfig.EncodeLevel = customLevelEncoder
	consoleConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleConfig.EncoderConfig.EncodeCaller = nil
	consoleConfig.Development = false
	consoleConfig.DisableStacktrace = true
	consoleConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if opts.Quiet {
		consoleConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}

	console, err := consoleConfig.Build()
	if err != nil {
		return fmt.Errorf("failed to build console logger: %w", err)
	}

	Logger = fileLogger
	consoleLogger = console
	return nil
}

// Sync flushes both loggers.
func Sync() {
	_ = Logger.Sync()
	_ = consoleLogger.Sync()
}

// GenerateRequestID returns a random id used to correlate request/response log lines.
func GenerateRequestID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// LogRequest records an outgoing HTTP request (file only).
func LogRequest(requestID, method, endpoint string, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.String("request_id", requestID),
		zap.String("method", method),
		zap.String("endpoint", endpoint),
	}, fields...)
	Logger.Debug("HTTP request", allFields...)
}

// LogResponse records a response. Non-2xx statuses are errors in the file only; the
// caller decides whether the failure is worth surfacing on the console.
func LogResponse(requestID string, statusCode int, durationMs int64, fields ...zap.Field) {
	allFields := append([]zap.Field{
		zap.String("request_id", requestID),
		zap.Int("status_code", statusCode),
		zap.Int64("duration_ms", durationMs),
	}, fields...)

	if statusCode >= 200 && statusCode < 300 {
		Logger.Debug("HTTP response", allFields...)
		return
	}
	Logger.Error("HTTP response", allFields...)
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

func customLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(colorCyan + "DEBUG" + colorReset)
	case zapcore.InfoLevel:
		enc.AppendString(colorGreen + "INFO" + colorReset)
	case zapcore.WarnLevel:
		enc.AppendString(colorYellow + "WARN" + colorReset)
	case zapcore.ErrorLevel, zapcore.FatalLevel, zapcore.PanicLevel:
		enc.AppendString(colorRed + level.CapitalString() + colorReset)
	default:
		enc.AppendString(colorWhite + level.String() + colorReset)
	}
}

// LogInfo writes to the file only.
func LogInfo(message string, fields ...zap.Field) {
	Logger.Info(message, fields...)
}

// LogDebug writes to the file only.
func LogDebug(message string, fields ...zap.Field) {
	Logger.Debug(message, fields...)
}

// LogProgress narrates crawl progress on the console and in the file.
func LogProgress(message string, fields ...zap.Field) {
	Logger.Info(message, fields...)
	consoleLogger.Info(message, fields...)
}

// LogSuccess marks a finished step (file and console).
func LogSuccess(message string, fields ...zap.Field) {
	durationMs := extractDuration(fields)

	Logger.Info(message, fields...)

	if durationMs > 0 {
		consoleLogger.Info(fmt.Sprintf("✓ %s (%dms)", message, durationMs), withoutDuration(fields)...)
	} else {
		consoleLogger.Info("✓ "+message, fields...)
	}
}

// LogWarn is shown on the console: warnings are how gaps in the result get noticed.
func LogWarn(message string, fields ...zap.Field) {
	Logger.Warn(message, fields...)
	consoleLogger.Warn("⚠ "+message, fields...)
}

// LogError writes to the file and the console.
func LogError(message string, fields ...zap.Field) {
	Logger.Error(message, fields...)
	consoleLogger.Error("✗ "+message, fields...)
}

// LogJSON pretty-prints a JSON payload into the file log at debug level.
func LogJSON(data []byte, label string) {
	var pretty any
	if err := json.Unmarshal(data, &pretty); err != nil {
		Logger.Debug(label, zap.ByteString("response", data))
		return
	}
	formatted, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		Logger.Debug(label, zap.ByteString("response", data))
		return
	}
	Logger.Debug(label)
	Logger.Sugar().Debugf("\n%s\n", string(formatted))
}

func extractDuration(fields []zap.Field) int64 {
	for _, field := range fields {
		if field.Key == "duration_ms" && field.Type == zapcore.Int64Type {
			return field.Integer
		}
	}
	return 0
}

func withoutDuration(fields []zap.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		if field.Key != "duration_ms" {
			out = append(out, field)
		}
	}
	return out
}

// MaxLogFileSize caps app.log; the file is truncated once it grows past it.
const MaxLogFileSize = 50 * 1024 * 1024

type rotatingLogWriter struct {
	file *os.File
	path string
	mu   sync.Mutex
}

func (w *rotatingLogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := w.file.Stat()
	if err == nil && info.Size() > MaxLogFileSize {
		w.file.Close()

		w.file, err = os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return 0, fmt.Errorf("failed to truncate log file: %w", err)
		}
	}

	return w.file.Write(p)
}

func (w *rotatingLogWriter) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

func getLogFileWriter(path string) zapcore.WriteSyncer {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open log file %s: %v, falling back to stderr\n", path, err)
		return zapcore.AddSync(os.Stderr)
	}
	return zapcore.AddSync(&rotatingLogWriter{file: file, path: path})
}

// fileEncoder writes "time  LEVEL message\t{json fields}" lines.
type fileEncoder struct {
	zapcore.Encoder
}

func (e *fileEncoder) Clone() zapcore.Encoder {
	return &fileEncoder{Encoder: e.Encoder.Clone()}
}

func (e *fileEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := buffer.NewPool().Get()

	buf.AppendString(entry.Time.Format("2006-01-02 15:04:05"))
	buf.AppendString("     ")
	buf.AppendString(entry.Level.CapitalString())
	buf.AppendString(" ")
	buf.AppendString(entry.Message)

	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, field := range fields {
			field.AddTo(enc)
		}
		if jsonData, err := json.Marshal(enc.Fields); err == nil {
			buf.AppendString("\t")
			buf.AppendString(string(jsonData))
		}
	}

	buf.AppendString("\n")
	return buf, nil
}
