package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a process logger with JSON output. When logFile is set, records
// are also written to a size-rotated file.
func New(level slog.Level, logFile string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(Writer(os.Stdout, logFile), &slog.HandlerOptions{Level: level}))
}

// Writer returns out, teed into a rotating file when logFile is set.
func Writer(out io.Writer, logFile string) io.Writer {
	if logFile == "" {
		return out
	}
	return io.MultiWriter(out, &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	})
}
