package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
)

var (
	InfoLogger  = newLogger(os.Stdout, "INFO: ")
	WarnLogger  = newLogger(os.Stdout, "WARN: ")
	ErrorLogger = newLogger(os.Stderr, "ERROR: ")
	DebugLogger = newLogger(os.Stdout, "DEBUG: ")

	debugEnabled = os.Getenv("ENVIRONMENT") == "development"
)

func newLogger(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, log.Ldate|log.Ltime|log.Lshortfile)
}

func Info(format string, v ...interface{}) {
	InfoLogger.Printf(format, v...)
}

func Warn(format string, v ...interface{}) {
	WarnLogger.Printf(format, v...)
}

func Error(format string, v ...interface{}) {
	ErrorLogger.Printf(format, v...)
}

// Debug logs only in development.
func Debug(format string, v ...interface{}) {
	if debugEnabled {
		DebugLogger.Printf(format, v...)
	}
}

// WithContext prefixes a log line with the caller's file:line plus an
// optional context value, for tracing a chat session across subsystems.
func WithContext(ctx interface{}, format string, v ...interface{}) string {
	_, file, line, _ := runtime.Caller(1)
	contextStr := fmt.Sprintf("%v:%d", file, line)
	if ctx != nil {
		contextStr = fmt.Sprintf("%v - %v", contextStr, ctx)
	}
	return fmt.Sprintf("[%s] %s", contextStr, fmt.Sprintf(format, v...))
}
