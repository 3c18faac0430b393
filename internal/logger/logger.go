// Package logger builds the logrus logger shared by every binary.
package logger

import (
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader carries the request id across services.
const RequestIDHeader = "X-Request-ID"

// Logger wraps a logrus entry so packages can attach fields without knowing
// how the output is formatted.
type Logger struct {
	*logrus.Entry
}

// New returns a logger configured from ENVIRONMENT and LOG_LEVEL. Local runs
// get colored text, everything else JSON.
func New() *Logger {
	return NewWithOutput(os.Stdout)
}

// NewWithOutput is New with an explicit writer.
func NewWithOutput(out io.Writer) *Logger {
	base := logrus.New()
	env := os.Getenv("ENVIRONMENT")
	if env == "" || env == "local" {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	}
	base.SetOutput(out)
	base.SetLevel(parseLevel(os.Getenv("LOG_LEVEL")))
	return &Logger{Entry: logrus.NewEntry(base)}
}

// Discard returns a logger that drops everything. Tests use it.
func Discard() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{Entry: logrus.NewEntry(base)}
}

// Component tags log lines with the emitting package under "module", the
// key packages also set on loggers handed to them.
func (l *Logger) Component(name string) *logrus.Entry {
	return l.WithField("module", name)
}

// WithRequest attaches request metadata. A request id is minted when the
// caller did not send one.
func (l *Logger) WithRequest(r *http.Request) *logrus.Entry {
	return l.WithFields(logrus.Fields{
		"req_id":    RequestID(r),
		"method":    r.Method,
		"path":      r.URL.Path,
		"remote_ip": r.RemoteAddr,
	})
}

// RequestID returns the inbound request id, setting a fresh one on the
// request header when absent so later readers see the same value.
func RequestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
		r.Header.Set(RequestIDHeader, id)
	}
	return id
}

func parseLevel(raw string) logrus.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
