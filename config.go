package lokihandler

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	defaultFlushInterval  = 10 * time.Second
	defaultRequestTimeout = 10 * time.Second

	diagnosticLoggerName = "loki-handler-debug"
)

// Config configures a Handler. Start from DefaultConfig: the zero value
// disables JSON lines and compression.
type Config struct {
	// URL is the full push endpoint, e.g. http://loki:3100/loki/api/v1/push.
	URL string

	// Labels are attached to every stream.
	Labels map[string]string

	// LabelKeys names record fields promoted to labels when present. A
	// promoted field overrides a default label with the same key.
	LabelKeys []string

	// AdditionalHeaders are sent with every push request.
	AdditionalHeaders map[string]string

	// Username and Password enable basic auth when either is set.
	Username string
	Password string

	// MessageInJSONFormat renders each line as a JSON string. When false
	// the line is sent as a structured object.
	MessageInJSONFormat bool

	// Compressed gzips request bodies.
	Compressed bool

	// FlushInterval is the longest a record waits in the queue.
	FlushInterval time.Duration

	// RequestTimeout bounds each push request. Ignored with HTTPClient.
	RequestTimeout time.Duration

	// EnableStructuredMetadata attaches per-line metadata. Requires Loki 3.0+.
	EnableStructuredMetadata bool

	// Metadata is merged into the metadata of every line; line metadata
	// wins on conflicts.
	Metadata map[string]any

	// MetadataKeys names extra record fields moved out of the line into
	// its structured metadata.
	MetadataKeys []string

	// EnableSelfErrors surfaces the handler's own failures on the
	// diagnostic logger. Otherwise they are only visible through HadError.
	EnableSelfErrors bool

	// DiagnosticLogger replaces the default stderr logger used when
	// EnableSelfErrors is set. It must not write back into this Handler.
	DiagnosticLogger *zap.Logger

	HTTPClient *http.Client
}

// DefaultConfig returns a Config with JSON lines and gzip enabled and the
// default flush interval and request timeout.
func DefaultConfig(url string, labels map[string]string) Config {
	return Config{
		URL:                 url,
		Labels:              labels,
		MessageInJSONFormat: true,
		Compressed:          true,
		FlushInterval:       defaultFlushInterval,
		RequestTimeout:      defaultRequestTimeout,
	}
}

// resolve fills in zero durations.
func (c *Config) resolve() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
}

func (c *Config) diagnosticLogger() *zap.Logger {
	if !c.EnableSelfErrors {
		return zap.NewNop()
	}
	if c.DiagnosticLogger != nil {
		return c.DiagnosticLogger.Named(diagnosticLoggerName)
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.Lock(os.Stderr),
		zapcore.ErrorLevel,
	)
	return zap.New(core).Named(diagnosticLoggerName)
}
