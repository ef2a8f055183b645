package lokihandler

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/logging/batch"
	"github.com/xente/loki-logger-handler/internal/logging/loki"
)

type (
	Record       = logging.Record
	ErrorDetails = logging.ErrorDetails
	Metadata     = logging.Metadata
	LabelSet     = logging.LabelSet

	FormatError        = logging.FormatError
	TransportError     = logging.TransportError
	ConfigurationError = logging.ConfigurationError
)

// Formatter converts a framework-specific record into a Record and its
// structured metadata.
type Formatter[R any] = logging.Formatter[R]

// FormatterFunc adapts a function to Formatter.
type FormatterFunc[R any] = logging.FormatterFunc[R]

// Handler is the ingestion side of the pipeline. It is safe for concurrent
// use; Put and Emit never block and never fail.
type Handler struct {
	labels       LabelSet
	labelKeys    []string
	metadataKeys []string
	structured   bool

	processor logging.BatchProcessor
	diag      *zap.Logger

	hadError atomic.Bool

	// mu orders Put against Close: a record accepted under the read lock is
	// queued before the final drain
	mu     sync.RWMutex
	closed bool
}

// New validates cfg and starts the background flush goroutine. Call Close
// to stop it and deliver what is still queued.
func New(cfg Config) (*Handler, error) {
	if cfg.URL == "" {
		return nil, &ConfigurationError{Field: "url", Reason: "must not be empty"}
	}
	cfg.resolve()

	client := loki.NewClient(loki.ClientConfig{
		URL:        cfg.URL,
		Headers:    cfg.AdditionalHeaders,
		Username:   cfg.Username,
		Password:   cfg.Password,
		Compressed: cfg.Compressed,
		Timeout:    cfg.RequestTimeout,
		HTTPClient: cfg.HTTPClient,
		Stream: loki.Options{
			MessageInJSONFormat: cfg.MessageInJSONFormat,
			StructuredMetadata:  cfg.EnableStructuredMetadata,
		},
		Metadata: cfg.Metadata,
	})

	h := &Handler{
		labels:       LabelSet(cfg.Labels).Copy(),
		labelKeys:    append([]string(nil), cfg.LabelKeys...),
		metadataKeys: append([]string(nil), cfg.MetadataKeys...),
		structured:   cfg.EnableStructuredMetadata,
		diag:         cfg.diagnosticLogger(),
	}

	processor := batch.NewBatchProcessor(context.Background(), client, logging.Config{
		FlushInterval: cfg.FlushInterval,
	}, h.Report)
	processor.Start()
	h.processor = processor

	return h, nil
}

// Emit formats raw with f and queues the result. Records that fail to
// format are dropped and reported.
func Emit[R any](h *Handler, f Formatter[R], raw R) {
	logging.Emit[R](h, f, raw)
}

// Put labels a formatted record and queues it.
func (h *Handler) Put(record Record, metadata Metadata) {
	h.put(record, metadata)
}

// put reports whether the record was queued.
func (h *Handler) put(record Record, metadata Metadata) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return false
	}

	labels := h.labels.Copy()
	for _, key := range h.labelKeys {
		if v, ok := record.Lookup(key); ok {
			labels[key] = logging.Stringify(v)
		}
	}

	var entryMetadata Metadata
	if h.structured {
		record, entryMetadata = h.extractMetadata(record, metadata)
	}

	h.processor.Put(logging.NewEntry(labels, record, entryMetadata))
	return true
}

// extractMetadata moves the configured metadata keys out of the record's
// extras. Neither the caller's extras nor its metadata map are modified.
func (h *Handler) extractMetadata(record Record, metadata Metadata) (Record, Metadata) {
	out := make(Metadata, len(metadata)+len(h.metadataKeys))
	for k, v := range metadata {
		out[k] = v
	}

	var extra map[string]any
	for _, key := range h.metadataKeys {
		v, ok := record.Extra[key]
		if !ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any, len(record.Extra))
			for k, v := range record.Extra {
				extra[k] = v
			}
		}
		out[key] = v
		delete(extra, key)
	}
	if extra != nil {
		record.Extra = extra
	}
	return record, out
}

// Report records a failure of the pipeline. It is logged only when self
// errors are enabled.
func (h *Handler) Report(err error) {
	h.hadError.Store(true)
	h.diag.Error("Unexpected error", zap.Error(err))
}

// HadError reports whether any record or batch has been dropped because of
// an error.
func (h *Handler) HadError() bool {
	return h.hadError.Load()
}

// Flush asks the background goroutine to send queued records now instead
// of at the end of the interval. It does not wait for the send.
func (h *Handler) Flush() {
	h.processor.Flush()
}

// Pending returns the number of records waiting for the next flush.
func (h *Handler) Pending() int {
	return h.processor.Pending()
}

// Close stops the background goroutine and sends the remaining records in
// one last request bounded by ctx. Records put after Close are dropped.
func (h *Handler) Close(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	err := h.processor.Stop(ctx)
	_ = h.diag.Sync()
	return err
}
