package loki

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/xente/loki-logger-handler/internal/logging"
)

// Options control how entries are rendered into stream values.
type Options struct {
	// MessageInJSONFormat renders each line as a JSON-encoded string;
	// otherwise the line is the record's structured object.
	MessageInJSONFormat bool
	// StructuredMetadata attaches per-line metadata as a third value element.
	StructuredMetadata bool
}

// Value is one [timestamp, line, metadata?] element of a stream.
type Value struct {
	Timestamp string
	Line      any
	Metadata  map[string]string
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.Metadata) > 0 {
		return json.Marshal([]any{v.Timestamp, v.Line, v.Metadata})
	}
	return json.Marshal([]any{v.Timestamp, v.Line})
}

// Stream is a label set and the values appended to it during one flush
// cycle.
type Stream struct {
	Stream logging.LabelSet `json:"stream"`
	Values []Value          `json:"values"`

	metadata logging.Metadata
	opts     Options
	now      func() time.Time
}

// NewStream creates an empty stream. With structured metadata enabled,
// metadata must be a mapping; anything else is a ConfigurationError. With
// it disabled, metadata is ignored.
func NewStream(labels logging.LabelSet, metadata any, opts Options) (*Stream, error) {
	s := &Stream{
		Stream: labels,
		Values: []Value{},
		opts:   opts,
		now:    time.Now,
	}
	if s.Stream == nil {
		s.Stream = logging.LabelSet{}
	}
	if !opts.StructuredMetadata || metadata == nil {
		return s, nil
	}

	switch md := metadata.(type) {
	case logging.Metadata:
		s.metadata = md
	case map[string]any:
		s.metadata = md
	case map[string]string:
		s.metadata = make(logging.Metadata, len(md))
		for k, v := range md {
			s.metadata[k] = v
		}
	default:
		return nil, &logging.ConfigurationError{
			Field:  "stream metadata",
			Reason: fmt.Sprintf("must be a mapping, got %T", metadata),
		}
	}
	return s, nil
}

// AddLabel sets a label on the stream.
func (s *Stream) AddLabel(key, value string) {
	s.Stream[key] = value
}

// AppendValue renders record as the next value of the stream.
func (s *Stream) AppendValue(record logging.Record, metadata logging.Metadata) error {
	line, err := s.renderLine(record)
	if err != nil {
		return err
	}

	value := Value{
		Timestamp: s.timestamp(record),
		Line:      line,
	}

	if s.opts.StructuredMetadata && (len(s.metadata) > 0 || len(metadata) > 0) {
		merged := make(map[string]string, len(s.metadata)+len(metadata))
		for k, v := range s.metadata {
			merged[k] = logging.Stringify(v)
		}
		for k, v := range metadata {
			merged[k] = logging.Stringify(v)
		}
		value.Metadata = merged
	}

	s.Values = append(s.Values, value)
	return nil
}

// timestamp converts the record time to nanoseconds, falling back to the
// current time when the record has none.
func (s *Stream) timestamp(record logging.Record) string {
	if !record.HasTimestamp() {
		return strconv.FormatInt(s.now().UnixNano(), 10)
	}
	return strconv.FormatInt(int64(record.Timestamp*1e9), 10)
}

func (s *Stream) renderLine(record logging.Record) (any, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(record.Fields()); err != nil {
		return nil, fmt.Errorf("failed to encode log line: %w", err)
	}
	line := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	if s.opts.MessageInJSONFormat {
		return string(line), nil
	}
	return json.RawMessage(line), nil
}
