package formatter

import (
	"iter"
	"strings"

	"github.com/xente/loki-logger-handler/internal/logging"
)

// MetadataKey is the field whose mapping value is lifted out of the record
// into structured metadata.
const MetadataKey = "loki_metadata"

// Extractor copies every field outside a reserved set into a record's
// free-form mapping.
type Extractor struct {
	reserved map[string]struct{}
}

func NewExtractor(reserved ...string) Extractor {
	x := Extractor{reserved: make(map[string]struct{}, len(reserved))}
	for _, k := range reserved {
		x.reserved[k] = struct{}{}
	}
	return x
}

// Reserved reports whether key is excluded from the extras.
func (x Extractor) Reserved(key string) bool {
	_, ok := x.reserved[key]
	return ok
}

// Extract walks fields in order. A mapping under MetadataKey becomes the
// metadata; any other value under that key is an ordinary extra field.
// Error values are stored as their message.
func (x Extractor) Extract(fields iter.Seq2[string, any]) (map[string]any, logging.Metadata) {
	var extra map[string]any
	var metadata logging.Metadata

	for key, value := range fields {
		if x.Reserved(key) {
			continue
		}
		if key == MetadataKey {
			if md, ok := AsMetadata(value); ok {
				metadata = md
				continue
			}
		}
		if err, ok := value.(error); ok {
			value = err.Error()
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[key] = value
	}
	return extra, metadata
}

// AsMetadata converts the mapping types adapters see into Metadata.
func AsMetadata(value any) (logging.Metadata, bool) {
	switch m := value.(type) {
	case logging.Metadata:
		return m, true
	case map[string]any:
		return logging.Metadata(m), true
	case map[string]string:
		md := make(logging.Metadata, len(m))
		for k, v := range m {
			md[k] = v
		}
		return md, true
	}
	return nil, false
}

// IsErrorLevel matches level names starting with "ER" in any case, so
// ERROR, ERR and Error all qualify.
func IsErrorLevel(level string) bool {
	return len(level) >= 2 && strings.EqualFold(level[:2], "ER")
}
