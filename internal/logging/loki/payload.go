package loki

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xente/loki-logger-handler/internal/logging"
)

// Payload is the body of one push request: every stream built in a flush
// cycle.
type Payload struct {
	Streams []*Stream `json:"streams"`
}

// BuildPayload groups entries into streams by grouping key. Streams keep
// the order in which their key was first seen and values keep drain order.
// Entries that cannot be rendered are skipped and reported in the returned
// error alongside the payload of everything else.
func BuildPayload(entries []logging.Entry, metadata logging.Metadata, opts Options) (Payload, error) {
	var errs error
	index := make(map[string]*Stream)
	payload := Payload{Streams: []*Stream{}}

	for _, entry := range entries {
		key := entry.Key()
		stream, exists := index[key]
		if !exists {
			var err error
			stream, err = NewStream(entry.Labels, metadata, opts)
			if err != nil {
				return Payload{}, err
			}
			index[key] = stream
			payload.Streams = append(payload.Streams, stream)
		}

		if err := stream.AppendValue(entry.Record, entry.Metadata); err != nil {
			errs = errors.Join(errs, err)
		}
	}

	if len(payload.Streams) > 0 {
		kept := payload.Streams[:0]
		for _, s := range payload.Streams {
			if len(s.Values) > 0 {
				kept = append(kept, s)
			}
		}
		payload.Streams = kept
	}

	return payload, errs
}

// Empty reports whether the payload has nothing to deliver.
func (p Payload) Empty() bool {
	return len(p.Streams) == 0
}

func (p Payload) Serialize() ([]byte, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return body, nil
}
