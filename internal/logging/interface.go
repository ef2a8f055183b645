package logging

import (
	"context"
	"sort"
	"strings"
	"time"
)

// LabelSet identifies the stream a record is delivered to.
type LabelSet map[string]string

// Copy returns an independent copy of the label set.
func (ls LabelSet) Copy() LabelSet {
	out := make(LabelSet, len(ls))
	for k, v := range ls {
		out[k] = v
	}
	return out
}

// Key is the grouping key of the label set: its values sorted and joined
// by an underscore. Keys take no part in it, so {"app":"svc"} and
// {"env":"svc"} share a key.
func (ls LabelSet) Key() string {
	values := make([]string, 0, len(ls))
	for _, v := range ls {
		values = append(values, v)
	}
	sort.Strings(values)
	return strings.Join(values, "_")
}

// Metadata is structured metadata attached to a single log line.
type Metadata map[string]any

// Entry is a normalized record tagged with the labels it was ingested with.
type Entry struct {
	Labels   LabelSet
	Record   Record
	Metadata Metadata
	key      string
}

// NewEntry builds an Entry and computes its grouping key once.
func NewEntry(labels LabelSet, record Record, metadata Metadata) Entry {
	return Entry{
		Labels:   labels,
		Record:   record,
		Metadata: metadata,
		key:      labels.Key(),
	}
}

// Key returns the grouping key of the entry's labels.
func (e Entry) Key() string {
	if e.key == "" && len(e.Labels) > 0 {
		return e.Labels.Key()
	}
	return e.key
}

type BatchProcessor interface {
	Put(entry Entry)
	Start()
	Flush()
	Stop(ctx context.Context) error
	Pending() int
}

type LogSender interface {
	SendBatch(ctx context.Context, entries []Entry) error
}

type Config struct {
	FlushInterval time.Duration
}
