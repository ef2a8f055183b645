package logging

import (
	"fmt"
	"math"
	"time"
)

// Field names of the rendered record.
const (
	KeyMessage    = "message"
	KeyTimestamp  = "timestamp"
	KeyProcess    = "process"
	KeyThread     = "thread"
	KeyFunction   = "function"
	KeyModule     = "module"
	KeyName       = "name"
	KeyLevel      = "level"
	KeyFile       = "file"
	KeyPath       = "path"
	KeyLine       = "line"
	KeyStacktrace = "stacktrace"
)

// Record is one log event after formatting. It is built by a Formatter and
// not modified once it has been handed to the ingestion buffer.
type Record struct {
	// Message is usually a string but may be any JSON-serializable value.
	Message any
	// Timestamp in seconds since the epoch, sub-second precision kept in
	// the fraction. Zero, NaN, Inf and values whose nanoseconds overflow
	// int64 (past year 2262) mean the time is unknown.
	Timestamp float64
	Level     string
	Process   int
	Thread    int64
	Function  string
	Module    string
	Name      string

	// Error is set for error-level records only.
	Error *ErrorDetails

	// Extra holds free-form fields merged into the emitted line.
	Extra map[string]any
}

// ErrorDetails augments error-level records with the call site and the
// rendered error chain.
type ErrorDetails struct {
	File string
	Path string
	Line int
	// Stacktrace is nil when no error was attached to the record.
	Stacktrace *string
}

// Seconds converts t into the epoch-seconds representation used by Record.
func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// maxTimestampSeconds keeps Timestamp*1e9 within int64.
const maxTimestampSeconds = math.MaxInt64 / 1e9

// HasTimestamp reports whether the record carries a usable timestamp.
// NaN and Inf fail the range check.
func (r Record) HasTimestamp() bool {
	return r.Timestamp != 0 && math.Abs(r.Timestamp) < maxTimestampSeconds
}

// Fields renders the record as the mapping that becomes the log line.
// Extra fields override the fixed ones; error details override both.
func (r Record) Fields() map[string]any {
	out := make(map[string]any, 8+len(r.Extra)+4)
	out[KeyMessage] = r.Message
	if r.HasTimestamp() {
		out[KeyTimestamp] = r.Timestamp
	} else {
		out[KeyTimestamp] = nil
	}
	out[KeyProcess] = r.Process
	out[KeyThread] = r.Thread
	out[KeyFunction] = r.Function
	out[KeyModule] = r.Module
	out[KeyName] = r.Name
	out[KeyLevel] = r.Level

	for k, v := range r.Extra {
		out[k] = v
	}

	if r.Error != nil {
		out[KeyFile] = r.Error.File
		out[KeyPath] = r.Error.Path
		out[KeyLine] = r.Error.Line
		if r.Error.Stacktrace != nil {
			out[KeyStacktrace] = *r.Error.Stacktrace
		} else {
			out[KeyStacktrace] = nil
		}
	}
	return out
}

// Lookup finds a field of the rendered record without rendering it.
func (r Record) Lookup(key string) (any, bool) {
	if r.Error != nil {
		switch key {
		case KeyFile:
			return r.Error.File, true
		case KeyPath:
			return r.Error.Path, true
		case KeyLine:
			return r.Error.Line, true
		case KeyStacktrace:
			if r.Error.Stacktrace == nil {
				return nil, true
			}
			return *r.Error.Stacktrace, true
		}
	}

	if v, ok := r.Extra[key]; ok {
		return v, true
	}

	switch key {
	case KeyMessage:
		return r.Message, true
	case KeyTimestamp:
		return r.Timestamp, true
	case KeyProcess:
		return r.Process, true
	case KeyThread:
		return r.Thread, true
	case KeyFunction:
		return r.Function, true
	case KeyModule:
		return r.Module, true
	case KeyName:
		return r.Name, true
	case KeyLevel:
		return r.Level, true
	}
	return nil, false
}

// Stringify renders a label or metadata value as a string. The backend
// accepts string values only.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case error:
		return t.Error()
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
