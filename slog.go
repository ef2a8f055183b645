package lokihandler

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/logging/formatter"
)

// SlogOptions customize a SlogHandler.
type SlogOptions struct {
	// Level is the minimum level handled. Defaults to slog.LevelInfo.
	Level slog.Leveler

	// LoggerName fills the "name" field of every line.
	LoggerName string
}

// SlogHandler is a slog.Handler that ships records through a Handler.
//
// Attributes added with WithGroup are nested under the group name. A group
// or map attribute named "loki_metadata" becomes the line's structured
// metadata instead of part of the line.
type SlogHandler struct {
	handler *Handler
	opts    SlogOptions
	attrs   []slog.Attr
	groups  []string
}

func NewSlogHandler(h *Handler, opts *SlogOptions) *SlogHandler {
	var o SlogOptions
	if opts != nil {
		o = *opts
	}
	if o.Level == nil {
		o.Level = slog.LevelInfo
	}
	return &SlogHandler{handler: h, opts: o}
}

func (s *SlogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= s.opts.Level.Level()
}

// Handle never returns an error: records that cannot be formatted are
// dropped and reported by the Handler.
func (s *SlogHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make([]slog.Attr, 0, len(s.attrs)+r.NumAttrs())
	attrs = append(attrs, s.attrs...)

	var recordAttrs []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		recordAttrs = append(recordAttrs, a)
		return true
	})
	attrs = append(attrs, nest(s.groups, recordAttrs)...)

	Emit[slogRecord](s.handler, slogFormatter{name: s.opts.LoggerName}, slogRecord{record: r, attrs: attrs})
	return nil
}

func (s *SlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}
	s2 := *s
	s2.attrs = append(s.attrs[:len(s.attrs):len(s.attrs)], nest(s.groups, attrs)...)
	return &s2
}

func (s *SlogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	s2 := *s
	s2.groups = append(s.groups[:len(s.groups):len(s.groups)], name)
	return &s2
}

// nest wraps attrs in the open groups, innermost last.
func nest(groups []string, attrs []slog.Attr) []slog.Attr {
	if len(groups) == 0 || len(attrs) == 0 {
		return attrs
	}
	args := make([]any, len(attrs))
	for i, a := range attrs {
		args[i] = a
	}
	for i := len(groups) - 1; i >= 0; i-- {
		g := slog.Group(groups[i], args...)
		args = []any{g}
	}
	return []slog.Attr{args[0].(slog.Attr)}
}

type slogRecord struct {
	record slog.Record
	attrs  []slog.Attr
}

type slogFormatter struct {
	name string
}

var slogExtractor = formatter.NewExtractor()

func (f slogFormatter) Format(raw slogRecord) (Record, Metadata, error) {
	r := raw.record
	caller := formatter.Caller(r.PC)
	level := r.Level.String()

	extra, metadata := slogExtractor.Extract(slogFields(raw.attrs))

	rec := Record{
		Message:   r.Message,
		Timestamp: logging.Seconds(r.Time),
		Level:     level,
		Process:   formatter.Pid(),
		Thread:    formatter.GoroutineID(),
		Function:  caller.Function,
		Module:    caller.Module,
		Name:      f.name,
		Extra:     extra,
	}

	if formatter.IsErrorLevel(level) {
		rec.Error = formatter.ErrorDetails(caller, firstError(raw.attrs), "")
	}
	return rec, metadata, nil
}

func slogFields(attrs []slog.Attr) iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, a := range attrs {
			a.Value = a.Value.Resolve()
			if a.Equal(slog.Attr{}) {
				continue
			}
			// groups without a key are inlined
			if a.Key == "" && a.Value.Kind() == slog.KindGroup {
				for k, v := range slogFields(a.Value.Group()) {
					if !yield(k, v) {
						return
					}
				}
				continue
			}
			if a.Key == "" || (a.Value.Kind() == slog.KindGroup && len(a.Value.Group()) == 0) {
				continue
			}
			if !yield(a.Key, slogValue(a.Value)) {
				return
			}
		}
	}
}

func slogValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		m := make(map[string]any)
		for k, gv := range slogFields(v.Group()) {
			m[k] = gv
		}
		return m
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}

// firstError finds the first error-valued attribute, searching groups.
func firstError(attrs []slog.Attr) error {
	for _, a := range attrs {
		v := a.Value.Resolve()
		switch v.Kind() {
		case slog.KindAny:
			if err, ok := v.Any().(error); ok {
				return err
			}
		case slog.KindGroup:
			if err := firstError(v.Group()); err != nil {
				return err
			}
		}
	}
	return nil
}
