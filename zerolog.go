package lokihandler

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fastjson"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/logging/formatter"
)

// ZerologWriter is an io.Writer that decodes zerolog's JSON events and
// ships them through a Handler.
//
//	logger := zerolog.New(lokihandler.NewZerologWriter(h, "billing")).With().Timestamp().Logger()
//
// The field names follow zerolog's package-level settings at the time of
// the write. An object under "loki_metadata" becomes the line's structured
// metadata.
type ZerologWriter struct {
	handler *Handler
	name    string
	parser  fastjson.ParserPool
}

func NewZerologWriter(h *Handler, name string) *ZerologWriter {
	return &ZerologWriter{handler: h, name: name}
}

// Write always consumes p. Events that are not valid JSON or carry no level
// are dropped and reported by the Handler, so events logged with
// zerolog.Logger.Log are not shipped.
func (w *ZerologWriter) Write(p []byte) (int, error) {
	Emit[[]byte](w.handler, w, p)
	return len(p), nil
}

func (w *ZerologWriter) Format(p []byte) (Record, Metadata, error) {
	parser := w.parser.Get()
	defer w.parser.Put(parser)

	v, err := parser.ParseBytes(p)
	if err != nil {
		return Record{}, nil, fmt.Errorf("decode zerolog event: %w", err)
	}
	obj, err := v.Object()
	if err != nil {
		return Record{}, nil, fmt.Errorf("decode zerolog event: %w", err)
	}

	levelValue := obj.Get(zerolog.LevelFieldName)
	if levelValue == nil || levelValue.Type() != fastjson.TypeString {
		return Record{}, nil, fmt.Errorf("zerolog event has no %q string field", zerolog.LevelFieldName)
	}
	// zerolog omits empty messages, so only a non-string message is rejected
	msgValue := obj.Get(zerolog.MessageFieldName)
	if msgValue != nil && msgValue.Type() != fastjson.TypeString {
		return Record{}, nil, fmt.Errorf("zerolog event field %q is not a string", zerolog.MessageFieldName)
	}

	extractor := formatter.NewExtractor(
		zerolog.TimestampFieldName,
		zerolog.LevelFieldName,
		zerolog.MessageFieldName,
		zerolog.CallerFieldName,
		zerolog.ErrorFieldName,
		zerolog.ErrorStackFieldName,
	)
	extra, metadata := extractor.Extract(objectFields(obj))

	var caller formatter.CallerInfo
	if c := obj.Get(zerolog.CallerFieldName); c != nil {
		caller = parseZerologCaller(string(c.GetStringBytes()))
	}

	level := string(levelValue.GetStringBytes())
	rec := Record{
		Message:   string(msgValue.GetStringBytes()),
		Timestamp: zerologTimestamp(obj.Get(zerolog.TimestampFieldName)),
		Level:     level,
		Process:   formatter.Pid(),
		Thread:    formatter.GoroutineID(),
		Function:  caller.Function,
		Module:    caller.Module,
		Name:      w.name,
		Extra:     extra,
	}

	if formatter.IsErrorLevel(level) {
		rec.Error = formatter.ErrorDetails(caller, nil, zerologErrorText(obj))
	}
	return rec, metadata, nil
}

// zerologTimestamp returns seconds since the epoch, or 0 when the field is
// missing or does not match zerolog.TimeFieldFormat.
func zerologTimestamp(v *fastjson.Value) float64 {
	if v == nil {
		return 0
	}
	switch v.Type() {
	case fastjson.TypeString:
		s := string(v.GetStringBytes())
		for _, layout := range []string{zerolog.TimeFieldFormat, time.RFC3339Nano} {
			if layout == "" || strings.HasPrefix(layout, "UNIX") {
				continue
			}
			if t, err := time.Parse(layout, s); err == nil {
				return logging.Seconds(t)
			}
		}
	case fastjson.TypeNumber:
		n := v.GetFloat64()
		switch zerolog.TimeFieldFormat {
		case zerolog.TimeFormatUnixMs:
			return n / 1e3
		case zerolog.TimeFormatUnixMicro:
			return n / 1e6
		case zerolog.TimeFormatUnixNano:
			return n / 1e9
		default:
			return n
		}
	}
	return 0
}

// parseZerologCaller splits the default "file:line" caller format.
func parseZerologCaller(s string) formatter.CallerInfo {
	path, lineText := s, ""
	if i := strings.LastIndexByte(s, ':'); i > 0 {
		path, lineText = s[:i], s[i+1:]
	}
	line, err := strconv.Atoi(lineText)
	if err != nil {
		path, line = s, 0
	}
	return formatter.CallerFromFrame("", path, line)
}

// zerologErrorText joins the error message with the stack written by
// zerolog.ErrorStackMarshaler, if any.
func zerologErrorText(obj *fastjson.Object) string {
	var parts []string
	if e := obj.Get(zerolog.ErrorFieldName); e != nil {
		parts = append(parts, jsonText(e))
	}
	if s := obj.Get(zerolog.ErrorStackFieldName); s != nil {
		parts = append(parts, jsonText(s))
	}
	return strings.Join(parts, "\n")
}

func jsonText(v *fastjson.Value) string {
	if v.Type() == fastjson.TypeString {
		return string(v.GetStringBytes())
	}
	return v.String()
}

func objectFields(obj *fastjson.Object) iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		stop := false
		obj.Visit(func(key []byte, v *fastjson.Value) {
			if stop {
				return
			}
			stop = !yield(string(key), jsonValue(v))
		})
	}
}

// jsonValue copies v out of the parser's memory into plain Go values.
func jsonValue(v *fastjson.Value) any {
	switch v.Type() {
	case fastjson.TypeObject:
		obj, _ := v.Object()
		m := make(map[string]any, obj.Len())
		obj.Visit(func(key []byte, inner *fastjson.Value) {
			m[string(key)] = jsonValue(inner)
		})
		return m
	case fastjson.TypeArray:
		items, _ := v.Array()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = jsonValue(item)
		}
		return out
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		if n, err := v.Int64(); err == nil {
			return n
		}
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	default:
		return nil
	}
}
