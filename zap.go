package lokihandler

import (
	"maps"

	"go.uber.org/zap/zapcore"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/logging/formatter"
)

// ZapCore is a zapcore.Core that ships entries through a Handler. Combine
// it with other cores using zapcore.NewTee.
//
// A field named "loki_metadata" holding a map becomes the line's structured
// metadata.
type ZapCore struct {
	zapcore.LevelEnabler
	handler *Handler
	fields  []zapcore.Field
}

func NewZapCore(h *Handler, enab zapcore.LevelEnabler) *ZapCore {
	return &ZapCore{LevelEnabler: enab, handler: h}
}

func (c *ZapCore) With(fields []zapcore.Field) zapcore.Core {
	if len(fields) == 0 {
		return c
	}
	c2 := *c
	c2.fields = append(c.fields[:len(c.fields):len(c.fields)], fields...)
	return &c2
}

func (c *ZapCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write never fails; undeliverable entries are reported by the Handler.
func (c *ZapCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)

	Emit[zapRecord](c.handler, zapFormatter{}, zapRecord{entry: ent, fields: all})
	return nil
}

// Sync asks the Handler to flush without waiting for delivery.
func (c *ZapCore) Sync() error {
	c.handler.Flush()
	return nil
}

type zapRecord struct {
	entry  zapcore.Entry
	fields []zapcore.Field
}

type zapFormatter struct{}

var zapExtractor = formatter.NewExtractor()

func (zapFormatter) Format(raw zapRecord) (Record, Metadata, error) {
	ent := raw.entry

	enc := zapcore.NewMapObjectEncoder()
	var fieldErr error
	for _, f := range raw.fields {
		f.AddTo(enc)
		if fieldErr == nil && f.Type == zapcore.ErrorType {
			fieldErr, _ = f.Interface.(error)
		}
	}
	extra, metadata := zapExtractor.Extract(maps.All(enc.Fields))

	var caller formatter.CallerInfo
	if ent.Caller.Defined {
		caller = formatter.CallerFromFrame(ent.Caller.Function, ent.Caller.File, ent.Caller.Line)
	}

	level := ent.Level.CapitalString()
	rec := Record{
		Message:   ent.Message,
		Timestamp: logging.Seconds(ent.Time),
		Level:     level,
		Process:   formatter.Pid(),
		Thread:    formatter.GoroutineID(),
		Function:  caller.Function,
		Module:    caller.Module,
		Name:      ent.LoggerName,
		Extra:     extra,
	}

	if formatter.IsErrorLevel(level) {
		rec.Error = formatter.ErrorDetails(caller, fieldErr, ent.Stack)
	}
	return rec, metadata, nil
}
