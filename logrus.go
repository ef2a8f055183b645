package lokihandler

import (
	"maps"

	"github.com/sirupsen/logrus"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/logging/formatter"
)

// LogrusHook is a logrus.Hook that ships entries through a Handler.
//
//	logger.AddHook(lokihandler.NewLogrusHook(h, "billing"))
//
// The "loki_metadata" data key holding a map becomes the line's structured
// metadata. Caller details require logger.SetReportCaller(true).
type LogrusHook struct {
	handler *Handler
	name    string
	levels  []logrus.Level
}

// NewLogrusHook fires for levels, or for every level when none are given.
func NewLogrusHook(h *Handler, name string, levels ...logrus.Level) *LogrusHook {
	if len(levels) == 0 {
		levels = logrus.AllLevels
	}
	return &LogrusHook{handler: h, name: name, levels: levels}
}

func (hk *LogrusHook) Levels() []logrus.Level {
	return hk.levels
}

// Fire never fails; undeliverable entries are reported by the Handler.
func (hk *LogrusHook) Fire(entry *logrus.Entry) error {
	Emit[*logrus.Entry](hk.handler, logrusFormatter{name: hk.name}, entry)
	return nil
}

type logrusFormatter struct {
	name string
}

var logrusExtractor = formatter.NewExtractor()

func (f logrusFormatter) Format(entry *logrus.Entry) (Record, Metadata, error) {
	extra, metadata := logrusExtractor.Extract(maps.All(entry.Data))

	var caller formatter.CallerInfo
	if entry.Caller != nil {
		caller = formatter.CallerFromFrame(entry.Caller.Function, entry.Caller.File, entry.Caller.Line)
	}

	level := entry.Level.String()
	rec := Record{
		Message:   entry.Message,
		Timestamp: logging.Seconds(entry.Time),
		Level:     level,
		Process:   formatter.Pid(),
		Thread:    formatter.GoroutineID(),
		Function:  caller.Function,
		Module:    caller.Module,
		Name:      f.name,
		Extra:     extra,
	}

	if formatter.IsErrorLevel(level) {
		err, _ := entry.Data[logrus.ErrorKey].(error)
		rec.Error = formatter.ErrorDetails(caller, err, "")
	}
	return rec, metadata, nil
}
