package daemon

import (
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/logging/formatter"
)

const (
	loggerName   = "agent"
	unknownLevel = "UNKNOWN"

	// level words are only looked for near the start of a line
	levelScanWords = 8
)

// Line is one line read from a tailed file.
type Line struct {
	Path   string
	Number int
	Text   string
	Time   time.Time
}

var levelWords = map[string]string{
	"TRACE":    "TRACE",
	"DEBUG":    "DEBUG",
	"DBG":      "DEBUG",
	"INFO":     "INFO",
	"INF":      "INFO",
	"WARN":     "WARNING",
	"WARNING":  "WARNING",
	"WRN":      "WARNING",
	"ERROR":    "ERROR",
	"ERR":      "ERROR",
	"FATAL":    "CRITICAL",
	"CRITICAL": "CRITICAL",
	"PANIC":    "CRITICAL",
}

// DetectLevel returns the first level word found among the leading words
// of text, or UNKNOWN.
func DetectLevel(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for i, w := range words {
		if i == levelScanWords {
			break
		}
		if level, ok := levelWords[strings.ToUpper(w)]; ok {
			return level
		}
	}
	return unknownLevel
}

// lineFormatter turns tailed lines into records. Kubernetes pod log paths
// (<root>/<namespace>_<pod>_<uid>/<container>/<n>.log) contribute the pod
// coordinates as extra fields.
type lineFormatter struct {
	root string
	node string
}

func (f lineFormatter) Format(l Line) (logging.Record, logging.Metadata, error) {
	ts := l.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	level := DetectLevel(l.Text)
	rec := logging.Record{
		Message:   l.Text,
		Timestamp: logging.Seconds(ts),
		Level:     level,
		Process:   formatter.Pid(),
		Thread:    formatter.GoroutineID(),
		Name:      loggerName,
		Extra:     f.pathFields(l.Path),
	}

	if formatter.IsErrorLevel(level) {
		rec.Error = &logging.ErrorDetails{
			File: filepath.Base(l.Path),
			Path: l.Path,
			Line: l.Number,
		}
	}
	return rec, nil, nil
}

func (f lineFormatter) pathFields(filePath string) map[string]any {
	fields := map[string]any{
		"file": filepath.Base(filePath),
	}
	if f.node != "" {
		fields["node"] = f.node
	}

	rel, err := filepath.Rel(f.root, filePath)
	if err != nil {
		return fields
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) >= 3 {
		podParts := strings.Split(parts[0], "_")
		if len(podParts) >= 3 {
			fields["namespace"] = podParts[0]
			fields["pod"] = podParts[1]
			fields["pod_uid"] = podParts[2]
		}
		fields["container"] = parts[1]
	}

	return fields
}
