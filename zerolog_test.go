package lokihandler

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/testutils"
)

const zerologErrorEvent = `{"level":"error","time":"2024-01-02T03:04:05Z","message":"failed",` +
	`"caller":"/src/app/main.go:12","error":"boom","stack":"goroutine 1 [running]:",` +
	`"user":"bob","n":2,"ratio":0.5,"tags":["a","b"],"loki_metadata":{"trace_id":"abc"}}`

func TestZerologWriter_FormatErrorEvent(t *testing.T) {
	in := &testutils.MockIngester{}
	w := NewZerologWriter(nil, "api")

	logging.Emit[[]byte](in, w, []byte(zerologErrorEvent))

	require.Empty(t, in.GetErrors())
	require.Len(t, in.GetRecords(), 1)
	rec := in.GetRecords()[0]

	assert.Equal(t, "failed", rec.Message)
	assert.Equal(t, "error", rec.Level)
	assert.Equal(t, "api", rec.Name)
	assert.Equal(t, logging.Seconds(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), rec.Timestamp)
	assert.Equal(t, map[string]any{
		"user":  "bob",
		"n":     int64(2),
		"ratio": 0.5,
		"tags":  []any{"a", "b"},
	}, rec.Extra)
	assert.Equal(t, logging.Metadata{"trace_id": "abc"}, in.Metadata[0])

	require.NotNil(t, rec.Error)
	assert.Equal(t, "main.go", rec.Error.File)
	assert.Equal(t, "/src/app/main.go", rec.Error.Path)
	assert.Equal(t, 12, rec.Error.Line)
	require.NotNil(t, rec.Error.Stacktrace)
	assert.Equal(t, "boom\ngoroutine 1 [running]:\n", *rec.Error.Stacktrace)
}

func TestZerologWriter_InvalidEventIsReported(t *testing.T) {
	in := &testutils.MockIngester{}
	w := NewZerologWriter(nil, "")

	logging.Emit[[]byte](in, w, []byte(`{"level":`))
	logging.Emit[[]byte](in, w, []byte(`[1,2]`))
	logging.Emit[[]byte](in, w, []byte(`{"message":"no level"}`))
	logging.Emit[[]byte](in, w, []byte(`{"level":3,"message":"numeric level"}`))
	logging.Emit[[]byte](in, w, []byte(`{"level":"info","message":{"nested":true}}`))

	assert.Empty(t, in.GetRecords())
	errs := in.GetErrors()
	require.Len(t, errs, 5)
	assert.ErrorContains(t, errs[2], `no "level" string field`)
	assert.ErrorContains(t, errs[4], `"message" is not a string`)
	var fe *FormatError
	assert.True(t, errors.As(errs[0], &fe))
}

func TestZerologWriter_EmptyMessageIsAccepted(t *testing.T) {
	in := &testutils.MockIngester{}
	w := NewZerologWriter(nil, "")

	logging.Emit[[]byte](in, w, []byte(`{"level":"info","user":"bob"}`))

	require.Empty(t, in.GetErrors())
	require.Len(t, in.GetRecords(), 1)
	assert.Equal(t, "", in.GetRecords()[0].Message)
	assert.Equal(t, "info", in.GetRecords()[0].Level)
}

func TestZerologTimestamp_UnixFormats(t *testing.T) {
	orig := zerolog.TimeFieldFormat
	t.Cleanup(func() { zerolog.TimeFieldFormat = orig })

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	assert.InDelta(t, 1700000000.123, zerologTimestamp(fastjson.MustParse(`1700000000123`)), 1e-6)

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	assert.Equal(t, 1700000000.0, zerologTimestamp(fastjson.MustParse(`1700000000`)))

	assert.Equal(t, 0.0, zerologTimestamp(nil))
	assert.Equal(t, 0.0, zerologTimestamp(fastjson.MustParse(`"not a time"`)))
}

func TestParseZerologCaller(t *testing.T) {
	c := parseZerologCaller("/src/app/main.go:12")
	assert.Equal(t, "/src/app/main.go", c.Path)
	assert.Equal(t, 12, c.Line)

	c = parseZerologCaller("main.go")
	assert.Equal(t, "main.go", c.Path)
	assert.Equal(t, 0, c.Line)
}

func TestZerologWriter_EndToEnd(t *testing.T) {
	loki := newFakeLoki(t)
	h, err := New(testConfig(loki.URL))
	require.NoError(t, err)

	w := NewZerologWriter(h, "api")
	logger := zerolog.New(w).With().Timestamp().Logger()
	logger.Info().Str("user", "bob").Msg("hello")

	n, err := w.Write([]byte("not json"))
	assert.Equal(t, len("not json"), n)
	assert.NoError(t, err)

	require.NoError(t, closeHandler(t, h))
	assert.True(t, h.HadError())

	streams := loki.streams(t)
	require.Len(t, streams, 1)
	l := line(t, streams[0], 0)
	assert.Equal(t, "hello", string(l.GetStringBytes("message")))
	assert.Equal(t, "info", string(l.GetStringBytes("level")))
	assert.Equal(t, "bob", string(l.GetStringBytes("user")))
	assert.Greater(t, l.GetFloat64("timestamp"), 0.0)
}
