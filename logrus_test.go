package lokihandler

import (
	"errors"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/logging/formatter"
	"github.com/xente/loki-logger-handler/internal/testutils"
)

func TestLogrusHook_Levels(t *testing.T) {
	assert.Equal(t, logrus.AllLevels, NewLogrusHook(nil, "").Levels())
	assert.Equal(t, []logrus.Level{logrus.ErrorLevel}, NewLogrusHook(nil, "", logrus.ErrorLevel).Levels())
}

func TestLogrusFormatter_ErrorEntry(t *testing.T) {
	in := &testutils.MockIngester{}
	entry := &logrus.Entry{
		Data: logrus.Fields{
			"user":                "bob",
			logrus.ErrorKey:       errors.New("denied"),
			formatter.MetadataKey: map[string]string{"trace_id": "abc"},
		},
		Time:    time.Unix(5, 0),
		Level:   logrus.ErrorLevel,
		Message: "login failed",
		Caller: &runtime.Frame{
			Function: "github.com/acme/app/auth.Login",
			File:     "/src/app/auth/login.go",
			Line:     17,
		},
	}

	logging.Emit[*logrus.Entry](in, logrusFormatter{name: "auth"}, entry)

	require.Len(t, in.GetRecords(), 1)
	rec := in.GetRecords()[0]
	assert.Equal(t, "login failed", rec.Message)
	assert.Equal(t, "error", rec.Level)
	assert.Equal(t, "auth", rec.Name)
	assert.Equal(t, 5.0, rec.Timestamp)
	assert.Equal(t, "Login", rec.Function)
	assert.Equal(t, "github.com/acme/app/auth", rec.Module)
	assert.Equal(t, map[string]any{"user": "bob", logrus.ErrorKey: "denied"}, rec.Extra)
	assert.Equal(t, logging.Metadata{"trace_id": "abc"}, in.Metadata[0])

	require.NotNil(t, rec.Error)
	assert.Equal(t, "login.go", rec.Error.File)
	assert.Equal(t, 17, rec.Error.Line)
	require.NotNil(t, rec.Error.Stacktrace)
	assert.Contains(t, *rec.Error.Stacktrace, "denied")
}

func TestLogrusHook_EndToEnd(t *testing.T) {
	loki := newFakeLoki(t)
	cfg := testConfig(loki.URL)
	cfg.LabelKeys = []string{"level"}

	h, err := New(cfg)
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.AddHook(NewLogrusHook(h, "worker"))

	logger.WithField("job", "sync").Info("done")
	logger.WithError(errors.New("timeout")).Error("retrying")

	require.NoError(t, closeHandler(t, h))

	streams := loki.streams(t)
	require.Len(t, streams, 2)
	assert.Equal(t, "info", string(streams[0].GetStringBytes("stream", "level")))
	assert.Equal(t, "error", string(streams[1].GetStringBytes("stream", "level")))

	done := line(t, streams[0], 0)
	assert.Equal(t, "sync", string(done.GetStringBytes("job")))
	assert.Equal(t, "worker", string(done.GetStringBytes("name")))

	retry := line(t, streams[1], 0)
	assert.Contains(t, string(retry.GetStringBytes("stacktrace")), "timeout")
}
