package loki

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"

	"github.com/xente/loki-logger-handler/internal/logging"
)

var jsonLines = Options{MessageInJSONFormat: true}

func record(msg string, ts float64) logging.Record {
	return logging.Record{
		Message:   msg,
		Timestamp: ts,
		Level:     "INFO",
		Process:   42,
		Thread:    7,
		Function:  "handle",
		Module:    "main",
		Name:      "app",
	}
}

func TestStream_TimestampInNanoseconds(t *testing.T) {
	s, err := NewStream(logging.LabelSet{"app": "svc"}, nil, jsonLines)
	require.NoError(t, err)

	require.NoError(t, s.AppendValue(record("hello", 1.5), nil))

	require.Len(t, s.Values, 1)
	assert.Equal(t, "1500000000", s.Values[0].Timestamp)
}

func TestStream_MissingTimestampFallsBackToNow(t *testing.T) {
	s, err := NewStream(logging.LabelSet{"app": "svc"}, nil, jsonLines)
	require.NoError(t, err)

	before := time.Now().UnixNano()
	require.NoError(t, s.AppendValue(record("no time", 0), nil))
	require.NoError(t, s.AppendValue(record("nan time", math.NaN()), nil))
	require.NoError(t, s.AppendValue(record("inf time", math.Inf(1)), nil))
	require.NoError(t, s.AppendValue(record("year 3000", 32503680000), nil))
	require.NoError(t, s.AppendValue(record("far past", -1e12), nil))
	after := time.Now().UnixNano()

	require.Len(t, s.Values, 5)
	for _, v := range s.Values {
		ns, err := strconv.ParseInt(v.Timestamp, 10, 64)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ns, before)
		assert.LessOrEqual(t, ns, after)
	}
}

func TestStream_JSONLineRendering(t *testing.T) {
	s, err := NewStream(logging.LabelSet{"app": "svc"}, nil, jsonLines)
	require.NoError(t, err)

	rec := record("<b>héllo</b>", 1)
	rec.Extra = map[string]any{"user": "alice"}
	require.NoError(t, s.AppendValue(rec, nil))

	line, ok := s.Values[0].Line.(string)
	require.True(t, ok, "line must be a JSON-encoded string")
	assert.Contains(t, line, `"message":"<b>héllo</b>"`)

	var p fastjson.Parser
	v, err := p.Parse(line)
	require.NoError(t, err)
	assert.Equal(t, "alice", string(v.GetStringBytes("user")))
	assert.Equal(t, "INFO", string(v.GetStringBytes("level")))
	assert.Equal(t, 42, v.GetInt("process"))
}

func TestStream_RawLineRendering(t *testing.T) {
	s, err := NewStream(logging.LabelSet{"app": "svc"}, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, s.AppendValue(record("raw", 1), nil))

	body, err := Payload{Streams: []*Stream{s}}.Serialize()
	require.NoError(t, err)

	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	require.NoError(t, err)

	line := v.Get("streams", "0", "values", "0", "1")
	require.NotNil(t, line)
	assert.Equal(t, fastjson.TypeObject, line.Type())
	assert.Equal(t, "raw", string(line.GetStringBytes("message")))
}

func TestStream_MetadataMergedAndStringified(t *testing.T) {
	opts := Options{MessageInJSONFormat: true, StructuredMetadata: true}
	s, err := NewStream(logging.LabelSet{"app": "svc"},
		map[string]any{"region": "eu", "build": 12}, opts)
	require.NoError(t, err)

	require.NoError(t, s.AppendValue(record("a", 1), logging.Metadata{"region": "us", "trace_id": 99}))
	require.NoError(t, s.AppendValue(record("b", 2), nil))

	assert.Equal(t, map[string]string{"region": "us", "build": "12", "trace_id": "99"}, s.Values[0].Metadata)
	assert.Equal(t, map[string]string{"region": "eu", "build": "12"}, s.Values[1].Metadata)
}

func TestStream_NoMetadataProducesTwoElementValues(t *testing.T) {
	s, err := NewStream(logging.LabelSet{"app": "svc"}, nil,
		Options{MessageInJSONFormat: true, StructuredMetadata: true})
	require.NoError(t, err)
	require.NoError(t, s.AppendValue(record("a", 1), nil))

	disabled, err := NewStream(logging.LabelSet{"app": "svc"}, map[string]any{"k": "v"}, jsonLines)
	require.NoError(t, err)
	require.NoError(t, disabled.AppendValue(record("b", 1), logging.Metadata{"x": "y"}))

	body, err := Payload{Streams: []*Stream{s, disabled}}.Serialize()
	require.NoError(t, err)

	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	require.NoError(t, err)
	assert.Len(t, v.GetArray("streams", "0", "values", "0"), 2)
	assert.Len(t, v.GetArray("streams", "1", "values", "0"), 2)
}

func TestNewStream_NonMappingMetadata(t *testing.T) {
	_, err := NewStream(logging.LabelSet{"app": "svc"}, "not-a-map",
		Options{StructuredMetadata: true})

	var cfgErr *logging.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "stream metadata", cfgErr.Field)

	s, err := NewStream(logging.LabelSet{"app": "svc"}, "not-a-map", Options{})
	require.NoError(t, err)
	require.NoError(t, s.AppendValue(record("ok", 1), nil))
}

func TestStream_AddLabel(t *testing.T) {
	s, err := NewStream(nil, nil, jsonLines)
	require.NoError(t, err)
	s.AddLabel("app", "svc")
	assert.Equal(t, logging.LabelSet{"app": "svc"}, s.Stream)
}

func TestBuildPayload_GroupsByKey(t *testing.T) {
	entries := []logging.Entry{
		logging.NewEntry(logging.LabelSet{"pod": "pod-1", "container": "c-1"}, record("m1", 1), nil),
		logging.NewEntry(logging.LabelSet{"pod": "pod-2", "container": "c-2"}, record("m2", 2), nil),
		logging.NewEntry(logging.LabelSet{"container": "c-1", "pod": "pod-1"}, record("m3", 3), nil),
	}

	payload, err := BuildPayload(entries, nil, jsonLines)
	require.NoError(t, err)

	require.Len(t, payload.Streams, 2)
	assert.Equal(t, "pod-1", payload.Streams[0].Stream["pod"])
	assert.Len(t, payload.Streams[0].Values, 2)
	assert.Equal(t, "1000000000", payload.Streams[0].Values[0].Timestamp)
	assert.Equal(t, "3000000000", payload.Streams[0].Values[1].Timestamp)
	assert.Equal(t, "pod-2", payload.Streams[1].Stream["pod"])
	assert.Len(t, payload.Streams[1].Values, 1)
}

func TestBuildPayload_KeyIgnoresLabelNames(t *testing.T) {
	entries := []logging.Entry{
		logging.NewEntry(logging.LabelSet{"app": "svc"}, record("a", 1), nil),
		logging.NewEntry(logging.LabelSet{"env": "svc"}, record("b", 2), nil),
	}

	payload, err := BuildPayload(entries, nil, jsonLines)
	require.NoError(t, err)

	require.Len(t, payload.Streams, 1)
	assert.Equal(t, logging.LabelSet{"app": "svc"}, payload.Streams[0].Stream)
	assert.Len(t, payload.Streams[0].Values, 2)
}

func TestBuildPayload_SkipsUnencodableEntries(t *testing.T) {
	bad := record("bad", 1)
	bad.Extra = map[string]any{"ch": make(chan int)}

	entries := []logging.Entry{
		logging.NewEntry(logging.LabelSet{"app": "svc"}, bad, nil),
		logging.NewEntry(logging.LabelSet{"app": "svc"}, record("good", 2), nil),
	}

	payload, err := BuildPayload(entries, nil, jsonLines)
	assert.Error(t, err)
	require.Len(t, payload.Streams, 1)
	assert.Len(t, payload.Streams[0].Values, 1)
}

func TestPayload_SerializeParsesBack(t *testing.T) {
	labels := logging.LabelSet{"app": "svc", "env": "prod"}
	entries := []logging.Entry{
		logging.NewEntry(labels, record("first", 1), nil),
		logging.NewEntry(labels, record("second", 2), nil),
	}
	payload, err := BuildPayload(entries, nil, jsonLines)
	require.NoError(t, err)

	body, err := payload.Serialize()
	require.NoError(t, err)

	var p fastjson.Parser
	v, err := p.ParseBytes(body)
	require.NoError(t, err)

	streams := v.GetArray("streams")
	require.Len(t, streams, 1)

	got := map[string]string{}
	streams[0].GetObject("stream").Visit(func(key []byte, val *fastjson.Value) {
		got[string(key)] = string(val.GetStringBytes())
	})
	assert.Equal(t, map[string]string{"app": "svc", "env": "prod"}, got)

	values := streams[0].GetArray("values")
	require.Len(t, values, 2)
	assert.Equal(t, "1000000000", string(values[0].GetStringBytes("0")))
	assert.Equal(t, "2000000000", string(values[1].GetStringBytes("0")))
}

func newTestClient(url string, compressed bool) *Client {
	return NewClient(ClientConfig{
		URL:        url,
		Headers:    map[string]string{"X-Scope-OrgID": "tenant-1"},
		Username:   "user",
		Password:   "secret",
		Compressed: compressed,
		Timeout:    time.Second,
		Stream:     jsonLines,
	})
}

func TestClient_SendBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/loki/api/v1/push", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "tenant-1", r.Header.Get("X-Scope-OrgID"))
		assert.Empty(t, r.Header.Get("Content-Encoding"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "user", user)
		assert.Equal(t, "secret", pass)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		var p fastjson.Parser
		v, err := p.ParseBytes(body)
		assert.NoError(t, err)
		assert.Len(t, v.GetArray("streams"), 1)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(server.URL+"/loki/api/v1/push", false)

	err := client.SendBatch(context.Background(), []logging.Entry{
		logging.NewEntry(logging.LabelSet{"pod": "test-pod"}, record("test message", 1), nil),
	})
	assert.NoError(t, err)
}

func TestClient_CompressedPayloadDecodesToSerializedBatch(t *testing.T) {
	entries := []logging.Entry{
		logging.NewEntry(logging.LabelSet{"app": "svc"}, record("zip me", 1), nil),
		logging.NewEntry(logging.LabelSet{"app": "other"}, record("and me", 2), nil),
	}
	payload, err := BuildPayload(entries, nil, jsonLines)
	require.NoError(t, err)
	expected, err := payload.Serialize()
	require.NoError(t, err)

	received := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Content-Encoding"))
		zr, err := gzip.NewReader(r.Body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(zr)
		assert.NoError(t, err)
		received <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(server.URL, true)
	require.NoError(t, client.SendBatch(context.Background(), entries))

	assert.Equal(t, string(expected), string(<-received))
}

func TestClient_Non2xxIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "entry out of order")
	}))
	defer server.Close()

	client := newTestClient(server.URL+"/loki/api/v1/push", false)
	err := client.Send(context.Background(), []byte(`{"streams":[]}`))

	var te *logging.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadRequest, te.StatusCode)
	assert.Equal(t, "entry out of order", te.Body)
	assert.Equal(t, server.URL+"/loki/api/v1/push", te.URL)
	assert.Contains(t, err.Error(), "status code: 400")
}

func TestClient_UnreachableIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := newTestClient(url, false)
	err := client.Send(context.Background(), []byte(`{}`))

	var te *logging.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 0, te.StatusCode)
	assert.Equal(t, url, te.URL)
}

func TestClient_EmptyBatchMakesNoRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := newTestClient(server.URL, true)
	assert.NoError(t, client.SendBatch(context.Background(), nil))
	assert.Equal(t, int32(0), calls.Load())
}
