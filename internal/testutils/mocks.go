package testutils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xente/loki-logger-handler/internal/logging"
)

type MockLogSender struct {
	SentBatches [][]logging.Entry
	mu          sync.Mutex
	ShouldFail  bool
	ShouldPanic bool
	Delay       time.Duration
	Calls       int
}

func (m *MockLogSender) SendBatch(_ context.Context, entries []logging.Entry) error {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++

	if m.ShouldPanic {
		panic("mock send panicked")
	}
	if m.ShouldFail {
		return fmt.Errorf("mock send failed")
	}

	m.SentBatches = append(m.SentBatches, entries)
	return nil
}

func (m *MockLogSender) GetSentBatches() [][]logging.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]logging.Entry(nil), m.SentBatches...)
}

func (m *MockLogSender) GetCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

func (m *MockLogSender) TotalEntries() int {
	total := 0
	for _, b := range m.GetSentBatches() {
		total += len(b)
	}
	return total
}

// MockIngester records what Emit hands to it.
type MockIngester struct {
	mu       sync.Mutex
	Records  []logging.Record
	Metadata []logging.Metadata
	Errors   []error
}

func (m *MockIngester) Put(record logging.Record, metadata logging.Metadata) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Records = append(m.Records, record)
	m.Metadata = append(m.Metadata, metadata)
}

func (m *MockIngester) Report(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
}

func (m *MockIngester) GetRecords() []logging.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]logging.Record(nil), m.Records...)
}

func (m *MockIngester) GetErrors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.Errors...)
}

// CreateTempLogStructure lays out a pod log tree in the
// <root>/<namespace>_<pod>_<uid>/<container>/<file>.log shape.
func CreateTempLogStructure(t *testing.T) string {
	tempDir := t.TempDir()

	structure := map[string]string{
		"default_pod-1_uid123/container-1/app.log":   "",
		"kube-system_pod-2_uid456/container/app.log": "",
		"monitoring_pod-4_uid101/grafana/notes.txt":  "not a log\n",
	}

	for path, content := range structure {
		fullPath := filepath.Join(tempDir, path)
		dir := filepath.Dir(fullPath)

		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create directory %s: %v", dir, err)
		}

		if err := os.WriteFile(fullPath, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write file %s: %v", fullPath, err)
		}
	}

	return tempDir
}
