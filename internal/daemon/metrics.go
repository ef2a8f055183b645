package daemon

import (
	"sync"

	"go.uber.org/zap/zapcore"
)

type LogDaemonMetrics struct {
	FilesDiscovered    int
	FilesProcessed     int
	FilesFailed        int
	QueuedFiles        int
	FilesQueueCapacity int
	WorkersBusy        int
	LinesRead          int
	mu                 sync.RWMutex
}

// MetricsStamp is a point-in-time copy of LogDaemonMetrics.
type MetricsStamp struct {
	FilesDiscovered    int
	FilesProcessed     int
	FilesFailed        int
	QueuedFiles        int
	FilesQueueCapacity int
	WorkersBusy        int
	LinesRead          int
}

func (m *LogDaemonMetrics) IncFilesDiscovered() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesDiscovered++
}

func (m *LogDaemonMetrics) IncFilesProcessed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesProcessed++
}

func (m *LogDaemonMetrics) IncFilesFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FilesFailed++
}

func (m *LogDaemonMetrics) IncAmountQueueFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueuedFiles++
}

func (m *LogDaemonMetrics) DecAmountQueueFiles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueuedFiles--
}

func (m *LogDaemonMetrics) IncWorkersBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkersBusy++
}

func (m *LogDaemonMetrics) DecWorkersBusy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WorkersBusy--
}

func (m *LogDaemonMetrics) IncLinesRead() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.LinesRead++
}

func (m *LogDaemonMetrics) GetMetricsStamp() MetricsStamp {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MetricsStamp{
		FilesDiscovered:    m.FilesDiscovered,
		FilesProcessed:     m.FilesProcessed,
		FilesFailed:        m.FilesFailed,
		QueuedFiles:        m.QueuedFiles,
		FilesQueueCapacity: m.FilesQueueCapacity,
		WorkersBusy:        m.WorkersBusy,
		LinesRead:          m.LinesRead,
	}
}

func (m *LogDaemonMetrics) GetQueueUsage() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FilesQueueCapacity == 0 {
		return 0
	}
	return float64(m.QueuedFiles) / float64(m.FilesQueueCapacity)
}

func (s MetricsStamp) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("files_discovered", s.FilesDiscovered)
	enc.AddInt("files_processed", s.FilesProcessed)
	enc.AddInt("files_failed", s.FilesFailed)
	enc.AddInt("files_queued", s.QueuedFiles)
	enc.AddInt("queue_capacity", s.FilesQueueCapacity)
	enc.AddInt("workers_busy", s.WorkersBusy)
	enc.AddInt("lines_read", s.LinesRead)
	return nil
}
