package daemon

import (
	"context"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xente/loki-logger-handler/internal/logging"
)

const (
	defaultScanInterval    = 30 * time.Second
	defaultWorkers         = 10
	defaultFileQueueSize   = 50
	defaultMetricsInterval = 30 * time.Second
)

// LogDaemonService discovers *.log files under a root directory, tails
// each one on a worker and emits every line as a record.
type LogDaemonService struct {
	config        Config
	ingester      logging.Ingester
	logger        *zap.Logger
	formatter     lineFormatter
	fileQueue     chan string
	workersWg     sync.WaitGroup
	subServicesWg sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
	metrics       *LogDaemonMetrics
	stopOnce      sync.Once

	// files queued or being tailed; a file leaves the set when its tail ends
	// so a later scan can pick it up again
	activeMu sync.Mutex
	active   map[string]struct{}
	seen     map[string]struct{}
}

type Config struct {
	LogRootPath  string
	ScanInterval time.Duration
	// Workers bounds the number of files tailed at once.
	Workers       int
	FileQueueSize int
	NodeName      string
	// If > 0, stop tailing a file after this period without new lines
	FileIdleTimeout time.Duration
	MetricsInterval time.Duration
	// ReadFromStart ships lines already in a file when it is first tailed.
	ReadFromStart bool
	// Poll watches files by polling instead of inotify.
	Poll bool
}

func (c *Config) resolve() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = defaultScanInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.FileQueueSize <= 0 {
		c.FileQueueSize = defaultFileQueueSize
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = defaultMetricsInterval
	}
}

// NewLogDaemonService creates 2 + config.Workers goroutines on Start().
func NewLogDaemonService(ctx context.Context, config Config, ingester logging.Ingester, logger *zap.Logger) *LogDaemonService {
	config.resolve()
	if logger == nil {
		logger = zap.NewNop()
	}
	nCtx, cancel := context.WithCancel(ctx)

	return &LogDaemonService{
		config:    config,
		ingester:  ingester,
		logger:    logger,
		formatter: lineFormatter{root: config.LogRootPath, node: config.NodeName},
		fileQueue: make(chan string, config.FileQueueSize),
		ctx:       nCtx,
		cancel:    cancel,
		metrics: &LogDaemonMetrics{
			FilesQueueCapacity: config.FileQueueSize,
		},
		active: make(map[string]struct{}),
		seen:   make(map[string]struct{}),
	}
}

func (s *LogDaemonService) Start() {
	s.logger.Info("Starting log daemon service",
		zap.String("root", s.config.LogRootPath),
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.FileQueueSize))

	for i := 0; i < s.config.Workers; i++ {
		s.workersWg.Add(1)
		go s.worker(i)
	}

	s.subServicesWg.Add(1)
	go s.scanner()

	s.subServicesWg.Add(1)
	go s.metricsReporter()
}

// Stop cancels every tail and waits for the workers to return. Lines
// already emitted stay with the ingester.
func (s *LogDaemonService) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping log daemon service")
		s.cancel()

		s.subServicesWg.Wait()

		close(s.fileQueue)
		s.workersWg.Wait()

		s.logger.Info("Log daemon service stopped", zap.Object("metrics", s.metrics.GetMetricsStamp()))
	})
}

// Metrics returns a snapshot of the service counters.
func (s *LogDaemonService) Metrics() MetricsStamp {
	return s.metrics.GetMetricsStamp()
}

func (s *LogDaemonService) worker(id int) {
	defer s.workersWg.Done()

	for {
		select {
		case filePath, ok := <-s.fileQueue:
			if !ok {
				return
			}
			s.metrics.DecAmountQueueFiles()
			s.metrics.IncWorkersBusy()
			s.processFile(s.ctx, id, filePath)
			s.metrics.DecWorkersBusy()
			s.release(filePath)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) processFile(ctx context.Context, workerID int, filePath string) {
	defer s.metrics.IncFilesProcessed()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("File processing panicked", zap.String("file", filePath), zap.Any("panic", r))
			s.metrics.IncFilesFailed()
		}
	}()

	whence := io.SeekEnd
	if s.config.ReadFromStart {
		whence = io.SeekStart
	}

	t, err := tail.TailFile(filePath, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Poll:     s.config.Poll,
		Location: &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		s.logger.Warn("Failed to tail file", zap.String("file", filePath), zap.Error(err))
		s.metrics.IncFilesFailed()
		return
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	s.logger.Debug("Tailing file", zap.String("file", filePath), zap.Int("worker", workerID))

	checkTicker := time.NewTicker(1 * time.Second)
	defer checkTicker.Stop()

	lastActivity := time.Now()
	var lineNo int

	for {
		select {
		case line, ok := <-t.Lines:
			if !ok {
				return
			}
			if line == nil {
				continue
			}
			if line.Err != nil {
				s.logger.Warn("Error reading file", zap.String("file", filePath), zap.Error(line.Err))
				continue
			}

			lineNo++
			logging.Emit[Line](s.ingester, s.formatter, Line{
				Path:   filePath,
				Number: lineNo,
				Text:   line.Text,
				Time:   line.Time,
			})
			s.metrics.IncLinesRead()
			lastActivity = time.Now()

		case <-checkTicker.C:
			// waking up from blocking line reading to check the idle timeout
			if s.config.FileIdleTimeout > 0 && time.Since(lastActivity) > s.config.FileIdleTimeout {
				s.logger.Debug("File idle, releasing", zap.String("file", filePath))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanner() {
	defer s.subServicesWg.Done()

	s.scanFiles()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.scanFiles()

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) scanFiles() {
	files, err := s.discoverLogFiles()
	if err != nil {
		s.logger.Warn("Error discovering log files", zap.Error(err))
		return
	}

	for _, file := range files {
		if !s.acquire(file) {
			continue
		}
		select {
		case s.fileQueue <- file:
			s.metrics.IncAmountQueueFiles()
		case <-s.ctx.Done():
			s.release(file)
			return
		default:
			s.release(file)
			s.logger.Warn("File queue full, skipping",
				zap.Int("queued", len(s.fileQueue)),
				zap.Int("capacity", cap(s.fileQueue)),
				zap.String("file", file))
		}
	}
}

// acquire marks file as active unless it already is. The first sighting of
// a file counts it as discovered.
func (s *LogDaemonService) acquire(file string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()

	if _, ok := s.seen[file]; !ok {
		s.seen[file] = struct{}{}
		s.metrics.IncFilesDiscovered()
	}
	if _, ok := s.active[file]; ok {
		return false
	}
	s.active[file] = struct{}{}
	return true
}

func (s *LogDaemonService) release(file string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, file)
}

func (s *LogDaemonService) metricsReporter() {
	defer s.subServicesWg.Done()

	ticker := time.NewTicker(s.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logger.Info("Metrics",
				zap.Object("metrics", s.metrics.GetMetricsStamp()),
				zap.Int("queue_usage_pct", int(s.metrics.GetQueueUsage()*100)))

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LogDaemonService) discoverLogFiles() ([]string, error) {
	var logFiles []string

	err := filepath.WalkDir(s.config.LogRootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Debug("Error accessing path", zap.String("path", path), zap.Error(err))
			return nil
		}

		if !d.IsDir() && strings.HasSuffix(d.Name(), ".log") {
			logFiles = append(logFiles, path)
		}
		return nil
	})

	return logFiles, err
}
