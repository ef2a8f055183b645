package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xente/loki-logger-handler/internal/logging"
	"github.com/xente/loki-logger-handler/internal/logging/buffer"
)

const defaultFlushInterval = 10 * time.Second

var _ logging.BatchProcessor = (*Processor)(nil)

// Processor owns the ingestion queue and the single goroutine that drains
// it. The goroutine wakes every FlushInterval or when Flush is called and
// sends whatever was queued as one batch.
type Processor struct {
	ctx     context.Context
	sender  logging.LogSender
	config  logging.Config
	queue   *buffer.Queue
	trigger chan struct{}
	onError func(error)
	stopCtx context.CancelFunc
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewBatchProcessor creates a processor; onError receives every failure of
// a flush cycle and may be nil.
func NewBatchProcessor(ctx context.Context, sender logging.LogSender, config logging.Config, onError func(error)) *Processor {
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaultFlushInterval
	}
	if onError == nil {
		onError = func(error) {}
	}

	nCtx, cancel := context.WithCancel(ctx)
	return &Processor{
		ctx:     nCtx,
		sender:  sender,
		config:  config,
		queue:   buffer.NewQueue(),
		trigger: make(chan struct{}, 1),
		onError: onError,
		stopCtx: cancel,
	}
}

// Put queues an entry. It never blocks.
func (bp *Processor) Put(entry logging.Entry) {
	bp.queue.Put(entry)
}

func (bp *Processor) Start() {
	bp.startOnce.Do(func() {
		bp.wg.Add(1)
		go bp.run()
	})
}

// Flush wakes the worker without waiting for the interval to elapse. It
// does not wait for the send.
func (bp *Processor) Flush() {
	select {
	case bp.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the worker and runs one final flush cycle bounded by ctx. Only
// the first call flushes.
func (bp *Processor) Stop(ctx context.Context) error {
	var err error
	bp.stopOnce.Do(func() {
		bp.stopCtx()
		bp.wg.Wait()
		err = bp.flushCycle(ctx)
	})
	return err
}

// Pending returns the number of queued entries.
func (bp *Processor) Pending() int {
	return bp.queue.Len()
}

func (bp *Processor) run() {
	defer bp.wg.Done()

	timer := time.NewTimer(bp.config.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-bp.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		case <-bp.ctx.Done():
			return
		}
		timer.Reset(bp.config.FlushInterval)

		if bp.queue.Len() > 0 {
			_ = bp.flushCycle(context.Background())
		}
	}
}

// flushCycle drains the queue and sends the batch. Failures, panics
// included, are handed to onError and never kill the worker.
func (bp *Processor) flushCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("flush cycle panicked: %v", r)
		}
		if err != nil {
			bp.onError(err)
		}
	}()

	entries := bp.queue.DrainAll()
	if len(entries) == 0 {
		return nil
	}

	return bp.sender.SendBatch(ctx, entries)
}
