package shipments

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/negomaq/storefront-backend/pkg/config"
	"github.com/negomaq/storefront-backend/pkg/logger"
)

// Dispatcher runs shipment jobs on a bounded worker pool. Enqueue never
// blocks the caller: when the queue is full the job is dropped and the order
// stays paid until a webhook replay or manual retry re-enqueues it.
type Dispatcher struct {
	processor  Processor
	log        *logger.Logger
	jobs       chan uuid.UUID
	group      *errgroup.Group
	jobTimeout time.Duration

	closeOnce sync.Once
}

// NewDispatcher starts the worker pool immediately.
func NewDispatcher(processor Processor, cfg config.ShipmentsConfig, log *logger.Logger) (*Dispatcher, error) {
	if processor == nil {
		return nil, fmt.Errorf("shipment processor required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 64
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = 2 * time.Minute
	}

	d := &Dispatcher{
		processor:  processor,
		log:        log,
		jobs:       make(chan uuid.UUID, queueSize),
		group:      &errgroup.Group{},
		jobTimeout: jobTimeout,
	}
	for i := 0; i < workers; i++ {
		d.group.Go(d.worker)
	}
	return d, nil
}

// Enqueue submits an order for shipment creation. It reports false when the
// queue is full or the dispatcher has been closed.
func (d *Dispatcher) Enqueue(orderID uuid.UUID) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case d.jobs <- orderID:
		return true
	default:
		return false
	}
}

// Close drains the queue and waits for in-flight jobs to finish.
func (d *Dispatcher) Close() error {
	d.closeOnce.Do(func() {
		close(d.jobs)
	})
	return d.group.Wait()
}

func (d *Dispatcher) worker() error {
	for orderID := range d.jobs {
		d.run(orderID)
	}
	return nil
}

func (d *Dispatcher) run(orderID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
	defer cancel()

	lctx := d.log.WithOrderID(ctx, orderID.String())
	if err := d.processor.Process(ctx, orderID); err != nil {
		d.log.Error(lctx, "shipment job failed", err)
		return
	}
	d.log.Info(lctx, "shipment job completed")
}
