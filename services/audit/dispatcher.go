package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/browserbridge/authcore/config"
	"github.com/browserbridge/authcore/services/logging"
	"go.uber.org/zap"
)

// Dispatcher forwards security events to a sink from a background worker so
// that emitting never blocks the request path.
type Dispatcher struct {
	config    *config.AuditConfig
	sink      Sink
	logger    *logging.Service
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(cfg *config.AuditConfig, sink Sink, logger *logging.Service) *Dispatcher {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		config: cfg,
		sink:   sink,
		logger: logger,
		ch:     make(chan Event, bufferSize),
		done:   make(chan struct{}),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit assigns the event an ID and timestamp if missing and queues it. A nil
// dispatcher is a valid no-op receiver so callers never need a nil guard.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.ID == "" {
		event.ID = newEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityInfo
	}

	if d.config.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.dropped.Add(1)
			if d.logger != nil {
				d.logger.Warn("audit event dropped, buffer full",
					zap.String("event_type", string(event.Type)),
					zap.Uint64("total_dropped", d.dropped.Load()))
			}
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
	case <-d.done:
	}
}

// EmitAnomaly queues a warning-severity event carrying an anomaly score.
func (d *Dispatcher) EmitAnomaly(ctx context.Context, event Event, score int) {
	event.Score = score
	if event.Severity == "" {
		event.Severity = SeverityWarning
	}
	d.Emit(ctx, event)
}

// Close stops accepting events, drains the buffer and waits for the worker.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
