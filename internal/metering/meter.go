package metering

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BatmanBruc/billing-engine/types"
)

type Kind string

const (
	KindRequest Kind = "request"
	KindStorage Kind = "storage"
)

type Event struct {
	Kind       Kind
	AccountID  types.AccountID
	DeltaBytes int64
	At         time.Time
}

// Recorder receives meter outcomes, normally the Prometheus collectors.
type Recorder interface {
	IncMeterEvent(kind, result string)
}

type Config struct {
	Workers      int
	BufferSize   int
	WriteTimeout time.Duration
}

// Meter hands usage increments to a pool of workers. Callers never block
// and never see store errors: a full buffer drops the event. Events sent
// before the first Start are buffered; events sent after Stop are dropped
// until the meter is started again.
type Meter struct {
	store   types.UsageStore
	log     *zap.Logger
	metrics Recorder
	now     func() time.Time

	workers      int
	writeTimeout time.Duration
	queue        chan Event

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

func NewMeter(store types.UsageStore, log *zap.Logger, metrics Recorder, config Config) *Meter {
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.BufferSize <= 0 {
		config.BufferSize = config.Workers * 256
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Meter{
		store:        store,
		log:          log.Named("meter"),
		metrics:      metrics,
		now:          time.Now,
		workers:      config.Workers,
		writeTimeout: config.WriteTimeout,
		queue:        make(chan Event, config.BufferSize),
	}
}

func (m *Meter) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true
	m.stopped = false
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
	m.mu.Unlock()

	m.log.Info("meter started", zap.Int("workers", m.workers), zap.Int("buffer", cap(m.queue)))
}

// Stop signals the workers, lets them flush what is already buffered and
// waits for them to exit.
func (m *Meter) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.stopped = true
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.log.Info("meter stopped")
}

func (m *Meter) RecordRequest(accountID types.AccountID) {
	m.enqueue(Event{Kind: KindRequest, AccountID: accountID, At: m.now().UTC()})
}

func (m *Meter) RecordStorageDelta(accountID types.AccountID, deltaBytes int64) {
	if deltaBytes == 0 {
		return
	}
	m.enqueue(Event{Kind: KindStorage, AccountID: accountID, DeltaBytes: deltaBytes, At: m.now().UTC()})
}

// Pending returns the number of buffered events.
func (m *Meter) Pending() int {
	return len(m.queue)
}

func (m *Meter) enqueue(ev Event) {
	if ev.AccountID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		m.record(ev.Kind, "dropped")
		m.log.Warn("meter stopped, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("account_id", string(ev.AccountID)))
		return
	}
	select {
	case m.queue <- ev:
	default:
		m.record(ev.Kind, "dropped")
		m.log.Warn("meter buffer full, dropping event",
			zap.String("kind", string(ev.Kind)),
			zap.String("account_id", string(ev.AccountID)))
	}
}

func (m *Meter) worker(ctx context.Context, id int) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			m.drain()
			m.log.Debug("meter worker stopped", zap.Int("worker", id))
			return
		case ev := <-m.queue:
			m.apply(ev)
		}
	}
}

func (m *Meter) drain() {
	for {
		select {
		case ev := <-m.queue:
			m.apply(ev)
		default:
			return
		}
	}
}

func (m *Meter) apply(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.writeTimeout)
	defer cancel()

	var err error
	switch ev.Kind {
	case KindRequest:
		err = m.store.RecordRequest(ctx, ev.AccountID, ev.At)
	case KindStorage:
		err = m.store.RecordStorageDelta(ctx, ev.AccountID, ev.DeltaBytes, ev.At)
	default:
		return
	}
	if err != nil {
		m.record(ev.Kind, "failed")
		m.log.Error("meter write failed",
			zap.String("kind", string(ev.Kind)),
			zap.String("account_id", string(ev.AccountID)),
			zap.Error(err))
		return
	}
	m.record(ev.Kind, "applied")
}

func (m *Meter) record(kind Kind, result string) {
	if m.metrics != nil {
		m.metrics.IncMeterEvent(string(kind), result)
	}
}
