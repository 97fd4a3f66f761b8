package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arunvm123/dianping/config"
	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/queue"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRejected marks an intent that can never be persisted. The entry is
	// acknowledged and dropped.
	ErrRejected = errors.New("order rejected")
	// ErrDeadLetter marks an intent that can never be persisted and must be
	// kept on the dead-letter stream for inspection.
	ErrDeadLetter = errors.New("order dead-lettered")
	// ErrRetryLater marks a temporary conflict, such as a busy lock. The entry
	// stays pending and the retry does not count toward MaxAttempts.
	ErrRetryLater = errors.New("order retry later")
)

// Persister writes an admitted order to durable storage. It must be idempotent
// for the same intent id, since entries are redelivered after a crash.
type Persister interface {
	Persist(ctx context.Context, intent model.OrderIntent) error
}

// Notifier announces persisted orders.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, intent model.OrderIntent) error
}

// Queue is the part of queue.OrderQueue the processor consumes.
type Queue interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, consumer string, block time.Duration) (*queue.Entry, error)
	ReadPending(ctx context.Context, consumer string) (*queue.Entry, error)
	Ack(ctx context.Context, id string) error
	DeadLetter(ctx context.Context, entry *queue.Entry, reason string) error
	Pending(ctx context.Context) (int64, error)
}

// Stats is a snapshot of the processor counters.
type Stats struct {
	Processed    int64
	Rejected     int64
	DeadLettered int64
	Failed       int64
	Deferred     int64
	Active       int64
}

type OrderProcessor struct {
	queue     Queue
	persister Persister
	notifier  Notifier
	cfg       config.Worker
	consumers []string

	// delivery attempts per stream entry id, cleared once the entry leaves the backlog
	mu       sync.Mutex
	attempts map[string]int

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	processedCount    int64
	rejectedCount     int64
	deadLetteredCount int64
	failedCount       int64
	deferredCount     int64
	activeWorkers     int64
}

// NewOrderProcessor builds a processor with cfg.MaxWorkers consumer loops. The
// notifier may be nil.
func NewOrderProcessor(q Queue, persister Persister, notifier Notifier, cfg config.Worker) *OrderProcessor {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 1
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 20 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	if cfg.MaxBackoff < cfg.RetryBackoff {
		cfg.MaxBackoff = cfg.RetryBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	base := cfg.Consumer
	if base == "" {
		base = defaultConsumerName()
	}
	consumers := make([]string, cfg.MaxWorkers)
	for i := range consumers {
		consumers[i] = fmt.Sprintf("%s-%d", base, i)
	}

	return &OrderProcessor{
		queue:     q,
		persister: persister,
		notifier:  notifier,
		cfg:       cfg,
		consumers: consumers,
		attempts:  make(map[string]int),
	}
}

// A stable name lets a restarted process pick up its own backlog. Without a
// hostname the backlog is only reachable through XCLAIM.
func defaultConsumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return uuid.NewString()
}

// Consumers returns the consumer names used in the group.
func (p *OrderProcessor) Consumers() []string {
	return p.consumers
}

// Start creates the consumer group and launches the consumer loops. It returns
// once they are running; call Stop to end them.
func (p *OrderProcessor) Start(ctx context.Context) error {
	if err := p.queue.EnsureGroup(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	log.Info().Int("workers", len(p.consumers)).Msg("starting order processor")

	for _, name := range p.consumers {
		p.wg.Add(1)
		go func(name string) {
			defer p.wg.Done()
			p.consume(runCtx, name)
		}(name)
	}

	if p.cfg.MetricsInterval > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.reportMetrics(runCtx)
		}()
	}

	return nil
}

// Stop cancels the consumer loops and waits up to the shutdown timeout for the
// in-flight entries to finish.
func (p *OrderProcessor) Stop() {
	if p.cancel == nil {
		return
	}
	log.Info().Msg("order processor shutting down")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all order workers finished gracefully")
	case <-time.After(p.cfg.ShutdownTimeout):
		log.Warn().Dur("timeout", p.cfg.ShutdownTimeout).Msg("shutdown timeout reached, forcing exit")
	}
}

// Run starts the processor and blocks until ctx is done.
func (p *OrderProcessor) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return nil
}

// Stats returns the current counters.
func (p *OrderProcessor) Stats() Stats {
	return Stats{
		Processed:    atomic.LoadInt64(&p.processedCount),
		Rejected:     atomic.LoadInt64(&p.rejectedCount),
		DeadLettered: atomic.LoadInt64(&p.deadLetteredCount),
		Failed:       atomic.LoadInt64(&p.failedCount),
		Deferred:     atomic.LoadInt64(&p.deferredCount),
		Active:       atomic.LoadInt64(&p.activeWorkers),
	}
}

func (p *OrderProcessor) consume(ctx context.Context, consumer string) {
	logger := log.With().Str("consumer", consumer).Logger()

	// Entries delivered to this consumer before a crash come first.
	p.drainBacklog(ctx, consumer)

	for ctx.Err() == nil {
		entry, err := p.queue.Read(ctx, consumer, p.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error().Err(err).Msg("failed to read order stream")
			sleep(ctx, p.cfg.RetryBackoff)
			continue
		}
		if entry == nil {
			continue
		}

		if err := p.handle(ctx, entry); err != nil {
			logger.Warn().Err(err).Str("entry", entry.ID).Msg("order left pending, recovering backlog")
			p.drainBacklog(ctx, consumer)
		}
	}

	logger.Info().Msg("order worker stopped")
}

// drainBacklog processes this consumer's unacknowledged entries until none are
// left. Failed retries back off exponentially up to MaxBackoff.
func (p *OrderProcessor) drainBacklog(ctx context.Context, consumer string) {
	backoff := p.cfg.RetryBackoff
	for ctx.Err() == nil {
		entry, err := p.queue.ReadPending(ctx, consumer)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("consumer", consumer).Msg("failed to read pending orders")
			sleep(ctx, backoff)
			backoff = p.nextBackoff(backoff)
			continue
		}
		if entry == nil {
			return
		}

		if err := p.handle(ctx, entry); err != nil {
			log.Warn().Err(err).Str("consumer", consumer).Str("entry", entry.ID).Dur("backoff", backoff).Msg("pending order failed, retrying")
			sleep(ctx, backoff)
			backoff = p.nextBackoff(backoff)
			continue
		}
		backoff = p.cfg.RetryBackoff
	}
}

func (p *OrderProcessor) nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > p.cfg.MaxBackoff {
		return p.cfg.MaxBackoff
	}
	return d
}

// handle settles one delivery. A non-nil error means the entry is still pending.
func (p *OrderProcessor) handle(ctx context.Context, entry *queue.Entry) error {
	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	if entry.Err != nil {
		log.Error().Err(entry.Err).Str("entry", entry.ID).Msg("undecodable order entry")
		return p.deadLetter(ctx, entry, entry.Err.Error())
	}

	intent := entry.Intent
	err := p.persister.Persist(ctx, intent)
	switch {
	case err == nil:
		if err := p.queue.Ack(ctx, entry.ID); err != nil {
			return err
		}
		p.forget(entry.ID)
		atomic.AddInt64(&p.processedCount, 1)
		log.Debug().Int64("order_id", intent.ID).Int64("user_id", intent.UserID).Msg("order persisted")
		p.notify(ctx, intent)
		return nil

	case errors.Is(err, ErrDeadLetter):
		log.Error().Err(err).Int64("order_id", intent.ID).Int64("voucher_id", intent.VoucherID).Msg("order cannot be persisted")
		return p.deadLetter(ctx, entry, err.Error())

	case errors.Is(err, ErrRejected):
		if err := p.queue.Ack(ctx, entry.ID); err != nil {
			return err
		}
		p.forget(entry.ID)
		atomic.AddInt64(&p.rejectedCount, 1)
		log.Warn().Err(err).Int64("order_id", intent.ID).Int64("user_id", intent.UserID).Msg("order rejected")
		return nil
	}

	if errors.Is(err, ErrRetryLater) {
		atomic.AddInt64(&p.deferredCount, 1)
		return fmt.Errorf("order %d deferred: %w", intent.ID, err)
	}

	atomic.AddInt64(&p.failedCount, 1)
	if p.recordAttempt(entry.ID) >= p.cfg.MaxAttempts {
		log.Error().Err(err).Int64("order_id", intent.ID).Int("attempts", p.cfg.MaxAttempts).Msg("giving up on order")
		return p.deadLetter(ctx, entry, fmt.Sprintf("max attempts exceeded: %v", err))
	}
	return fmt.Errorf("failed to persist order %d: %w", intent.ID, err)
}

func (p *OrderProcessor) deadLetter(ctx context.Context, entry *queue.Entry, reason string) error {
	if err := p.queue.DeadLetter(ctx, entry, reason); err != nil {
		return err
	}
	p.forget(entry.ID)
	atomic.AddInt64(&p.deadLetteredCount, 1)
	return nil
}

func (p *OrderProcessor) notify(ctx context.Context, intent model.OrderIntent) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.NotifyOrderCreated(ctx, intent); err != nil {
		log.Warn().Err(err).Int64("order_id", intent.ID).Msg("failed to send order notification")
	}
}

func (p *OrderProcessor) recordAttempt(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[id]++
	return p.attempts[id]
}

func (p *OrderProcessor) forget(id string) {
	p.mu.Lock()
	delete(p.attempts, id)
	p.mu.Unlock()
}

// reportMetrics logs performance metrics
func (p *OrderProcessor) reportMetrics(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.Stats()
			event := log.Info().
				Int64("processed", s.Processed).
				Int64("rejected", s.Rejected).
				Int64("dead_lettered", s.DeadLettered).
				Int64("failed", s.Failed).
				Int64("deferred", s.Deferred).
				Int64("active", s.Active)
			if pending, err := p.queue.Pending(ctx); err == nil {
				event = event.Int64("pending", pending)
			}
			event.Msg("order processor metrics")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
