package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/arunvm123/dianping/config"
	"github.com/arunvm123/dianping/model"
	"github.com/arunvm123/dianping/queue"
	"github.com/redis/go-redis/v9"
)

const (
	testStream     = "stream.orders"
	testDeadLetter = "stream.orders.dlq"
)

// memoryPersister keeps orders by id, like the unique order id in postgres.
type memoryPersister struct {
	mu     sync.Mutex
	orders map[int64]model.OrderIntent
	calls  map[int64]int
	fail   func(intent model.OrderIntent) error
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{
		orders: make(map[int64]model.OrderIntent),
		calls:  make(map[int64]int),
	}
}

func (m *memoryPersister) Persist(_ context.Context, intent model.OrderIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[intent.ID]++
	if m.fail != nil {
		if err := m.fail(intent); err != nil {
			return err
		}
	}
	m.orders[intent.ID] = intent
	return nil
}

func (m *memoryPersister) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memoryPersister) callsFor(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids []int64
}

func (r *recordingNotifier) NotifyOrderCreated(_ context.Context, intent model.OrderIntent) error {
	r.mu.Lock()
	r.ids = append(r.ids, intent.ID)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

func setup(t *testing.T) (*redis.Client, *queue.OrderQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	q := queue.New(rdb, testStream, "g1", testDeadLetter)
	if err := q.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("EnsureGroup: %v", err)
	}
	return rdb, q
}

func testConfig() config.Worker {
	return config.Worker{
		Consumer:        "c1",
		MaxWorkers:      1,
		BlockTimeout:    20 * time.Millisecond,
		RetryBackoff:    time.Millisecond,
		MaxAttempts:     3,
		ShutdownTimeout: time.Second,
	}
}

func intent(id int64) model.OrderIntent {
	return model.OrderIntent{ID: id, UserID: 1000 + id, VoucherID: 7, CreatedAt: time.UnixMilli(1_700_000_000_000)}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startProcessor(t *testing.T, q Queue, p Persister, n Notifier, cfg config.Worker) *OrderProcessor {
	t.Helper()
	proc := NewOrderProcessor(q, p, n, cfg)
	if err := proc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(proc.Stop)
	return proc
}

func assertPending(t *testing.T, q *queue.OrderQueue, want int64) {
	t.Helper()
	n, err := q.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if n != want {
		t.Fatalf("pending = %d, want %d", n, want)
	}
}

func TestProcessesOrders(t *testing.T) {
	_, q := setup(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		if _, err := q.Publish(ctx, intent(i)); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	persister := newMemoryPersister()
	notifier := &recordingNotifier{}
	proc := startProcessor(t, q, persister, notifier, testConfig())

	waitFor(t, "five orders", func() bool { return proc.Stats().Processed == 5 })
	proc.Stop()

	if persister.count() != 5 {
		t.Fatalf("persisted %d orders, want 5", persister.count())
	}
	if notifier.count() != 5 {
		t.Fatalf("sent %d notifications, want 5", notifier.count())
	}
	assertPending(t, q, 0)
}

func TestRecoversBacklogAfterCrash(t *testing.T) {
	_, q := setup(t)
	ctx := context.Background()
	_, _ = q.Publish(ctx, intent(42))

	// The previous run persisted the row and died before acknowledging.
	persister := newMemoryPersister()
	delivered, err := q.Read(ctx, "c1-0", 10*time.Millisecond)
	if err != nil || delivered == nil {
		t.Fatalf("Read = %v, %v", delivered, err)
	}
	_ = persister.Persist(ctx, delivered.Intent)
	assertPending(t, q, 1)

	proc := startProcessor(t, q, persister, nil, testConfig())
	waitFor(t, "backlog drained", func() bool { return proc.Stats().Processed == 1 })
	proc.Stop()

	if persister.count() != 1 {
		t.Fatalf("persisted %d orders, want exactly 1", persister.count())
	}
	if persister.callsFor(42) != 2 {
		t.Fatalf("persist calls = %d, want 2", persister.callsFor(42))
	}
	assertPending(t, q, 0)
}

func TestTransientFailureIsRetried(t *testing.T) {
	_, q := setup(t)
	_, _ = q.Publish(context.Background(), intent(3))

	persister := newMemoryPersister()
	failures := 1
	persister.fail = func(model.OrderIntent) error {
		if failures > 0 {
			failures--
			return errors.New("connection reset")
		}
		return nil
	}

	proc := startProcessor(t, q, persister, nil, testConfig())
	waitFor(t, "retried order", func() bool { return proc.Stats().Processed == 1 })
	proc.Stop()

	if s := proc.Stats(); s.Failed != 1 || s.DeadLettered != 0 {
		t.Fatalf("stats = %+v", s)
	}
	assertPending(t, q, 0)
}

func TestPoisonEntryIsDeadLettered(t *testing.T) {
	rdb, q := setup(t)
	ctx := context.Background()
	_, _ = q.Publish(ctx, intent(13))
	_, _ = q.Publish(ctx, intent(14))

	persister := newMemoryPersister()
	persister.fail = func(i model.OrderIntent) error {
		if i.ID == 13 {
			return errors.New("database is down")
		}
		return nil
	}

	proc := startProcessor(t, q, persister, nil, testConfig())
	waitFor(t, "healthy order after poison", func() bool { return proc.Stats().Processed == 1 })
	proc.Stop()

	if got := persister.callsFor(13); got != 3 {
		t.Fatalf("poison attempts = %d, want 3", got)
	}
	dead, _ := rdb.XRange(ctx, testDeadLetter, "-", "+").Result()
	if len(dead) != 1 || dead[0].Values["id"] != "13" {
		t.Fatalf("dead letters = %v", dead)
	}
	assertPending(t, q, 0)
}

func TestRejectedOrderIsAcknowledged(t *testing.T) {
	rdb, q := setup(t)
	ctx := context.Background()
	_, _ = q.Publish(ctx, intent(8))

	persister := newMemoryPersister()
	persister.fail = func(model.OrderIntent) error {
		return fmt.Errorf("%w: duplicate order", ErrRejected)
	}

	proc := startProcessor(t, q, persister, nil, testConfig())
	waitFor(t, "rejection", func() bool { return proc.Stats().Rejected == 1 })
	proc.Stop()

	if n, _ := rdb.XLen(ctx, testDeadLetter).Result(); n != 0 {
		t.Fatalf("rejected order was dead-lettered")
	}
	if persister.callsFor(8) != 1 {
		t.Fatalf("rejected order retried")
	}
	assertPending(t, q, 0)
}

func TestDeadLetterErrorSkipsRetries(t *testing.T) {
	rdb, q := setup(t)
	ctx := context.Background()
	_, _ = q.Publish(ctx, intent(9))

	persister := newMemoryPersister()
	persister.fail = func(model.OrderIntent) error {
		return fmt.Errorf("%w: stock mismatch", ErrDeadLetter)
	}

	proc := startProcessor(t, q, persister, nil, testConfig())
	waitFor(t, "dead letter", func() bool { return proc.Stats().DeadLettered == 1 })
	proc.Stop()

	if persister.callsFor(9) != 1 {
		t.Fatalf("persist calls = %d, want 1", persister.callsFor(9))
	}
	dead, _ := rdb.XRange(ctx, testDeadLetter, "-", "+").Result()
	if len(dead) != 1 {
		t.Fatalf("dead letters = %v", dead)
	}
	assertPending(t, q, 0)
}

func TestMalformedEntryIsDeadLettered(t *testing.T) {
	rdb, q := setup(t)
	ctx := context.Background()
	rdb.XAdd(ctx, &redis.XAddArgs{Stream: testStream, Values: map[string]interface{}{"id": "x"}})

	persister := newMemoryPersister()
	proc := startProcessor(t, q, persister, nil, testConfig())
	waitFor(t, "dead letter", func() bool { return proc.Stats().DeadLettered == 1 })
	proc.Stop()

	if persister.count() != 0 {
		t.Fatal("malformed entry reached the persister")
	}
	assertPending(t, q, 0)
}

func TestConsumerNames(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWorkers = 3
	proc := NewOrderProcessor(nil, nil, nil, cfg)

	want := []string{"c1-0", "c1-1", "c1-2"}
	got := proc.Consumers()
	if len(got) != len(want) {
		t.Fatalf("consumers = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("consumers = %v, want %v", got, want)
		}
	}
}

func TestRetryLaterDoesNotUseAttempts(t *testing.T) {
	rdb, q := setup(t)
	ctx := context.Background()
	_, _ = q.Publish(ctx, intent(21))

	persister := newMemoryPersister()
	busy := 6
	persister.fail = func(model.OrderIntent) error {
		if busy > 0 {
			busy--
			return fmt.Errorf("%w: user lock held", ErrRetryLater)
		}
		return nil
	}

	cfg := testConfig()
	cfg.MaxBackoff = 4 * time.Millisecond
	proc := startProcessor(t, q, persister, nil, cfg)
	waitFor(t, "deferred order", func() bool { return proc.Stats().Processed == 1 })
	proc.Stop()

	s := proc.Stats()
	if s.DeadLettered != 0 || s.Failed != 0 || s.Deferred != 6 {
		t.Fatalf("stats = %+v, want 6 deferrals and no failures", s)
	}
	if n, _ := rdb.XLen(ctx, testDeadLetter).Result(); n != 0 {
		t.Fatal("deferred order was dead-lettered")
	}
	assertPending(t, q, 0)
}

func TestBackoffDoublesUpToMax(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = 10 * time.Millisecond
	cfg.MaxBackoff = 50 * time.Millisecond
	proc := NewOrderProcessor(nil, nil, nil, cfg)

	want := []time.Duration{20, 40, 50, 50}
	d := cfg.RetryBackoff
	for i, w := range want {
		d = proc.nextBackoff(d)
		if d != w*time.Millisecond {
			t.Fatalf("step %d: backoff = %v, want %v", i, d, w*time.Millisecond)
		}
	}
}
