package breaker

import (
	"errors"
	"testing"
	"time"

	"github.com/arunvm123/dianping/config"
)

var errBoom = errors.New("boom")

func newTestBreaker() *Breaker {
	return New("test", config.Breaker{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})
}

func TestBreakerTripsAfterFailures(t *testing.T) {
	b := newTestBreaker()

	for i := 0; i < 3; i++ {
		if _, err := b.Execute(func() (interface{}, error) { return nil, errBoom }, nil); !errors.Is(err, errBoom) {
			t.Fatalf("attempt %d: expected boom, got %v", i, err)
		}
	}

	_, err := b.Execute(func() (interface{}, error) { return "ok", nil }, nil)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable once open, got %v", err)
	}
	if b.State() != "open" {
		t.Fatalf("expected open state, got %s", b.State())
	}
}

func TestBreakerIgnoredErrorsDoNotTrip(t *testing.T) {
	b := newTestBreaker()
	miss := errors.New("miss")
	isMiss := func(err error) bool { return errors.Is(err, miss) }

	for i := 0; i < 10; i++ {
		_, err := b.Execute(func() (interface{}, error) { return nil, miss }, isMiss)
		if !errors.Is(err, miss) {
			t.Fatalf("expected miss passed through, got %v", err)
		}
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed state, got %s", b.State())
	}
}
