package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestBus_DeliversToSubscribers(t *testing.T) {
	b := NewWithConfig(2, 8)
	defer b.Close(context.Background())

	var wg sync.WaitGroup
	wg.Add(2)

	var mu sync.Mutex
	var got []any
	handler := func(e Event) {
		mu.Lock()
		got = append(got, e.Payload)
		mu.Unlock()
		wg.Done()
	}
	b.Subscribe(EventTypeActionProcessed, handler)
	b.Subscribe(EventTypeActionProcessed, handler)
	b.Subscribe(EventTypeActionRejected, func(Event) { t.Error("unexpected delivery to other type") })

	b.Publish(Event{Type: EventTypeActionProcessed, Payload: "x"})

	waitTimeout(t, &wg, time.Second)
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != "x" || got[1] != "x" {
		t.Errorf("got %v, want two deliveries of x", got)
	}
}

func TestBus_HandlerPanicDoesNotKillWorker(t *testing.T) {
	b := NewWithConfig(1, 8)
	defer b.Close(context.Background())

	done := make(chan struct{})
	calls := 0
	b.Subscribe(EventTypeActionProcessed, func(e Event) {
		calls++
		if calls == 1 {
			panic("boom")
		}
		close(done)
	})

	b.Publish(Event{Type: EventTypeActionProcessed})
	b.Publish(Event{Type: EventTypeActionProcessed})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second event was not delivered after panic")
	}
}

func TestBus_PublishAfterCloseIsDropped(t *testing.T) {
	b := NewWithConfig(1, 1)
	b.Subscribe(EventTypeActionProcessed, func(Event) {})
	b.Close(context.Background())

	// Must neither panic nor block
	b.Publish(Event{Type: EventTypeActionProcessed})
	b.Close(context.Background())
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for handlers")
	}
}
