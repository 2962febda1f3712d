package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dokzlo13/keylightctl/internal/actions"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	for _, a := range []actions.Action{actions.Refresh, actions.Toggle, actions.Sync} {
		if !q.Push(actions.NewJob(a, actions.SourceHotkey)) {
			t.Fatalf("Push(%s) rejected", a)
		}
	}

	for _, want := range []actions.Action{actions.Refresh, actions.Toggle, actions.Sync} {
		job, err := q.Pop(context.Background())
		if err != nil {
			t.Fatalf("Pop: %v", err)
		}
		if job.Action != want {
			t.Errorf("Pop = %s, want %s", job.Action, want)
		}
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	got := make(chan actions.Job, 1)
	go func() {
		job, err := q.Pop(context.Background())
		if err == nil {
			got <- job
		}
	}()

	select {
	case <-got:
		t.Fatal("Pop returned before any Push")
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(actions.NewJob(actions.Toggle, actions.SourceDBus))
	select {
	case job := <-got:
		if job.Action != actions.Toggle {
			t.Errorf("Pop = %s, want toggle", job.Action)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestQueue_PushNeverBlocks(t *testing.T) {
	q := NewQueue()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(actions.NewJob(actions.BrightnessUp, actions.SourceHotkey))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Push blocked without a consumer")
	}
	if q.Len() != 10000 {
		t.Errorf("Len = %d, want 10000", q.Len())
	}
}

func TestQueue_PopHonorsContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Pop err = %v, want deadline exceeded", err)
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue()
	q.Push(actions.NewJob(actions.Refresh, actions.SourceStartup))
	q.Push(actions.NewJob(actions.Toggle, actions.SourceHotkey))

	pending := q.Close()
	if len(pending) != 2 {
		t.Fatalf("Close returned %d pending jobs, want 2", len(pending))
	}
	if q.Push(actions.NewJob(actions.Toggle, actions.SourceHotkey)) {
		t.Error("Push after Close should be rejected")
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop err = %v, want ErrQueueClosed", err)
	}
}
