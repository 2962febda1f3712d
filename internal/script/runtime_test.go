package script

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/keylightctl/internal/actions"
)

type recordingEnqueuer struct {
	mu     sync.Mutex
	queued []actions.Action
	reject bool
	notify chan struct{}
}

func newRecordingEnqueuer() *recordingEnqueuer {
	return &recordingEnqueuer{notify: make(chan struct{}, 16)}
}

func (e *recordingEnqueuer) Enqueue(a actions.Action, source actions.Source) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if source != actions.SourceScript {
		panic("unexpected source " + string(source))
	}
	e.queued = append(e.queued, a)
	e.notify <- struct{}{}
	return !e.reject
}

func (e *recordingEnqueuer) Actions() []string {
	return []string{"refresh", "toggle"}
}

func (e *recordingEnqueuer) waitFor(t *testing.T, n int) []actions.Action {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-e.notify:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d enqueues", n)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]actions.Action(nil), e.queued...)
}

func startRuntime(t *testing.T, enq Enqueuer, source string) *Runtime {
	t.Helper()
	r := NewRuntime(enq)
	if err := r.LoadString(source); err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		r.Close()
		cancel()
	})
	return r
}

func TestRuntime_MacroEnqueuesActions(t *testing.T) {
	enq := newRecordingEnqueuer()
	r := startRuntime(t, enq, `
		local keylight = require("keylight")
		local log = require("log")
		keylight.macro("bright", function()
			for _ = 1, 3 do
				keylight.enqueue("brightness_up")
			end
			keylight.enqueue("SYNC")
			log.info("bright macro done", {steps = 3})
		end)
	`)

	if !r.HasMacro("bright") {
		t.Fatal("macro bright not defined")
	}
	if err := r.RunMacro(context.Background(), "bright"); err != nil {
		t.Fatalf("RunMacro: %v", err)
	}

	got := enq.waitFor(t, 4)
	want := []actions.Action{actions.BrightnessUp, actions.BrightnessUp, actions.BrightnessUp, actions.Sync}
	if len(got) != len(want) {
		t.Fatalf("queued %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("queued[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRuntime_UnknownMacro(t *testing.T) {
	r := startRuntime(t, newRecordingEnqueuer(), ``)
	if err := r.RunMacro(context.Background(), "missing"); err == nil {
		t.Error("RunMacro of undefined macro should fail")
	}
}

func TestRuntime_UnknownActionFailsMacroOnly(t *testing.T) {
	enq := newRecordingEnqueuer()
	r := startRuntime(t, enq, `
		local keylight = require("keylight")
		keylight.macro("bad", function() keylight.enqueue("explode") end)
		keylight.macro("good", function() keylight.enqueue("toggle") end)
	`)

	if err := r.RunMacro(context.Background(), "bad"); err != nil {
		t.Fatalf("RunMacro bad: %v", err)
	}
	if err := r.RunMacro(context.Background(), "good"); err != nil {
		t.Fatalf("RunMacro good: %v", err)
	}

	got := enq.waitFor(t, 1)
	if len(got) != 1 || got[0] != actions.Toggle {
		t.Errorf("queued %v, want [toggle]", got)
	}
}

func TestRuntime_ActionsList(t *testing.T) {
	enq := newRecordingEnqueuer()
	r := startRuntime(t, enq, `
		local keylight = require("keylight")
		keylight.macro("all", function()
			for _, name in ipairs(keylight.actions()) do
				keylight.enqueue(name)
			end
		end)
	`)

	if err := r.RunMacro(context.Background(), "all"); err != nil {
		t.Fatalf("RunMacro: %v", err)
	}
	got := enq.waitFor(t, 2)
	if got[0] != actions.Refresh || got[1] != actions.Toggle {
		t.Errorf("queued %v, want [refresh toggle]", got)
	}
}

func TestRuntime_LoadScriptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "macros.lua")
	src := `require("keylight").macro("b", function() end)
require("keylight").macro("a", function() end)`
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r := NewRuntime(newRecordingEnqueuer())
	defer r.Close()
	if err := r.LoadScript(path); err != nil {
		t.Fatalf("LoadScript: %v", err)
	}
	names := r.Macros()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Macros() = %v, want [a b]", names)
	}
}

func TestRuntime_LoadScriptSyntaxError(t *testing.T) {
	r := NewRuntime(newRecordingEnqueuer())
	defer r.Close()
	if err := r.LoadString(`keylight.macro(`); err == nil {
		t.Error("syntax error should fail loading")
	}
}

func TestRuntime_RunMacroAfterClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := NewRuntime(newRecordingEnqueuer())
		if err := r.LoadString(`require("keylight").macro("m", function() end)`); err != nil {
			t.Fatalf("LoadString: %v", err)
		}
		go r.Run(context.Background())
		r.Close()

		for j := 0; j < 10; j++ {
			if err := r.RunMacro(context.Background(), "m"); !errors.Is(err, ErrRuntimeClosed) {
				t.Fatalf("iteration %d: RunMacro after Close = %v, want ErrRuntimeClosed", i, err)
			}
		}
	}
}

func TestRuntime_RunAfterCloseReturnsImmediately(t *testing.T) {
	r := NewRuntime(newRecordingEnqueuer())
	r.Close()

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return on a closed runtime")
	}
}

func TestRuntime_CloseDropsQueuedWork(t *testing.T) {
	enq := newRecordingEnqueuer()
	r := NewRuntime(enq)
	if err := r.LoadString(`
		local keylight = require("keylight")
		keylight.macro("m", function() keylight.enqueue("toggle") end)
	`); err != nil {
		t.Fatalf("LoadString: %v", err)
	}

	// Queued before the worker starts, then closed: the VM is never entered.
	if err := r.RunMacro(context.Background(), "m"); err != nil {
		t.Fatalf("RunMacro: %v", err)
	}
	r.Close()
	r.Run(context.Background())

	enq.mu.Lock()
	defer enq.mu.Unlock()
	if len(enq.queued) != 0 {
		t.Errorf("queued %v after Close, want nothing", enq.queued)
	}
}
