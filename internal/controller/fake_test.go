package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/keylightctl/internal/actions"
	"github.com/dokzlo13/keylightctl/internal/device"
	"github.com/dokzlo13/keylightctl/internal/eventbus"
)

// callLog records device calls across all fake lights in global order
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeClient is an in-memory device.Client
type fakeClient struct {
	name string
	log  *callLog

	mu         sync.Mutex
	state      device.State
	stateErr   error
	setErr     error
	panicOnSet bool
	writes     []device.Update
	stateCalls int
	closed     int

	// When set, State and SetLight wait for these before answering
	delay    time.Duration
	started  chan struct{}
	release  chan struct{}
	startOne sync.Once
}

func newFake(name string, log *callLog, s device.State) *fakeClient {
	return &fakeClient{name: name, log: log, state: s}
}

func (f *fakeClient) block() {
	if f.started != nil {
		f.startOne.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
}

func (f *fakeClient) State(ctx context.Context) (device.State, error) {
	f.block()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stateCalls++
	if f.log != nil {
		f.log.add("state:%s", f.name)
	}
	if f.stateErr != nil {
		return device.State{}, f.stateErr
	}
	s := f.state
	if s.Temperature != nil {
		t := *s.Temperature
		s.Temperature = &t
	}
	return s, nil
}

func (f *fakeClient) SetLight(ctx context.Context, u device.Update) error {
	f.block()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOnSet {
		panic("device exploded")
	}
	if f.setErr != nil {
		return f.setErr
	}
	f.writes = append(f.writes, u)
	if u.On != nil {
		f.state.On = *u.On
		f.logWrite("on", *u.On)
	}
	if u.Brightness != nil {
		f.state.Brightness = *u.Brightness
		f.logWrite("brightness", *u.Brightness)
	}
	if u.Temperature != nil {
		t := *u.Temperature
		f.state.Temperature = &t
		f.logWrite("temperature", t)
	}
	return nil
}

func (f *fakeClient) logWrite(field string, v any) {
	if f.log != nil {
		f.log.add("write:%s:%s=%v", f.name, field, v)
	}
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	if f.log != nil {
		f.log.add("close:%s", f.name)
	}
	return nil
}

func (f *fakeClient) Writes() []device.Update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Update(nil), f.writes...)
}

// eventSink collects published events
type eventSink struct {
	events chan eventbus.Event
}

func newEventSink() *eventSink {
	return &eventSink{events: make(chan eventbus.Event, 64)}
}

func (s *eventSink) Publish(e eventbus.Event) {
	select {
	case s.events <- e:
	default:
	}
}

// next returns the next processed event, failing the test on timeout
func (s *eventSink) next(t *testing.T) ProcessedEvent {
	t.Helper()
	for {
		select {
		case e := <-s.events:
			if p, ok := e.Payload.(ProcessedEvent); ok {
				return p
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for processed action")
			return ProcessedEvent{}
		}
	}
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func state(on bool, brightness int, temperature int) device.State {
	return device.State{On: on, Brightness: brightness, Temperature: intPtr(temperature)}
}

// newTestController builds a controller over fakes and starts its dispatcher
func newTestController(t *testing.T, fakes ...*fakeClient) (*Controller, *eventSink) {
	t.Helper()

	lights := make([]Light, len(fakes))
	for i, f := range fakes {
		lights[i] = Light{Name: f.name, Address: f.name + ":9123", Client: f}
	}

	sink := newEventSink()
	c, err := New(lights, Options{Publisher: sink})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go c.Run(context.Background())
	t.Cleanup(func() {
		c.Enqueue(actions.Stop, actions.SourceShutdown)
		waitDone(t, c)
	})
	return c, sink
}

func waitDone(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

// do enqueues an action and waits until it was processed
func do(t *testing.T, c *Controller, sink *eventSink, a actions.Action) ProcessedEvent {
	t.Helper()
	if !c.Enqueue(a, actions.SourceHotkey) {
		t.Fatalf("Enqueue(%s) rejected", a)
	}
	ev := sink.next(t)
	if ev.Action != string(a) {
		t.Fatalf("processed %s, want %s", ev.Action, a)
	}
	return ev
}

var errOffline = errors.New("light offline")
