// Package script runs user-defined Lua macros that enqueue controller actions.
package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/keylightctl/internal/actions"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = errors.New("lua runtime closed")

// Enqueuer accepts actions for the dispatcher
type Enqueuer interface {
	Enqueue(action actions.Action, source actions.Source) bool
	Actions() []string
}

// Runtime owns a Lua VM. After loading, every Lua call happens on the Run goroutine.
type Runtime struct {
	L        *lua.LState
	enqueuer Enqueuer

	mu     sync.RWMutex
	macros map[string]*lua.LFunction

	workQueue chan func()
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	started   bool
}

// NewRuntime creates a runtime with the log and keylight modules preloaded
func NewRuntime(enqueuer Enqueuer) *Runtime {
	r := &Runtime{
		L:         lua.NewState(),
		enqueuer:  enqueuer,
		macros:    make(map[string]*lua.LFunction),
		workQueue: make(chan func(), 32),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	r.L.PreloadModule("log", NewLogModule().Loader)
	r.L.PreloadModule("keylight", (&keylightModule{runtime: r}).Loader)

	return r
}

// LoadScript executes a script file. Must be called before Run.
func (r *Runtime) LoadScript(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load script %s: %w", path, err)
	}
	log.Info().Str("script", path).Strs("macros", r.Macros()).Msg("Lua script loaded")
	return nil
}

// LoadString executes Lua source. Must be called before Run.
func (r *Runtime) LoadString(source string) error {
	if err := r.L.DoString(source); err != nil {
		return fmt.Errorf("failed to load script: %w", err)
	}
	return nil
}

// Macros returns the defined macro names, sorted
func (r *Runtime) Macros() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.macros))
	for name := range r.macros {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasMacro reports whether a macro is defined
func (r *Runtime) HasMacro(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.macros[name]
	return ok
}

// Run executes queued work until ctx is done or the runtime is closed.
// This is the only goroutine that touches the VM after loading.
func (r *Runtime) Run(ctx context.Context) {
	defer close(r.done)

	// Close waits for Run only when started was set before closing was observed.
	r.mu.Lock()
	select {
	case <-r.closing:
		r.mu.Unlock()
		return
	default:
	}
	r.started = true
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			if r.isClosing() {
				return
			}
			work()
		}
	}
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// RunMacro queues a macro for execution without blocking
func (r *Runtime) RunMacro(ctx context.Context, name string) error {
	r.mu.RLock()
	fn, ok := r.macros[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("macro %q not defined", name)
	}

	work := func() {
		r.L.SetContext(ctx)
		defer r.L.RemoveContext()

		if err := r.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}); err != nil {
			log.Error().Err(err).Str("macro", name).Msg("Lua macro failed")
			return
		}
		log.Debug().Str("macro", name).Msg("Lua macro finished")
	}

	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- work:
		return nil
	default:
		return fmt.Errorf("lua work queue full, macro %q dropped", name)
	}
}

// Close stops the worker and closes the VM. Work still queued is dropped.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		close(r.closing)
		started := r.started
		r.mu.Unlock()

		if started {
			<-r.done
		}
		r.L.Close()
	})
}

func (r *Runtime) defineMacro(name string, fn *lua.LFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.macros[name] = fn
}
