// FILE: lixenwraith/conftree/reference.go
package conftree

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
)

// RefState is the lifecycle state of a Reference.
type RefState int32

const (
	StateUnloaded RefState = iota
	StateLoaded
	StateUpdating
	StateClosed
)

func (s RefState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateUpdating:
		return "updating"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("RefState(%d)", int32(s))
	}
}

// ErrorPhase tells error listeners where a failure happened.
type ErrorPhase int

const (
	PhaseLoading ErrorPhase = iota
	PhaseSaving
	PhaseValue
	PhaseWatching
)

func (p ErrorPhase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseSaving:
		return "saving"
	case PhaseValue:
		return "value"
	case PhaseWatching:
		return "watching"
	default:
		return "unknown"
	}
}

// refreshable is a typed value bound to a Reference.
type refreshable interface {
	refresh(root *Node) error
	close()
}

// Reference binds a Loader to a live node tree. The current tree is
// replaced atomically on every load or update, so readers on other
// goroutines always see a complete tree. Trees returned by Node must be
// treated as read-only; modify through Update.
type Reference struct {
	loader Loader
	logger *slog.Logger

	mu    sync.Mutex // serializes writers
	root  atomic.Pointer[Node]
	state atomic.Int32
	dirty atomic.Bool

	listenersMu sync.RWMutex
	listeners   map[int64]func(*Node)
	errorFns    []func(ErrorPhase, error)
	listenerID  atomic.Int64
	values      []refreshable

	watcher *watcher
}

// NewReference performs the initial load. Failure is returned rather than
// reported to listeners, since there is no previous tree to keep.
func NewReference(loader Loader) (*Reference, error) {
	r := &Reference{
		loader:    loader,
		logger:    slog.Default(),
		listeners: make(map[int64]func(*Node)),
	}
	n, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("initial load failed: %w", err)
	}
	r.logger = n.opts.Logger()
	r.root.Store(n)
	r.state.Store(int32(StateLoaded))
	return r, nil
}

// State returns the lifecycle state.
func (r *Reference) State() RefState {
	return RefState(r.state.Load())
}

// Node returns the current tree. Callers must not modify it.
func (r *Reference) Node() *Node {
	return r.root.Load()
}

// Loader returns the backing loader.
func (r *Reference) Loader() Loader { return r.loader }

// Dirty reports whether the tree changed since the last load or save.
func (r *Reference) Dirty() bool { return r.dirty.Load() }

// Load reloads the tree. On failure the previous tree and typed values stay
// in place and the error is reported to error listeners as well as returned.
func (r *Reference) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() == StateClosed {
		return ErrClosed
	}

	r.state.Store(int32(StateUpdating))
	defer r.state.CompareAndSwap(int32(StateUpdating), int32(StateLoaded))

	n, err := r.loader.Load()
	if err != nil {
		r.logger.Warn("Configuration reload failed, keeping previous values.", "error", err)
		r.reportError(PhaseLoading, err)
		return err
	}
	r.publish(n)
	r.dirty.Store(false)
	r.logger.Info("Configuration reloaded.")
	return nil
}

// Save writes the current tree through the loader.
func (r *Reference) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() == StateClosed {
		return ErrClosed
	}
	if err := r.loader.Save(r.root.Load()); err != nil {
		r.reportError(PhaseSaving, err)
		return err
	}
	r.dirty.Store(false)
	return nil
}

// Update applies fn to a copy of the tree and publishes the copy if fn
// succeeds. The tree is marked dirty.
func (r *Reference) Update(fn func(root *Node) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateLocked(fn)
}

func (r *Reference) updateLocked(fn func(root *Node) error) error {
	if r.State() == StateClosed {
		return ErrClosed
	}
	next := r.root.Load().Copy()
	if err := fn(next); err != nil {
		return err
	}
	r.publish(next)
	r.dirty.Store(true)
	return nil
}

// publish swaps in a new tree, refreshes typed values and notifies.
// Callers hold r.mu.
func (r *Reference) publish(n *Node) {
	r.root.Store(n)

	r.listenersMu.RLock()
	values := append([]refreshable(nil), r.values...)
	listeners := make([]func(*Node), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.listenersMu.RUnlock()

	for _, v := range values {
		if err := v.refresh(n); err != nil {
			r.logger.Warn("Typed configuration value could not be refreshed, keeping previous value.", "error", err)
			r.reportError(PhaseValue, err)
		}
	}
	for _, fn := range listeners {
		fn(n)
	}
}

// Subscribe registers fn for every newly published tree. The returned
// function cancels the subscription. fn runs while the reference is being
// updated and must not call Update or Load.
func (r *Reference) Subscribe(fn func(root *Node)) (cancel func()) {
	id := r.listenerID.Add(1)
	r.listenersMu.Lock()
	r.listeners[id] = fn
	r.listenersMu.Unlock()
	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// OnError registers a listener for load, save, value and watch failures.
func (r *Reference) OnError(fn func(phase ErrorPhase, err error)) {
	r.listenersMu.Lock()
	r.errorFns = append(r.errorFns, fn)
	r.listenersMu.Unlock()
}

func (r *Reference) reportError(phase ErrorPhase, err error) {
	r.listenersMu.RLock()
	fns := slices.Clone(r.errorFns)
	r.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(phase, err)
	}
}

func (r *Reference) addValue(v refreshable) {
	r.listenersMu.Lock()
	r.values = append(r.values, v)
	r.listenersMu.Unlock()
}

// Close stops watching and drops all listeners. Later operations fail
// with ErrClosed.
func (r *Reference) Close() error {
	r.StopWatching()

	r.mu.Lock()
	defer r.mu.Unlock()
	if RefState(r.state.Swap(int32(StateClosed))) == StateClosed {
		return nil
	}

	r.listenersMu.Lock()
	values := r.values
	r.values = nil
	r.listeners = make(map[int64]func(*Node))
	r.errorFns = nil
	r.listenersMu.Unlock()

	for _, v := range values {
		v.close()
	}
	return nil
}

// ValueReference is a typed view of one path in a Reference. Reads return
// the value decoded from the most recent tree; a failed decode keeps the
// previous value.
type ValueReference[T any] struct {
	ref  *Reference
	path Path

	current atomic.Pointer[T]
	closed  atomic.Bool

	mu   sync.RWMutex
	subs map[int64]func(T)
	next int64
}

// ValueAt binds a typed value at path. The first decode must succeed.
func ValueAt[T any](ref *Reference, path ...any) (*ValueReference[T], error) {
	if ref.State() == StateClosed {
		return nil, ErrClosed
	}
	v := &ValueReference[T]{ref: ref, path: Path(path), subs: make(map[int64]func(T))}
	val, err := GetAs[T](ref.Node().Node(path...))
	if err != nil {
		return nil, err
	}
	v.current.Store(&val)
	ref.addValue(v)
	return v, nil
}

// Path returns the bound path.
func (v *ValueReference[T]) Path() Path { return v.path }

// Get returns the current value.
func (v *ValueReference[T]) Get() (T, error) {
	if v.closed.Load() {
		var zero T
		return zero, ErrClosed
	}
	return *v.current.Load(), nil
}

// Node returns the node the value is read from, in the current tree.
func (v *ValueReference[T]) Node() *Node {
	return v.ref.Node().Node(v.path...)
}

// Set writes val into the tree and marks it dirty.
func (v *ValueReference[T]) Set(val T) error {
	if v.closed.Load() {
		return ErrClosed
	}
	return v.ref.Update(func(root *Node) error {
		return SetTyped(root.Node(v.path...), val)
	})
}

// SetAndSave writes val and saves the tree.
func (v *ValueReference[T]) SetAndSave(val T) error {
	if err := v.Set(val); err != nil {
		return err
	}
	return v.ref.Save()
}

// Update replaces the value with fn applied to the current value.
func (v *ValueReference[T]) Update(fn func(T) T) error {
	if v.closed.Load() {
		return ErrClosed
	}
	v.ref.mu.Lock()
	defer v.ref.mu.Unlock()
	return v.ref.updateLocked(func(root *Node) error {
		return SetTyped(root.Node(v.path...), fn(*v.current.Load()))
	})
}

// Subscribe registers fn for every successfully refreshed value.
func (v *ValueReference[T]) Subscribe(fn func(T)) (cancel func()) {
	v.mu.Lock()
	id := v.next
	v.next++
	v.subs[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

func (v *ValueReference[T]) refresh(root *Node) error {
	val, err := GetAs[T](root.Node(v.path...))
	if err != nil {
		return fmt.Errorf("refresh %s: %w", v.path, err)
	}
	v.current.Store(&val)

	v.mu.RLock()
	subs := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.RUnlock()
	for _, fn := range subs {
		fn(val)
	}
	return nil
}

func (v *ValueReference[T]) close() {
	v.closed.Store(true)
	v.mu.Lock()
	v.subs = make(map[int64]func(T))
	v.mu.Unlock()
}

// IsClosed reports whether err signals a closed reference.
func IsClosed(err error) bool { return errors.Is(err, ErrClosed) }
