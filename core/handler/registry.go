// Package handler holds the application-supplied business logic units and
// the dependency container injected into them. The server core treats a
// handler as an opaque capability: given a request it asynchronously
// produces an outcome or fails, and failures are always recoverable into a
// 500 response.
package handler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	cellohttp "github.com/jagadeesh32/cello/core/http"
)

// Outcome is what a handler produces. It is an explicit tagged union:
// pre-serialized JSON bytes, a generic structured value, or a rich response
// with explicit status, headers and body. The response builder never has to
// sniff marker fields.
type Outcome interface {
	isOutcome()
}

// RawJSON is a pre-serialized JSON payload, eligible for the fast path.
type RawJSON []byte

func (RawJSON) isOutcome() {}

// Structured is a generic value marshaled to JSON with status 200.
type Structured struct {
	Value any
}

func (Structured) isOutcome() {}

// Rich carries explicit status, headers and body.
type Rich struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

func (Rich) isOutcome() {}

// Func is the handler signature. The handler owns the request it receives
// and may consume it freely; after-middleware sees a metadata-only clone.
type Func func(ctx context.Context, req *cellohttp.Request, deps *Dependencies) (Outcome, error)

// Registry assigns stable integer IDs to handlers at registration time.
// Registration happens during application setup; lookups are read-locked
// only for the duration of the slice access.
type Registry struct {
	mu       sync.RWMutex
	handlers []Func

	// invocations counts completed handler calls, mostly for tests that
	// assert a guard prevented any invocation.
	invocations atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry { return &Registry{} }

// Register stores a handler and returns its ID.
func (r *Registry) Register(fn Func) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, fn)
	return len(r.handlers) - 1
}

// Len reports the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Invocations reports how many handler calls completed.
func (r *Registry) Invocations() uint64 { return r.invocations.Load() }

// Invoke runs the handler registered under id. An unknown id is an error,
// which the dispatcher surfaces as a 500.
func (r *Registry) Invoke(ctx context.Context, id int, req *cellohttp.Request, deps *Dependencies) (Outcome, error) {
	r.mu.RLock()
	var fn Func
	if id >= 0 && id < len(r.handlers) {
		fn = r.handlers[id]
	}
	r.mu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("handler %d not found", id)
	}
	out, err := fn(ctx, req, deps)
	r.invocations.Add(1)
	return out, err
}

// Dependencies is the named singleton container handed to every handler
// invocation.
type Dependencies struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewDependencies creates an empty container.
func NewDependencies() *Dependencies {
	return &Dependencies{values: map[string]any{}}
}

// Provide registers a named singleton.
func (d *Dependencies) Provide(name string, value any) {
	d.mu.Lock()
	d.values[name] = value
	d.mu.Unlock()
}

// Get looks up a named singleton.
func (d *Dependencies) Get(name string) (any, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.values[name]
	return v, ok
}
