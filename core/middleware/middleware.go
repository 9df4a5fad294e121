// Package middleware defines the request pipeline stages that run around
// handlers: ordered middleware chains (synchronous and asynchronous),
// authorization guards, and the optional global instrumentation hook.
package middleware

import (
	"context"
	"fmt"
	"sync"

	cellohttp "github.com/jagadeesh32/cello/core/http"
)

// Action is the outcome of a pipeline stage: either continue to the next
// stage or stop with a replacement response.
type Action struct {
	resp *cellohttp.Response
}

// Continue lets the pipeline proceed.
func Continue() Action { return Action{} }

// Stop short-circuits the pipeline with the given response.
func Stop(resp *cellohttp.Response) Action { return Action{resp: resp} }

// Stopped reports whether the stage short-circuited, and with what.
func (a Action) Stopped() (*cellohttp.Response, bool) { return a.resp, a.resp != nil }

// Failure is a middleware- or guard-supplied rejection carrying an explicit
// status code and message. The dispatcher converts it into an error
// response with that status.
type Failure struct {
	Status  int
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("middleware failure (%d): %s", f.Status, f.Message)
}

// NewFailure builds a Failure error.
func NewFailure(status int, message string) *Failure {
	return &Failure{Status: status, Message: message}
}

// Middleware transforms a request before the handler runs.
type Middleware interface {
	Before(req *cellohttp.Request) (Action, error)
}

// AfterMiddleware is implemented by middleware that also post-processes the
// response.
type AfterMiddleware interface {
	After(req *cellohttp.Request, resp *cellohttp.Response) (Action, error)
}

// AsyncMiddleware is the asynchronous variant: it may block on I/O and
// therefore receives the request context.
type AsyncMiddleware interface {
	Before(ctx context.Context, req *cellohttp.Request) (Action, error)
}

// AsyncAfterMiddleware post-processes responses asynchronously.
type AsyncAfterMiddleware interface {
	After(ctx context.Context, req *cellohttp.Request, resp *cellohttp.Response) (Action, error)
}

// Guard is an authorization-style gate consulted after before-middleware
// and before the handler.
type Guard interface {
	Check(req *cellohttp.Request) (Action, error)
}

// Chain is the ordered middleware sequence. It is populated during
// application setup and treated as read-only once the server runs, shared
// by every connection task.
type Chain struct {
	sync  []Middleware
	async []AsyncMiddleware
}

// NewChain creates an empty chain.
func NewChain() *Chain { return &Chain{} }

// Use appends a synchronous middleware.
func (c *Chain) Use(m Middleware) *Chain {
	c.sync = append(c.sync, m)
	return c
}

// UseAsync appends an asynchronous middleware.
func (c *Chain) UseAsync(m AsyncMiddleware) *Chain {
	c.async = append(c.async, m)
	return c
}

// Empty reports whether any synchronous middleware is registered.
func (c *Chain) Empty() bool { return len(c.sync) == 0 }

// AsyncEmpty reports whether any asynchronous middleware is registered.
func (c *Chain) AsyncEmpty() bool { return len(c.async) == 0 }

// ExecuteBefore runs the synchronous before stage in order. The first stop
// or failure wins.
func (c *Chain) ExecuteBefore(req *cellohttp.Request) (Action, error) {
	for _, m := range c.sync {
		action, err := m.Before(req)
		if err != nil {
			return Action{}, err
		}
		if _, stopped := action.Stopped(); stopped {
			return action, nil
		}
	}
	return Continue(), nil
}

// ExecuteBeforeAsync runs the asynchronous before stage in order.
func (c *Chain) ExecuteBeforeAsync(ctx context.Context, req *cellohttp.Request) (Action, error) {
	for _, m := range c.async {
		action, err := m.Before(ctx, req)
		if err != nil {
			return Action{}, err
		}
		if _, stopped := action.Stopped(); stopped {
			return action, nil
		}
	}
	return Continue(), nil
}

// ExecuteAfter runs the synchronous after stage for middleware that
// implements it.
func (c *Chain) ExecuteAfter(req *cellohttp.Request, resp *cellohttp.Response) (Action, error) {
	for _, m := range c.sync {
		after, ok := m.(AfterMiddleware)
		if !ok {
			continue
		}
		action, err := after.After(req, resp)
		if err != nil {
			return Action{}, err
		}
		if _, stopped := action.Stopped(); stopped {
			return action, nil
		}
	}
	return Continue(), nil
}

// ExecuteAfterAsync runs the asynchronous after stage.
func (c *Chain) ExecuteAfterAsync(ctx context.Context, req *cellohttp.Request, resp *cellohttp.Response) (Action, error) {
	for _, m := range c.async {
		after, ok := m.(AsyncAfterMiddleware)
		if !ok {
			continue
		}
		action, err := after.After(ctx, req, resp)
		if err != nil {
			return Action{}, err
		}
		if _, stopped := action.Stopped(); stopped {
			return action, nil
		}
	}
	return Continue(), nil
}

// GuardSet holds the registered guards. The lock is held only for the
// duration of the single read or write, never across blocking work.
type GuardSet struct {
	mu     sync.RWMutex
	guards []Guard
}

// NewGuardSet creates an empty guard set.
func NewGuardSet() *GuardSet { return &GuardSet{} }

// Add registers a guard.
func (g *GuardSet) Add(guard Guard) {
	g.mu.Lock()
	g.guards = append(g.guards, guard)
	g.mu.Unlock()
}

// Active reports whether any guard is registered.
func (g *GuardSet) Active() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.guards) > 0
}

// Check consults every guard in order; the first stop or failure wins.
func (g *GuardSet) Check(req *cellohttp.Request) (Action, error) {
	g.mu.RLock()
	guards := g.guards
	g.mu.RUnlock()

	for _, guard := range guards {
		action, err := guard.Check(req)
		if err != nil {
			return Action{}, err
		}
		if _, stopped := action.Stopped(); stopped {
			return action, nil
		}
	}
	return Continue(), nil
}

// Hook is the optional single global instrumentation middleware. Its After
// failures are swallowed by the dispatcher.
type Hook interface {
	Before(req *cellohttp.Request) (Action, error)
	After(req *cellohttp.Request, resp *cellohttp.Response) error
}

// HookSlot is the read-lock-guarded optional hook holder. The lock is
// released before any awaited operation.
type HookSlot struct {
	mu   sync.RWMutex
	hook Hook
}

// NewHookSlot creates an empty slot.
func NewHookSlot() *HookSlot { return &HookSlot{} }

// Set installs (or clears, with nil) the hook.
func (s *HookSlot) Set(h Hook) {
	s.mu.Lock()
	s.hook = h
	s.mu.Unlock()
}

// Get reads the hook once; callers keep the returned value for the rest of
// the request instead of re-locking.
func (s *HookSlot) Get() (Hook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hook, s.hook != nil
}
