// Package element provides re-resolvable handles to page elements.
//
// A Handle remembers the query that produced it and the scope it was
// searched in, so it can be resolved again whenever the page invalidates
// the underlying reference. Queries and interactions run through a
// fault.Executor with the handle as receiver.
package element

import (
	"context"
	"fmt"
	"time"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/wait"
)

// DefaultTimeout bounds Wait and WaitAll when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// Handle is a query plus, once resolved, a reference to the element it
// matched. The zero value is not usable; create handles with New.
type Handle struct {
	drv  browser.Driver
	exec *fault.Executor

	query browser.Locator
	scope *Handle
	// index selects among multiple matches when re-resolving a handle
	// produced by FindAll or WaitAll.
	index int
	// visibleOnly makes re-resolution count only visible matches, as the
	// VisibleAny wait that bound the handle did.
	visibleOnly bool

	ref   browser.Ref
	bound bool

	cond     wait.Kind
	timeout  time.Duration
	interval time.Duration
	message  string
	trap     *fault.Policy
}

type settings struct {
	query    *browser.Locator
	scope    *Handle
	scopeSet bool
	cond     *wait.Kind
	timeout  time.Duration
	interval time.Duration
	message  string
	trap     *fault.Policy
}

// Option overrides one field of a handle.
type Option func(*settings)

// WithQuery replaces the locator.
func WithQuery(loc browser.Locator) Option {
	return func(s *settings) { s.query = &loc }
}

// WithScope searches under parent instead of the inherited scope. A nil
// parent means the whole document.
func WithScope(parent *Handle) Option {
	return func(s *settings) {
		s.scope = parent
		s.scopeSet = true
	}
}

// WithCondition sets the default wait condition.
func WithCondition(k wait.Kind) Option {
	return func(s *settings) { s.cond = &k }
}

func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

func WithInterval(d time.Duration) Option {
	return func(s *settings) { s.interval = d }
}

// WithMessage sets the message carried by timeout faults.
func WithMessage(msg string) Option {
	return func(s *settings) { s.message = msg }
}

// WithTrap sets the trap policy. Passed to a query it applies to that call
// only; passed to New or Spawn it becomes the handle's default.
func WithTrap(p *fault.Policy) Option {
	return func(s *settings) { s.trap = p }
}

func collect(opts []Option) settings {
	var s settings
	for _, o := range opts {
		o(&s)
	}
	return s
}

// New returns an unresolved handle for loc searched in the document.
func New(drv browser.Driver, exec *fault.Executor, loc browser.Locator, opts ...Option) *Handle {
	h := &Handle{
		drv:     drv,
		exec:    exec,
		query:   loc,
		cond:    wait.PresenceOne,
		timeout: DefaultTimeout,
	}
	s := collect(opts)
	h.apply(s)
	if s.scopeSet {
		h.scope = s.scope
	}
	return h
}

func (h *Handle) apply(s settings) {
	if s.query != nil {
		h.query = *s.query
		h.index = 0
		h.visibleOnly = false
	}
	if s.cond != nil {
		h.cond = *s.cond
	}
	if s.timeout > 0 {
		h.timeout = s.timeout
	}
	if s.interval > 0 {
		h.interval = s.interval
	}
	if s.message != "" {
		h.message = s.message
	}
	if s.trap != nil {
		h.trap = s.trap
	}
}

// clone copies every field except the resolved reference.
func (h *Handle) clone() *Handle {
	c := *h
	c.ref = nil
	c.bound = false
	return &c
}

// Spawn returns an unresolved copy of h with the given overrides. The
// copy never inherits h's reference, so its first use resolves afresh.
func (h *Handle) Spawn(opts ...Option) *Handle {
	c := h.clone()
	s := collect(opts)
	c.apply(s)
	if s.scopeSet {
		c.scope = s.scope
	}
	return c
}

// derive builds the unresolved handle a query issued on h will resolve.
// An explicit query on a bound handle searches beneath it; otherwise the
// query runs in h's own scope.
func (h *Handle) derive(s settings) *Handle {
	c := h.clone()
	c.visibleOnly = false
	// A call-time trap governs the invocation, not the handles it returns.
	s.trap = nil
	c.apply(s)
	switch {
	case s.scopeSet:
		c.scope = s.scope
	case s.query != nil && h.bound:
		c.scope = h
	}
	return c
}

// DefaultTrap is consulted by the executor when a lookup carries no
// explicit policy. Absence is an expected outcome unless overridden.
func (h *Handle) DefaultTrap() *fault.Policy {
	if h.trap != nil {
		return h.trap
	}
	return fault.Absent
}

// Bound reports whether the handle currently holds a reference.
func (h *Handle) Bound() bool { return h.bound }

// Locator returns the handle's query.
func (h *Handle) Locator() browser.Locator { return h.query }

// Ref returns the last resolved reference, or nil.
func (h *Handle) Ref() browser.Ref { return h.ref }

func (h *Handle) String() string {
	if h.index > 0 {
		return fmt.Sprintf("%s[%d]", h.query, h.index)
	}
	return h.query.String()
}

func (h *Handle) unbind() {
	h.ref = nil
	h.bound = false
}

func (h *Handle) bindAt(ref browser.Ref, index int) *Handle {
	c := h.clone()
	c.ref = ref
	c.bound = true
	c.index = index
	return c
}

func (h *Handle) scopeRef(ctx context.Context) (browser.Ref, error) {
	if h.scope == nil {
		return nil, nil
	}
	return h.scope.reference(ctx)
}

// lookup queries the driver once in h's scope. A stale scope is resolved
// again and the query retried once.
func (h *Handle) lookup(ctx context.Context) ([]browser.Ref, error) {
	for attempt := 0; ; attempt++ {
		root, err := h.scopeRef(ctx)
		if err != nil {
			return nil, err
		}
		refs, err := h.drv.FindAll(ctx, root, h.query)
		if err != nil && attempt == 0 && h.scope != nil && fault.IsKind(err, fault.StaleReference) {
			h.scope.unbind()
			continue
		}
		if err != nil || !h.visibleOnly {
			return refs, err
		}
		return h.visible(ctx, refs)
	}
}

// visible keeps the refs that are currently displayed. Refs that went
// stale in between are dropped.
func (h *Handle) visible(ctx context.Context, refs []browser.Ref) ([]browser.Ref, error) {
	out := refs[:0:0]
	for _, r := range refs {
		ok, err := h.drv.Visible(ctx, r)
		if err != nil {
			if fault.IsKind(err, fault.StaleReference) {
				continue
			}
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// reference returns the bound reference, resolving the handle first when
// it is unbound.
func (h *Handle) reference(ctx context.Context) (browser.Ref, error) {
	if h.bound {
		return h.ref, nil
	}
	refs, err := h.lookup(ctx)
	if err != nil {
		return nil, err
	}
	if len(refs) <= h.index {
		return nil, fault.New(fault.NotFound, h.String(), nil)
	}
	h.ref, h.bound = refs[h.index], true
	return h.ref, nil
}
