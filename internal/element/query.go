package element

import (
	"context"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/wait"
)

func (h *Handle) invocation(op string, s settings, args ...any) fault.Invocation {
	return fault.Invocation{
		Op:       op,
		Args:     append([]any{h.String()}, args...),
		Receiver: h,
		Policy:   s.trap,
	}
}

// Find resolves the first match of the handle's query, or the query given
// with WithQuery. Zero matches is a NotFound fault, trapped by default into
// a nil handle and nil error.
func (h *Handle) Find(ctx context.Context, opts ...Option) (*Handle, error) {
	s := collect(opts)
	c := h.derive(s)
	return fault.Do(ctx, h.exec, h.invocation("find", s, c.query.String()), func(ctx context.Context) (*Handle, error) {
		refs, err := c.lookup(ctx)
		if err != nil {
			return nil, err
		}
		if len(refs) == 0 {
			return nil, fault.New(fault.NotFound, c.String(), nil)
		}
		return c.bindAt(refs[0], 0), nil
	})
}

// FindAll resolves every match. No match is an empty, non-error result.
func (h *Handle) FindAll(ctx context.Context, opts ...Option) ([]*Handle, error) {
	s := collect(opts)
	c := h.derive(s)
	return fault.Do(ctx, h.exec, h.invocation("find_all", s, c.query.String()), func(ctx context.Context) ([]*Handle, error) {
		refs, err := c.lookup(ctx)
		if err != nil {
			return nil, err
		}
		return c.bindAll(refs), nil
	})
}

// Wait polls until the handle's condition holds and returns the first
// match. A timeout is trapped by default into a nil handle.
func (h *Handle) Wait(ctx context.Context, opts ...Option) (*Handle, error) {
	s := collect(opts)
	c := h.derive(s)
	return fault.Do(ctx, h.exec, h.invocation("wait", s, c.cond.String(), c.query.String()), func(ctx context.Context) (*Handle, error) {
		refs, err := c.poll(ctx, c.cond)
		if err != nil {
			return nil, err
		}
		c.visibleOnly = c.cond == wait.VisibleAny
		return c.bindAt(refs[0], 0), nil
	})
}

// WaitAll polls until the condition holds and returns every match
// observed at that moment. PresenceOne is widened to PresenceAll.
func (h *Handle) WaitAll(ctx context.Context, opts ...Option) ([]*Handle, error) {
	s := collect(opts)
	c := h.derive(s)
	kind := c.cond
	if kind == wait.PresenceOne {
		kind = wait.PresenceAll
	}
	return fault.Do(ctx, h.exec, h.invocation("wait_all", s, kind.String(), c.query.String()), func(ctx context.Context) ([]*Handle, error) {
		refs, err := c.poll(ctx, kind)
		if err != nil {
			return nil, err
		}
		c.visibleOnly = kind == wait.VisibleAny
		return c.bindAll(refs), nil
	})
}

func (h *Handle) poll(ctx context.Context, kind wait.Kind) ([]browser.Ref, error) {
	root, err := h.scopeRef(ctx)
	if err != nil {
		return nil, err
	}
	cond := wait.Condition{
		Kind:    kind,
		Locator: h.query,
		Timeout: h.timeout,
		Message: h.message,
	}
	return wait.For(ctx, h.drv, root, cond, h.interval)
}

func (h *Handle) bindAll(refs []browser.Ref) []*Handle {
	out := make([]*Handle, len(refs))
	for i, r := range refs {
		out[i] = h.bindAt(r, i)
	}
	return out
}

// Exists reports whether the query currently matches anything, without
// waiting.
func (h *Handle) Exists(ctx context.Context, opts ...Option) (bool, error) {
	found, err := h.Find(ctx, opts...)
	return found != nil, err
}

var _ fault.DefaultTrapper = (*Handle)(nil)
