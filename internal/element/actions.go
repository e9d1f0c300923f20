package element

import (
	"context"
	"fmt"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/fault"
)

const scrollIntoViewJS = `function() { this.scrollIntoView({block: "center", inline: "center"}); }`

// act runs fn against the handle's reference, resolving it first when
// unbound. A stale reference is resolved again and fn retried once.
func (h *Handle) act(ctx context.Context, fn func(ctx context.Context, ref browser.Ref) error) error {
	ref, err := h.reference(ctx)
	if err != nil {
		return err
	}
	err = fn(ctx, ref)
	if !fault.IsKind(err, fault.StaleReference) {
		return err
	}
	h.unbind()
	if ref, err = h.reference(ctx); err != nil {
		return err
	}
	return fn(ctx, ref)
}

// interact runs a side-effecting operation. Faults propagate unless
// policy traps them.
func (h *Handle) interact(ctx context.Context, op string, policy *fault.Policy, args []any, fn func(ctx context.Context, ref browser.Ref) error) error {
	if policy == nil {
		policy = fault.Propagate
	}
	inv := fault.Invocation{
		Op:       op,
		Args:     append([]any{h.String()}, args...),
		Receiver: h,
		Mutating: true,
		Policy:   policy,
	}
	_, err := fault.Do(ctx, h.exec, inv, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.act(ctx, fn)
	})
	return err
}

// Click clicks the element. When the click is intercepted by another
// element it is retried once as a synthesized pointer click; if that
// fails too the InteractionBlocked fault is returned.
func (h *Handle) Click(ctx context.Context) error {
	pointer := fault.Trap(fault.InteractionBlocked).With(func(inv *fault.Invocation, f *fault.Fault) (any, error) {
		return nil, h.act(ctx, h.drv.PointerClick)
	})
	return h.interact(ctx, "click", pointer, nil, h.drv.Click)
}

// SendKeys types text into the element. Only the length of text is
// traced.
func (h *Handle) SendKeys(ctx context.Context, text string) error {
	return h.interact(ctx, "send_keys", nil, []any{fmt.Sprintf("%d chars", len(text))}, func(ctx context.Context, ref browser.Ref) error {
		return h.drv.SendKeys(ctx, ref, text)
	})
}

// Clear empties an input element.
func (h *Handle) Clear(ctx context.Context) error {
	return h.interact(ctx, "clear", nil, nil, h.drv.Clear)
}

// Fill clears the element and types text into it.
func (h *Handle) Fill(ctx context.Context, text string) error {
	if err := h.Clear(ctx); err != nil {
		return err
	}
	return h.SendKeys(ctx, text)
}

// Text returns the rendered text of the element.
func (h *Handle) Text(ctx context.Context) (string, error) {
	inv := fault.Invocation{
		Op:       "text",
		Args:     []any{h.String()},
		Receiver: h,
		Policy:   fault.Propagate,
	}
	return fault.Do(ctx, h.exec, inv, func(ctx context.Context) (string, error) {
		var text string
		err := h.act(ctx, func(ctx context.Context, ref browser.Ref) error {
			var err error
			text, err = h.drv.Text(ctx, ref)
			return err
		})
		return text, err
	})
}

// Eval runs a JavaScript function declaration with the element bound as
// `this` and decodes the result into out.
func (h *Handle) Eval(ctx context.Context, fn string, out any) error {
	inv := fault.Invocation{
		Op:       "eval",
		Args:     []any{h.String()},
		Receiver: h,
		Policy:   fault.Propagate,
	}
	_, err := fault.Do(ctx, h.exec, inv, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.act(ctx, func(ctx context.Context, ref browser.Ref) error {
			return h.drv.Eval(ctx, ref, fn, out)
		})
	})
	return err
}

// ScrollIntoView scrolls the element to the middle of the viewport.
func (h *Handle) ScrollIntoView(ctx context.Context) error {
	return h.Eval(ctx, scrollIntoViewJS, nil)
}
