// Package wait blocks until a condition over the page holds, by polling
// the driver at a fixed interval.
package wait

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/fault"
)

// DefaultInterval is used when a zero interval is passed.
const DefaultInterval = 500 * time.Millisecond

// Kind selects what a Condition waits for.
type Kind int

const (
	// PresenceOne waits for at least one match and yields the first.
	PresenceOne Kind = iota
	// PresenceAll waits for at least one match and yields all of them.
	PresenceAll
	// VisibleAny waits until at least one match is visible and yields
	// every visible match.
	VisibleAny
)

func (k Kind) String() string {
	switch k {
	case PresenceOne:
		return "presence_one"
	case PresenceAll:
		return "presence_all"
	case VisibleAny:
		return "visible_any"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Condition describes what to wait for and for how long.
type Condition struct {
	Kind    Kind
	Locator browser.Locator
	Timeout time.Duration
	// Message is attached to the Timeout fault.
	Message string
}

// Check inspects the page once. ok reports whether the awaited state
// holds. NotFound and StaleReference faults mean "not yet"; any other
// error stops the wait.
type Check[T any] func(ctx context.Context) (v T, ok bool, err error)

// Until polls check every interval until it reports ok, the timeout
// elapses or ctx is done. The check runs once immediately. On timeout it
// returns a fault.Timeout built from locator and msg; cancellation of ctx
// itself is returned unchanged.
func Until[T any](ctx context.Context, timeout, interval time.Duration, locator, msg string, check Check[T]) (T, error) {
	var zero T
	if interval <= 0 {
		interval = DefaultInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		v, ok, err := check(waitCtx)
		switch {
		case err == nil && ok:
			return v, nil
		case err != nil && fault.IsKind(err, fault.NotFound, fault.StaleReference):
			lastErr = err
		case err != nil && !errors.Is(err, context.DeadlineExceeded):
			return zero, err
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return zero, ctx.Err()
			}
			return zero, &fault.Fault{
				Kind:    fault.Timeout,
				Op:      "wait",
				Locator: locator,
				Message: timeoutMessage(msg, timeout),
				Err:     lastErr,
			}
		case <-ticker.C:
		}
	}
}

func timeoutMessage(msg string, timeout time.Duration) string {
	if msg != "" {
		return msg
	}
	return fmt.Sprintf("condition not met within %s", timeout)
}

// For waits for cond under scope (nil for the document) and returns the
// matching references. PresenceOne yields exactly one reference; the other
// kinds yield the full set observed when the condition first held.
func For(ctx context.Context, drv browser.Driver, scope browser.Ref, cond Condition, interval time.Duration) ([]browser.Ref, error) {
	check := func(ctx context.Context) ([]browser.Ref, bool, error) {
		refs, err := drv.FindAll(ctx, scope, cond.Locator)
		if err != nil || len(refs) == 0 {
			return nil, false, err
		}
		switch cond.Kind {
		case PresenceOne:
			return refs[:1], true, nil
		case PresenceAll:
			return refs, true, nil
		case VisibleAny:
			visible := make([]browser.Ref, 0, len(refs))
			for _, r := range refs {
				ok, err := drv.Visible(ctx, r)
				if err != nil {
					if fault.IsKind(err, fault.StaleReference) {
						continue
					}
					return nil, false, err
				}
				if ok {
					visible = append(visible, r)
				}
			}
			return visible, len(visible) > 0, nil
		default:
			return nil, false, fmt.Errorf("unknown wait kind %v", cond.Kind)
		}
	}
	return Until(ctx, cond.Timeout, interval, cond.Locator.String(), cond.Message, check)
}
