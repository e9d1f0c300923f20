package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/network"
)

// By selects how a query target is interpreted.
type By int

const (
	ByCSS By = iota
	ByXPath
	ByID
	ByName
)

func (b By) String() string {
	switch b {
	case ByCSS:
		return "css"
	case ByXPath:
		return "xpath"
	case ByID:
		return "id"
	case ByName:
		return "name"
	default:
		return fmt.Sprintf("by(%d)", int(b))
	}
}

// Locator is a query strategy plus its target.
type Locator struct {
	By     By
	Target string
}

func (l Locator) String() string {
	return l.By.String() + "=" + l.Target
}

// CSS is shorthand for a CSS selector locator.
func CSS(sel string) Locator { return Locator{By: ByCSS, Target: sel} }

// XPath is shorthand for an XPath locator.
func XPath(expr string) Locator { return Locator{By: ByXPath, Target: expr} }

// Ref is an opaque reference to a resolved element. It may go stale when
// the page re-renders.
type Ref interface {
	fmt.Stringer
}

// Driver is the low-level browser session used by the interaction core.
//
// FindAll searches under scope, or the document when scope is nil, and
// returns an empty slice when nothing matches. Operations on a detached
// Ref return a fault.StaleReference; a click that would land on another
// element returns fault.InteractionBlocked.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	FindAll(ctx context.Context, scope Ref, loc Locator) ([]Ref, error)
	Click(ctx context.Context, ref Ref) error
	PointerClick(ctx context.Context, ref Ref) error
	SendKeys(ctx context.Context, ref Ref, text string) error
	Clear(ctx context.Context, ref Ref) error
	Text(ctx context.Context, ref Ref) (string, error)
	Visible(ctx context.Context, ref Ref) (bool, error)
	// Eval runs a JavaScript function. When ref is non-nil it is bound as
	// `this`. The JSON result is decoded into out, which may be nil.
	Eval(ctx context.Context, ref Ref, fn string, out any) error
	Cookies(ctx context.Context) ([]*network.Cookie, error)
	SetCookies(ctx context.Context, cookies []*network.Cookie) error
	Close() error
}
