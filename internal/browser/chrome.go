package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/config"
	"github.com/ibeckermayer/claim4me/internal/fault"
)

// Chrome drives a single Chrome tab through chromedp.
type Chrome struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *zap.Logger
}

// nodeRef is the Ref handed out by Chrome.
type nodeRef struct {
	node *cdp.Node
}

func (r nodeRef) String() string {
	return fmt.Sprintf("%s#%d", strings.ToLower(r.node.LocalName), r.node.NodeID)
}

// NewChrome launches a browser. parent bounds the lifetime of the whole
// browser process, not of individual operations.
func NewChrome(parent context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Chrome, error) {
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(parent, Options(cfg)...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Warnf),
	)

	// Start the browser now so launch failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Debug("Browser started.", zap.Bool("headless", cfg.Headless),
		zap.Int("width", cfg.Width), zap.Int("height", cfg.Height))

	return &Chrome{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		logger:      logger,
	}, nil
}

// run executes actions on the tab, bounded by both the tab context and the
// caller's ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDL context.CancelFunc
		runCtx, cancelDL = context.WithDeadline(runCtx, dl)
		defer cancelDL()
	}

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	c.logger.Debug("Navigating.", zap.String("url", url))
	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Reload(ctx context.Context) error {
	if err := c.run(ctx, chromedp.Reload()); err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}
	return nil
}

// FindAll queries without waiting. Scoped XPath runs with the scope as
// context node; absolute expressions are made relative to it.
func (c *Chrome) FindAll(ctx context.Context, scope Ref, loc Locator) ([]Ref, error) {
	if loc.By == ByXPath && scope != nil {
		n, err := nodeOf(scope)
		if err != nil {
			return nil, err
		}
		nodes, err := c.xpathUnder(ctx, n, relativeXPath(loc.Target))
		if err != nil {
			return nil, classify(err, loc.String())
		}
		return elementRefs(nodes), nil
	}

	var (
		nodes []*cdp.Node
		sel   string
		opts  = []chromedp.QueryOption{chromedp.AtLeast(0)}
	)

	if loc.By == ByXPath {
		sel = loc.Target
		opts = append(opts, chromedp.BySearch)
	} else {
		css, err := cssFor(loc)
		if err != nil {
			return nil, err
		}
		sel = css
		opts = append(opts, chromedp.ByQueryAll)
		if scope != nil {
			n, err := nodeOf(scope)
			if err != nil {
				return nil, err
			}
			opts = append(opts, chromedp.FromNode(n))
		}
	}

	if err := c.run(ctx, chromedp.Nodes(sel, &nodes, opts...)); err != nil {
		return nil, classify(err, loc.String())
	}
	return elementRefs(nodes), nil
}

func elementRefs(nodes []*cdp.Node) []Ref {
	refs := make([]Ref, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeType != cdp.NodeTypeElement {
			continue
		}
		refs = append(refs, nodeRef{node: n})
	}
	return refs
}

// relativeXPath anchors an absolute expression at the context node, so
// "//p" under a scope means ".//p".
func relativeXPath(expr string) string {
	if strings.HasPrefix(expr, "/") {
		return "." + expr
	}
	return expr
}

const xpathSnapshotJS = `function(expr) {
	const r = document.evaluate(expr, this, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const out = [];
	for (let i = 0; i < r.snapshotLength; i++) out.push(r.snapshotItem(i));
	return out;
}`

// xpathUnder evaluates expr with scope as the context node and returns the
// matched nodes in document order.
func (c *Chrome) xpathUnder(ctx context.Context, scope *cdp.Node, expr string) ([]*cdp.Node, error) {
	var nodes []*cdp.Node
	arg, err := json.Marshal(expr)
	if err != nil {
		return nil, err
	}
	err = c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(scope.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)

		list, exc, err := runtime.CallFunctionOn(xpathSnapshotJS).
			WithObjectID(obj.ObjectID).
			WithArguments([]*runtime.CallArgument{{Value: arg}}).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if list.ObjectID == "" {
			return nil
		}
		defer runtime.ReleaseObject(list.ObjectID).Do(ctx)

		props, _, _, _, err := runtime.GetProperties(list.ObjectID).WithOwnProperties(true).Do(ctx)
		if err != nil {
			return err
		}
		for _, p := range props {
			// Array indexes only; skip length and the like.
			if p.Value == nil || p.Value.ObjectID == "" || p.Value.Subtype != runtime.SubtypeNode {
				continue
			}
			id, err := dom.RequestNode(p.Value.ObjectID).Do(ctx)
			if err != nil {
				return err
			}
			desc, err := dom.DescribeNode().WithNodeID(id).Do(ctx)
			if err != nil {
				return err
			}
			nodes = append(nodes, &cdp.Node{
				NodeID:    id,
				NodeType:  desc.NodeType,
				NodeName:  desc.NodeName,
				LocalName: desc.LocalName,
			})
		}
		return nil
	}))
	return nodes, err
}

// hitTestJS scrolls the element into view and reports whether a click at
// its centre would reach it.
const hitTestJS = `function() {
	this.scrollIntoView({block: 'center', inline: 'center'});
	const r = this.getBoundingClientRect();
	const hit = document.elementFromPoint(r.left + r.width / 2, r.top + r.height / 2);
	return hit !== null && (hit === this || this.contains(hit));
}`

// Click performs a real mouse click, refusing when an overlay covers the
// element.
func (c *Chrome) Click(ctx context.Context, ref Ref) error {
	n, err := nodeOf(ref)
	if err != nil {
		return err
	}
	var reachable bool
	if err := c.callOn(ctx, n, hitTestJS, &reachable); err != nil {
		return classify(err, ref.String())
	}
	if !reachable {
		return fault.New(fault.InteractionBlocked, ref.String(), errors.New("click would land on another element"))
	}
	if err := c.run(ctx, chromedp.MouseClickNode(n)); err != nil {
		return classify(err, ref.String())
	}
	return nil
}

const centerJS = `function() {
	this.scrollIntoView({block: 'center', inline: 'center'});
	const r = this.getBoundingClientRect();
	return {x: r.left + r.width / 2, y: r.top + r.height / 2};
}`

// pointerJS dispatches a full pointer sequence on the element itself, so
// overlays that swallow real mouse events are bypassed.
const pointerJS = `function() {
	const r = this.getBoundingClientRect();
	const opts = {bubbles: true, cancelable: true, view: window,
		clientX: r.left + r.width / 2, clientY: r.top + r.height / 2};
	for (const type of ['pointerover', 'pointerenter', 'mouseover', 'pointerdown', 'mousedown', 'pointerup', 'mouseup']) {
		const Ctor = type.startsWith('pointer') ? PointerEvent : MouseEvent;
		this.dispatchEvent(new Ctor(type, opts));
	}
	this.click();
}`

// PointerClick hovers the element with the mouse and then clicks it with
// synthesized pointer events.
func (c *Chrome) PointerClick(ctx context.Context, ref Ref) error {
	n, err := nodeOf(ref)
	if err != nil {
		return err
	}
	var pt struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	if err := c.callOn(ctx, n, centerJS, &pt); err != nil {
		return classify(err, ref.String())
	}
	err = c.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y).Do(ctx)
		}),
		chromedp.Sleep(150*time.Millisecond),
	)
	if err != nil {
		return classify(err, ref.String())
	}
	if err := c.callOn(ctx, n, pointerJS, nil); err != nil {
		return classify(err, ref.String())
	}
	return nil
}

func (c *Chrome) SendKeys(ctx context.Context, ref Ref, text string) error {
	n, err := nodeOf(ref)
	if err != nil {
		return err
	}
	if err := c.callOn(ctx, n, `function() { this.focus(); }`, nil); err != nil {
		return classify(err, ref.String())
	}
	if err := c.run(ctx, chromedp.KeyEvent(text)); err != nil {
		return classify(err, ref.String())
	}
	return nil
}

func (c *Chrome) Clear(ctx context.Context, ref Ref) error {
	n, err := nodeOf(ref)
	if err != nil {
		return err
	}
	const clearJS = `function() {
		this.value = '';
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}`
	if err := c.callOn(ctx, n, clearJS, nil); err != nil {
		return classify(err, ref.String())
	}
	return nil
}

// Text returns the rendered text of the element, like innerText.
func (c *Chrome) Text(ctx context.Context, ref Ref) (string, error) {
	n, err := nodeOf(ref)
	if err != nil {
		return "", err
	}
	var text string
	if err := c.callOn(ctx, n, `function() { return this.innerText ?? this.textContent ?? ''; }`, &text); err != nil {
		return "", classify(err, ref.String())
	}
	return text, nil
}

func (c *Chrome) Visible(ctx context.Context, ref Ref) (bool, error) {
	n, err := nodeOf(ref)
	if err != nil {
		return false, err
	}
	const visibleJS = `function() {
		const s = window.getComputedStyle(this);
		if (s.visibility === 'hidden' || s.display === 'none') return false;
		const r = this.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	}`
	var visible bool
	if err := c.callOn(ctx, n, visibleJS, &visible); err != nil {
		return false, classify(err, ref.String())
	}
	return visible, nil
}

func (c *Chrome) Eval(ctx context.Context, ref Ref, fn string, out any) error {
	if ref == nil {
		if err := c.run(ctx, chromedp.Evaluate("("+fn+")()", out)); err != nil {
			return fmt.Errorf("failed to evaluate script: %w", err)
		}
		return nil
	}
	n, err := nodeOf(ref)
	if err != nil {
		return err
	}
	if err := c.callOn(ctx, n, fn, out); err != nil {
		return classify(err, ref.String())
	}
	return nil
}

// callOn invokes fn with the node bound as `this` and decodes the JSON
// result into out.
func (c *Chrome) callOn(ctx context.Context, n *cdp.Node, fn string, out any) error {
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(n.NodeID).Do(ctx)
		if err != nil {
			return err
		}
		defer runtime.ReleaseObject(obj.ObjectID).Do(ctx)

		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			WithAwaitPromise(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return exc
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal(res.Value, out)
	}))
}

// Cookies gets all cookies from the browser
func (c *Chrome) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	var cookies []*network.Cookie
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}
	return cookies, nil
}

// SetCookies sets cookies in the browser context
func (c *Chrome) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, ck := range cookies {
			p := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithSecure(ck.Secure).
				WithHTTPOnly(ck.HTTPOnly)
			if ck.SameSite != "" {
				p = p.WithSameSite(ck.SameSite)
			}
			// Session cookies carry a negative expiry.
			if ck.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				p = p.WithExpires(&exp)
			}
			if err := p.Do(ctx); err != nil {
				return fmt.Errorf("cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

// Close shuts the browser down.
func (c *Chrome) Close() error {
	err := chromedp.Cancel(c.ctx)
	c.cancelTab()
	c.cancelAlloc()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	c.logger.Debug("Browser closed.")
	return nil
}

func nodeOf(ref Ref) (*cdp.Node, error) {
	r, ok := ref.(nodeRef)
	if !ok {
		return nil, fmt.Errorf("foreign element reference %v", ref)
	}
	return r.node, nil
}

// staleMarkers are the CDP error texts reported for detached nodes.
var staleMarkers = []string{
	"Could not find node with given id",
	"No node with given id found",
	"Node is detached from document",
	"Cannot find context with specified id",
}

func classify(err error, locator string) error {
	if err == nil {
		return nil
	}
	var f *fault.Fault
	if errors.As(err, &f) {
		return err
	}
	msg := err.Error()
	for _, m := range staleMarkers {
		if strings.Contains(msg, m) {
			return fault.New(fault.StaleReference, locator, err)
		}
	}
	return err
}
