// Package browsertest provides an in-memory browser.Driver for tests.
//
// Pages are trees of Node values built by per-URL builder functions.
// Navigating or reloading rebuilds the tree and invalidates every
// reference handed out before, which is how stale references are
// exercised. Nodes match CSS and XPath queries by exact string through
// their Sel list, id and name queries through ID and Name.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/chromedp/cdproto/network"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/fault"
)

// Node is one element of a fake page.
type Node struct {
	Tag  string
	ID   string
	Name string
	Sel  []string

	Text   string
	Value  string
	Hidden bool

	// TextFunc, when set, overrides Text on every read.
	TextFunc func() string
	// OnClick runs after a successful click or pointer click.
	OnClick func(d *Driver, n *Node)
	// Blocked makes Click report an intercepted click.
	Blocked bool
	// PointerFails makes the pointer fallback fail as well.
	PointerFails bool
	// Clicks counts successful clicks of either kind.
	Clicks int

	parent   *Node
	children []*Node
}

// El builds a node matching the given selectors.
func El(tag string, sel ...string) *Node {
	return &Node{Tag: tag, Sel: sel}
}

// Add appends children and returns n.
func (n *Node) Add(children ...*Node) *Node {
	for _, c := range children {
		c.parent = n
		n.children = append(n.children, c)
	}
	return n
}

// Remove detaches n from its parent.
func (n *Node) Remove() {
	if n.parent == nil {
		return
	}
	p := n.parent
	p.children = slices.DeleteFunc(p.children, func(c *Node) bool { return c == n })
	n.parent = nil
}

// Children returns the direct children of n.
func (n *Node) Children() []*Node { return n.children }

func (n *Node) text() string {
	if n.TextFunc != nil {
		return n.TextFunc()
	}
	return n.Text
}

func (n *Node) matches(loc browser.Locator) bool {
	switch loc.By {
	case browser.ByID:
		return n.ID != "" && n.ID == loc.Target
	case browser.ByName:
		return n.Name != "" && n.Name == loc.Target
	default:
		return slices.Contains(n.Sel, loc.Target)
	}
}

func (n *Node) walk(fn func(*Node)) {
	for _, c := range n.children {
		fn(c)
		c.walk(fn)
	}
}

func (n *Node) attachedTo(root *Node) bool {
	for cur := n; cur != nil; cur = cur.parent {
		if cur == root {
			return true
		}
	}
	return false
}

// Ref is the reference type handed out by Driver.
type Ref struct {
	Node *Node
	gen  int
}

func (r Ref) String() string {
	if r.Node.ID != "" {
		return r.Node.Tag + "#" + r.Node.ID
	}
	if len(r.Node.Sel) > 0 {
		return r.Node.Sel[0]
	}
	return r.Node.Tag
}

// Page builds a fresh DOM for a URL. It runs with the driver locked and
// must not call Driver methods.
type Page func(d *Driver) *Node

// EvalFunc answers Eval calls. node is nil for document-level scripts.
type EvalFunc func(d *Driver, node *Node, fn string) (any, error)

// Driver is an in-memory browser.Driver. All fields may be set before use;
// the exported counters are safe to read after the flow under test ends.
type Driver struct {
	Pages map[string]Page
	// Script answers Eval calls; nil makes every script return nothing.
	Script EvalFunc
	// OnFind runs before every FindAll so tests can mutate the DOM over
	// time.
	OnFind func(d *Driver)
	// OnReload runs after the page is rebuilt by Reload.
	OnReload func(d *Driver)

	URL        string
	Root       *Node
	Jar        []*network.Cookie
	CloseCount int
	Finds      int
	Calls      []string

	mu  sync.Mutex
	gen int
}

var _ browser.Driver = (*Driver)(nil)

// New returns a driver with the given pages.
func New(pages map[string]Page) *Driver {
	return &Driver{Pages: pages, Root: El("html")}
}

func (d *Driver) record(format string, args ...any) {
	d.Calls = append(d.Calls, fmt.Sprintf(format, args...))
}

// Called reports how many recorded calls equal call.
func (d *Driver) Called(call string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.Calls {
		if c == call {
			n++
		}
	}
	return n
}

func (d *Driver) load(url string) error {
	page, ok := d.Pages[url]
	d.gen++
	d.URL = url
	if !ok {
		d.Root = El("html")
		return nil
	}
	d.Root = El("html").Add(page(d))
	return nil
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("navigate %s", url)
	return d.load(url)
}

func (d *Driver) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	d.record("reload")
	err := d.load(d.URL)
	hook := d.OnReload
	d.mu.Unlock()
	if hook != nil {
		hook(d)
	}
	return err
}

// Invalidate makes every outstanding reference stale without changing
// the DOM, as a re-render would.
func (d *Driver) Invalidate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
}

func (d *Driver) resolve(ref browser.Ref) (*Node, error) {
	r, ok := ref.(Ref)
	if !ok {
		return nil, fmt.Errorf("foreign reference %v", ref)
	}
	if r.gen != d.gen || !r.Node.attachedTo(d.Root) {
		return nil, fault.New(fault.StaleReference, r.String(), errors.New("node detached"))
	}
	return r.Node, nil
}

func (d *Driver) FindAll(ctx context.Context, scope browser.Ref, loc browser.Locator) ([]browser.Ref, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if hook := d.OnFind; hook != nil {
		hook(d)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Finds++

	root := d.Root
	if scope != nil {
		n, err := d.resolve(scope)
		if err != nil {
			return nil, err
		}
		root = n
	}

	var refs []browser.Ref
	root.walk(func(n *Node) {
		if n.matches(loc) {
			refs = append(refs, Ref{Node: n, gen: d.gen})
		}
	})
	return refs, nil
}

func (d *Driver) Click(ctx context.Context, ref browser.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	n, err := d.resolve(ref)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.record("click %s", ref)
	if n.Blocked {
		d.mu.Unlock()
		return fault.New(fault.InteractionBlocked, ref.String(), errors.New("overlay"))
	}
	n.Clicks++
	hook := n.OnClick
	d.mu.Unlock()
	if hook != nil {
		hook(d, n)
	}
	return nil
}

func (d *Driver) PointerClick(ctx context.Context, ref browser.Ref) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	n, err := d.resolve(ref)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.record("pointer %s", ref)
	if n.PointerFails {
		d.mu.Unlock()
		return fault.New(fault.InteractionBlocked, ref.String(), errors.New("overlay"))
	}
	n.Clicks++
	hook := n.OnClick
	d.mu.Unlock()
	if hook != nil {
		hook(d, n)
	}
	return nil
}

func (d *Driver) SendKeys(ctx context.Context, ref browser.Ref, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(ref)
	if err != nil {
		return err
	}
	d.record("keys %s", ref)
	n.Value += text
	return nil
}

func (d *Driver) Clear(ctx context.Context, ref browser.Ref) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(ref)
	if err != nil {
		return err
	}
	d.record("clear %s", ref)
	n.Value = ""
	return nil
}

func (d *Driver) Text(ctx context.Context, ref browser.Ref) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(ref)
	if err != nil {
		return "", err
	}
	return n.text(), nil
}

func (d *Driver) Visible(ctx context.Context, ref browser.Ref) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.resolve(ref)
	if err != nil {
		return false, err
	}
	return !n.Hidden, nil
}

func (d *Driver) Eval(ctx context.Context, ref browser.Ref, fn string, out any) error {
	var node *Node
	if ref != nil {
		d.mu.Lock()
		n, err := d.resolve(ref)
		d.mu.Unlock()
		if err != nil {
			return err
		}
		node = n
	}
	d.mu.Lock()
	d.record("eval")
	d.mu.Unlock()
	if d.Script == nil {
		return nil
	}
	v, err := d.Script(d, node, fn)
	if err != nil || out == nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (d *Driver) Cookies(ctx context.Context) ([]*network.Cookie, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.Jar), nil
}

func (d *Driver) SetCookies(ctx context.Context, cookies []*network.Cookie) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("set-cookies %d", len(cookies))
	d.Jar = append(d.Jar, cookies...)
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CloseCount++
	return nil
}

// HasCookie reports whether the jar holds a cookie with the given name
// and value.
func (d *Driver) HasCookie(name, value string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.ContainsFunc(d.Jar, func(c *network.Cookie) bool {
		return c.Name == name && c.Value == value
	})
}
