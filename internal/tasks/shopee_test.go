package tasks

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/browser/browsertest"
	"github.com/ibeckermayer/claim4me/internal/config"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/prompt"
)

const (
	homeURL   = "https://shop.test/"
	coinURL   = "https://shop.test/coins"
	couponURL = "https://shop.test/coupons"
)

func shopeeSelectors() config.Selectors {
	return config.Selectors{
		"home_url":             homeURL,
		"coin_url":             coinURL,
		"coupon_url":           couponURL,
		"coin_button":          "button.coin",
		"coin_value":           "p.coins",
		"coupon_focus":         "img.focus",
		"coupon":               "div.coupon",
		"coupon_details":       "div.details",
		"coupon_name":          "h1",
		"coupon_terms":         "p",
		"coupon_button":        "button",
		"coupon_status":        "svg text",
		"sale_popup_close":     "div.popup-close",
		"sale_carousel_button": "button.carousel",
		"sale_item":            "div.item",
		"sale_item_name":       "div.name",
		"sale_item_price":      "div.price",
		"sale_item_soldout":    "div.soldout",
	}
}

func testOptions(sel config.Selectors) Options {
	quick := config.LoopConfig{Threshold: 2, MaxIterations: 20, Pause: config.D(time.Millisecond)}
	once := config.LoopConfig{Threshold: 1, MaxIterations: 20, Pause: config.D(time.Millisecond)}
	return Options{
		Selectors: sel,
		Timeout:   50 * time.Millisecond,
		Interval:  2 * time.Millisecond,
		Loops: config.ConvergenceConfig{
			Coin:      quick,
			Coupons:   quick,
			Scroll:    once,
			Countdown: once,
		},
	}
}

// answers replies with each line in turn, then blocks until ctx ends.
func answers(lines ...string) (prompt.Prompter, *int) {
	asked := 0
	return prompt.Func(func(ctx context.Context, msg string) (string, error) {
		asked++
		if len(lines) == 0 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		ans := lines[0]
		lines = lines[1:]
		return ans, nil
	}), &asked
}

func newShopee(drv *browsertest.Driver, p prompt.Prompter, opts Options) *Shopee {
	exec := fault.NewDefault(zap.NewNop(), fault.Options{})
	return NewShopee(browser.NewSession(drv), exec, p, zap.NewNop(), opts)
}

func text(tag, sel, s string) *browsertest.Node {
	return &browsertest.Node{Tag: tag, Sel: []string{sel}, Text: s}
}

type coinPage struct {
	caption string
	values  []string
	reads   int
	button  *browsertest.Node
}

func (c *coinPage) build(d *browsertest.Driver) *browsertest.Node {
	c.button = text("button", "button.coin", c.caption)
	c.button.OnClick = func(_ *browsertest.Driver, n *browsertest.Node) {
		switch c.caption {
		case "登入":
			c.caption = "簽到領取"
		default:
			c.caption = "明天再來"
		}
		n.Text = c.caption
	}
	value := &browsertest.Node{Tag: "p", Sel: []string{"p.coins"}}
	value.TextFunc = func() string {
		v := c.values[min(c.reads, len(c.values)-1)]
		c.reads++
		return v
	}
	return browsertest.El("div", "div.coin-box").Add(c.button, value)
}

func TestClaimCoinWaitsForCounter(t *testing.T) {
	page := &coinPage{caption: "簽到領取", values: []string{"1,200", "1,205"}}
	drv := browsertest.New(map[string]browsertest.Page{coinURL: page.build})

	coin, err := newShopee(drv, nil, testOptions(shopeeSelectors())).ClaimCoin(context.Background())
	require.NoError(t, err)
	assert.True(t, coin.Claimed)
	assert.Equal(t, "明天再來", coin.Status)
	assert.Equal(t, "1,205", coin.Raw)
	assert.Equal(t, 1205, coin.Value)
	assert.Equal(t, 1, page.button.Clicks)
	// baseline, one change, two stable samples
	assert.Equal(t, 4, page.reads)
}

func TestClaimCoinAlreadyClaimed(t *testing.T) {
	page := &coinPage{caption: "明天再來", values: []string{"88"}}
	drv := browsertest.New(map[string]browsertest.Page{coinURL: page.build})

	coin, err := newShopee(drv, nil, testOptions(shopeeSelectors())).ClaimCoin(context.Background())
	require.NoError(t, err)
	assert.False(t, coin.Claimed)
	assert.Equal(t, 88, coin.Value)
	assert.Zero(t, page.button.Clicks)
}

func TestClaimCoinLoginCheckpoint(t *testing.T) {
	page := &coinPage{caption: "登入", values: []string{"5"}}
	drv := browsertest.New(map[string]browsertest.Page{coinURL: page.build})
	p, asked := answers("")
	opts := testOptions(shopeeSelectors())
	opts.Interactive = true

	coin, err := newShopee(drv, p, opts).ClaimCoin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, *asked)
	assert.True(t, coin.Claimed)
	assert.Equal(t, 2, page.button.Clicks)
}

func TestClaimCoinMissingButton(t *testing.T) {
	drv := browsertest.New(map[string]browsertest.Page{
		coinURL: func(*browsertest.Driver) *browsertest.Node { return browsertest.El("body", "body") },
	})

	_, err := newShopee(drv, nil, testOptions(shopeeSelectors())).ClaimCoin(context.Background())
	require.Error(t, err)
	assert.Equal(t, fault.Timeout, fault.KindOf(err))
	assert.Contains(t, err.Error(), "coin button not found")
}

type couponDef struct {
	name    string
	caption string
	blocked bool
}

type couponPage struct {
	coupons []couponDef
	claimed map[string]bool
	buttons map[string]*browsertest.Node
	focus   *browsertest.Node
}

func newCouponPage(defs ...couponDef) *couponPage {
	return &couponPage{coupons: defs, claimed: map[string]bool{}}
}

func (c *couponPage) build(d *browsertest.Driver) *browsertest.Node {
	c.buttons = map[string]*browsertest.Node{}
	c.focus = browsertest.El("img", "img.focus")
	body := browsertest.El("body", "body").Add(c.focus)
	for _, def := range c.coupons {
		details := browsertest.El("div", "div.details").Add(
			text("h1", "h1", def.name),
			text("p", "p", "min $100"),
		)
		coupon := browsertest.El("div", "div.coupon").Add(details)
		body.Add(coupon)
		if c.claimed[def.name] {
			coupon.Add(text("text", "svg text", "已領取"))
			continue
		}
		caption := def.caption
		if caption == "" {
			caption = "領取"
		}
		btn := text("button", "button", caption)
		btn.Blocked = def.blocked
		btn.PointerFails = def.blocked
		btn.OnClick = func(_ *browsertest.Driver, n *browsertest.Node) {
			c.claimed[def.name] = true
			n.Remove()
			coupon.Add(text("text", "svg text", "已領取"))
		}
		c.buttons[def.name] = btn
		coupon.Add(btn)
	}
	return body
}

func TestClaimCouponsSkipsBlockedCoupon(t *testing.T) {
	page := newCouponPage(
		couponDef{name: "a"},
		couponDef{name: "b", blocked: true},
		couponDef{name: "c"},
		couponDef{name: "d", caption: "去逛逛"},
	)
	drv := browsertest.New(map[string]browsertest.Page{couponURL: page.build})

	run, err := newShopee(drv, nil, testOptions(shopeeSelectors())).ClaimCoupons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Claimed)
	assert.Equal(t, 1, run.Rounds)
	require.Len(t, run.Coupons, 4)

	byName := map[string]int{}
	for i, c := range run.Coupons {
		byName[c.Name] = i
	}
	assert.True(t, run.Coupons[byName["a"]].Claimed)
	assert.Equal(t, "已領取", run.Coupons[byName["a"]].Status)
	assert.Equal(t, "min $100", run.Coupons[byName["a"]].Terms)
	assert.False(t, run.Coupons[byName["b"]].Claimed)
	assert.NotEmpty(t, run.Coupons[byName["b"]].Error)
	assert.True(t, run.Coupons[byName["d"]].Skipped)

	assert.Equal(t, 1, page.focus.Clicks)
	assert.Zero(t, page.buttons["d"].Clicks)
	assert.Positive(t, drv.Called("pointer button"))
}

func TestClaimCouponsStopsAtCap(t *testing.T) {
	page := newCouponPage(couponDef{name: "a"}, couponDef{name: "b"}, couponDef{name: "c"})
	drv := browsertest.New(map[string]browsertest.Page{couponURL: page.build})
	opts := testOptions(shopeeSelectors())
	opts.MaxCoupons = 1
	opts.Interactive = true
	p, asked := answers()

	run, err := newShopee(drv, p, opts).ClaimCoupons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Claimed)
	assert.Equal(t, 1, drv.Called("click button"))
	assert.Zero(t, *asked)
	assert.Zero(t, drv.Called("eval"), "cap reached on the first batch")
}

func TestClaimCouponsRefresh(t *testing.T) {
	page := newCouponPage(couponDef{name: "a"}, couponDef{name: "b"}, couponDef{name: "c"})
	drv := browsertest.New(map[string]browsertest.Page{couponURL: page.build})
	opts := testOptions(shopeeSelectors())
	opts.Interactive = true
	p, asked := answers("r", "q")

	run, err := newShopee(drv, p, opts).ClaimCoupons(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, *asked)
	assert.Equal(t, 2, run.Rounds)
	assert.Equal(t, 2, drv.Called("navigate "+couponURL))
	assert.Equal(t, 3, run.Claimed)
	assert.Len(t, run.Coupons, 3)
}

func TestListSalesScrollsUntilStable(t *testing.T) {
	var (
		list     *browsertest.Node
		popup    *browsertest.Node
		carousel *browsertest.Node
	)
	item := func(i int) *browsertest.Node {
		n := browsertest.El("div", "div.item").Add(
			text("div", "div.name", fmt.Sprintf("item %d", i)),
			text("div", "div.price", fmt.Sprintf("$%d", 100+i)),
		)
		if i == 3 {
			n.Add(text("div", "div.soldout", "售完"))
		}
		return n
	}
	drv := browsertest.New(map[string]browsertest.Page{
		homeURL: func(*browsertest.Driver) *browsertest.Node {
			popup = browsertest.El("div", "div.popup-close")
			carousel = browsertest.El("button", "button.carousel")
			list = browsertest.El("div", "div.list").Add(item(1), item(2))
			return browsertest.El("body", "body").Add(popup, carousel, list)
		},
	})
	drv.Script = func(d *browsertest.Driver, _ *browsertest.Node, fn string) (any, error) {
		n := len(list.Children())
		if fn == pageHeightJS {
			return 100 * n, nil
		}
		if n < 6 {
			list.Add(item(n+1), item(n+2))
		}
		return nil, nil
	}

	items, err := newShopee(drv, nil, testOptions(shopeeSelectors())).ListSales(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 6)
	assert.Equal(t, "item 6", items[5].Name)
	assert.Equal(t, "$101", items[0].Price)
	assert.True(t, items[2].SoldOut)
	assert.False(t, items[1].SoldOut)
	assert.Equal(t, 1, popup.Clicks)
	assert.Equal(t, 1, carousel.Clicks)
}

func TestListSalesWithoutItems(t *testing.T) {
	drv := browsertest.New(map[string]browsertest.Page{
		homeURL: func(*browsertest.Driver) *browsertest.Node { return browsertest.El("body", "body") },
	})

	_, err := newShopee(drv, nil, testOptions(shopeeSelectors())).ListSales(context.Background())
	assert.True(t, fault.IsKind(err, fault.Timeout))
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"42", 42},
		{" 1,234 ", 1234},
		{"1.5K", 1500},
		{"2M", 2000000},
		{"n/a", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseCount(tt.in), tt.in)
	}
}
