package tasks

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/converge"
	"github.com/ibeckermayer/claim4me/internal/element"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/prompt"
	"github.com/ibeckermayer/claim4me/internal/types"
)

var errCapReached = errors.New("coupon cap reached")

// Shopee runs the shopee.tw flows on a logged-in session.
type Shopee struct {
	flow
	now func() time.Time
}

// NewShopee creates the Shopee flows.
func NewShopee(sess *browser.Session, exec *fault.Executor, p prompt.Prompter, logger *zap.Logger, opts Options) *Shopee {
	return &Shopee{flow: newFlow(sess, exec, p, logger, "shopee", opts), now: time.Now}
}

func (s *Shopee) caption(name, def string) string {
	if v := s.opts.Selectors[name]; v != "" {
		return v
	}
	return def
}

// ClaimCoin checks in for today's coins and reads the balance once the
// animated counter has settled.
func (s *Shopee) ClaimCoin(ctx context.Context) (types.Coin, error) {
	var coin types.Coin
	if err := s.open(ctx, "coin_url"); err != nil {
		return coin, err
	}

	buttonH, err := s.handle("coin_button", element.WithMessage("coin button not found"))
	if err != nil {
		return coin, err
	}
	button, text, err := s.coinButton(ctx, buttonH)
	if err != nil {
		return coin, err
	}

	if strings.Contains(text, s.caption("text_login", "登入")) {
		if err := button.Click(ctx); err != nil {
			return coin, err
		}
		if err := s.checkpoint(ctx, "Please log in to the coin page."); err != nil {
			return coin, err
		}
		if button, text, err = s.coinButton(ctx, buttonH); err != nil {
			return coin, err
		}
	}
	if strings.Contains(text, s.caption("text_check_in", "簽到")) {
		s.logger.Info("Claiming coin for today.", zap.String("button", text))
		if err := button.Click(ctx); err != nil {
			return coin, err
		}
		coin.Claimed = true
		if _, text, err = s.coinButton(ctx, buttonH); err != nil {
			return coin, err
		}
	}
	coin.Status = text

	valueLoc, err := s.locator("coin_value")
	if err != nil {
		return coin, err
	}
	value := buttonH.Spawn(element.WithQuery(valueLoc))
	res, err := converge.Run(ctx, loop(s.opts.Loops.Coin), nil, func(ctx context.Context) (string, error) {
		t, err := value.Text(ctx)
		return strings.TrimSpace(t), err
	})
	if err != nil {
		return coin, err
	}
	if !res.Converged {
		s.logger.Warn("Coin counter still changing.", zap.Int("iterations", res.Iterations))
	}

	coin.Raw = res.Value
	coin.Value = parseCount(res.Value)
	coin.ReadAt = s.now()
	s.logger.Info("Coin balance.",
		zap.Int("coins", coin.Value),
		zap.String("status", coin.Status),
		zap.Bool("claimed", coin.Claimed))
	return coin, nil
}

func (s *Shopee) coinButton(ctx context.Context, h *element.Handle) (*element.Handle, string, error) {
	button, err := h.Wait(ctx, element.WithTrap(fault.Propagate))
	if err != nil {
		return nil, "", err
	}
	text, err := button.Text(ctx)
	if err != nil {
		return nil, "", err
	}
	return button, strings.TrimSpace(text), nil
}

// CouponRun summarizes a coupon claiming session.
type CouponRun struct {
	Coupons []types.Coupon
	Claimed int
	Rounds  int
}

// couponBook merges the coupons seen across batches.
type couponBook struct {
	index   map[string]int
	coupons []types.Coupon
	claimed int
}

func (b *couponBook) key(c types.Coupon) string { return c.Name + "\x00" + c.Terms }

func (b *couponBook) claimedAlready(c types.Coupon) bool {
	i, ok := b.index[b.key(c)]
	return ok && b.coupons[i].Claimed
}

func (b *couponBook) record(c types.Coupon) {
	if c.Claimed && !b.claimedAlready(c) {
		b.claimed++
	}
	k := b.key(c)
	if i, ok := b.index[k]; ok {
		if b.coupons[i].Claimed {
			c.Claimed = true
		}
		b.coupons[i] = c
		return
	}
	b.index[k] = len(b.coupons)
	b.coupons = append(b.coupons, c)
}

// ClaimCoupons claims the vouchers on the coupon page. Each round scrolls
// and claims in batches until the number of coupons handled per batch
// stops changing or MaxCoupons are claimed. In interactive mode the user
// may run more rounds, refreshing the page first with "r".
func (s *Shopee) ClaimCoupons(ctx context.Context) (CouponRun, error) {
	book := &couponBook{index: map[string]int{}}
	var run CouponRun
	if err := s.openCoupons(ctx); err != nil {
		return run, err
	}

	for {
		run.Rounds++
		if err := s.couponRound(ctx, book); err != nil {
			return s.couponResult(book, run), err
		}
		if s.opts.MaxCoupons > 0 && book.claimed >= s.opts.MaxCoupons {
			break
		}
		ans, ok, err := s.ask(ctx, `Press <enter> to claim again, "r" to refresh, "q" to finish: `)
		if err != nil {
			return s.couponResult(book, run), err
		}
		if !ok || (ans != "" && ans != "r") {
			break
		}
		if ans == "r" {
			if err := s.openCoupons(ctx); err != nil {
				return s.couponResult(book, run), err
			}
		}
	}
	return s.couponResult(book, run), nil
}

func (s *Shopee) couponResult(book *couponBook, run CouponRun) CouponRun {
	run.Coupons = book.coupons
	run.Claimed = book.claimed
	return run
}

func (s *Shopee) openCoupons(ctx context.Context) error {
	if err := s.open(ctx, "coupon_url"); err != nil {
		return err
	}
	// Keyboard scrolling needs focus inside the page.
	s.optional(ctx, "coupon_focus", s.opts.Timeout)
	return nil
}

func (s *Shopee) couponRound(ctx context.Context, book *couponBook) error {
	scroll := func(ctx context.Context, _ int) error {
		return s.page(ctx, "scroll", scrollPageJS, nil)
	}
	batch := func(ctx context.Context) (int, error) {
		n, err := s.claimBatch(ctx, book)
		if err == nil && s.opts.MaxCoupons > 0 && book.claimed >= s.opts.MaxCoupons {
			err = errCapReached
		}
		return n, err
	}

	res, err := converge.Run(ctx, loop(s.opts.Loops.Coupons), scroll, batch)
	if errors.Is(err, errCapReached) {
		s.logger.Info("Coupon cap reached.", zap.Int("claimed", book.claimed))
		return nil
	}
	if err != nil {
		return err
	}
	s.logger.Info("Coupon round done.",
		zap.Int("handled", res.Value),
		zap.Int("claimed", book.claimed),
		zap.Int("batches", res.Iterations+1),
		zap.Bool("converged", res.Converged))
	return nil
}

// claimBatch handles every coupon currently on the page and returns how
// many were handled without error.
func (s *Shopee) claimBatch(ctx context.Context, book *couponBook) (int, error) {
	h, err := s.handle("coupon")
	if err != nil {
		return 0, err
	}
	coupons, err := h.WaitAll(ctx)
	if err != nil {
		return 0, err
	}

	good := 0
	for _, c := range coupons {
		coupon, err := s.claimOne(ctx, c, book)
		if err != nil {
			if ctx.Err() != nil {
				return good, ctx.Err()
			}
			s.logger.Warn("Coupon failed, continuing.", zap.String("coupon", c.String()), zap.Error(err))
			continue
		}
		good++
		if coupon.Name != "" {
			book.record(coupon)
		}
	}
	return good, nil
}

func (s *Shopee) claimOne(ctx context.Context, c *element.Handle, book *couponBook) (types.Coupon, error) {
	var coupon types.Coupon

	detailsQ, err := s.query("coupon_details")
	if err != nil {
		return coupon, err
	}
	details, err := c.Find(ctx, detailsQ)
	if err != nil || details == nil {
		coupon.Skipped = true
		return coupon, err
	}

	nameQ, err := s.query("coupon_name")
	if err != nil {
		return coupon, err
	}
	name, err := details.Find(ctx, nameQ)
	if err != nil || name == nil {
		coupon.Skipped = true
		return coupon, err
	}
	if coupon.Name, err = name.Text(ctx); err != nil {
		return coupon, err
	}
	coupon.Name = strings.TrimSpace(coupon.Name)

	termsQ, err := s.query("coupon_terms")
	if err != nil {
		return coupon, err
	}
	terms, err := details.FindAll(ctx, termsQ)
	if err != nil {
		return coupon, err
	}
	parts, err := texts(ctx, terms)
	if err != nil {
		return coupon, err
	}
	coupon.Terms = strings.Join(parts, " ")

	buttonQ, err := s.query("coupon_button")
	if err != nil {
		return coupon, err
	}
	button, err := c.Find(ctx, buttonQ)
	if err != nil {
		return coupon, err
	}
	if button == nil {
		return s.couponStatus(ctx, c, coupon)
	}

	if coupon.Status, err = button.Text(ctx); err != nil {
		return coupon, err
	}
	coupon.Status = strings.TrimSpace(coupon.Status)
	fields := []zap.Field{zap.String("name", coupon.Name), zap.String("terms", coupon.Terms), zap.String("button", coupon.Status)}

	switch {
	case strings.Contains(coupon.Status, s.caption("text_browse", "去逛逛")):
		coupon.Skipped = true
		s.logger.Debug("Coupon needs shopping, skipped.", fields...)
		return coupon, nil
	case book.claimedAlready(coupon):
		coupon.Claimed = true
		return coupon, nil
	case s.opts.MaxCoupons > 0 && book.claimed >= s.opts.MaxCoupons:
		coupon.Skipped = true
		return coupon, nil
	}

	if err := button.Click(ctx); err != nil {
		if !fault.IsKind(err, fault.InteractionBlocked, fault.StaleReference, fault.NotFound) {
			return coupon, err
		}
		coupon.Error = err.Error()
		s.logger.Warn("Coupon click failed, skipping.", append(fields, zap.Error(err))...)
		return coupon, nil
	}
	coupon.Claimed = true
	s.logger.Info("Coupon claimed.", fields...)
	return coupon, nil
}

// couponStatus reads the status badge shown instead of a claim button.
func (s *Shopee) couponStatus(ctx context.Context, c *element.Handle, coupon types.Coupon) (types.Coupon, error) {
	statusQ, err := s.query("coupon_status")
	if err != nil {
		return coupon, err
	}
	status, err := c.Find(ctx, statusQ)
	if err != nil {
		return coupon, err
	}
	if status == nil {
		coupon.Skipped = true
		s.logger.Debug("Unknown coupon layout, skipped.", zap.String("name", coupon.Name))
		return coupon, nil
	}
	text, err := status.Text(ctx)
	if err != nil {
		return coupon, err
	}
	coupon.Status = strings.TrimSpace(text)
	s.logger.Info("Coupon status.", zap.String("name", coupon.Name), zap.String("status", coupon.Status))
	return coupon, nil
}

type scrollSample struct {
	Items  int
	Height int
}

// ListSales opens the flash sale and scrolls until the page stops
// growing, then reads every item.
func (s *Shopee) ListSales(ctx context.Context) ([]types.SaleItem, error) {
	if err := s.open(ctx, "home_url"); err != nil {
		return nil, err
	}
	if s.optional(ctx, "sale_popup_close", min(s.opts.Timeout, 2*time.Second)) {
		s.logger.Info("Pop-up closed.")
	}
	s.optional(ctx, "sale_carousel_button", min(s.opts.Timeout, time.Second))

	first, err := s.required(ctx, "sale_item", element.WithMessage("no flash sale items"))
	if err != nil {
		return nil, err
	}
	itemsH := first.Spawn()

	var items []*element.Handle
	scroll := func(ctx context.Context, _ int) error {
		if len(items) == 0 {
			return s.page(ctx, "scroll", scrollPageJS, nil)
		}
		return items[len(items)-1].ScrollIntoView(ctx)
	}
	sample := func(ctx context.Context) (scrollSample, error) {
		var err error
		if items, err = itemsH.FindAll(ctx); err != nil {
			return scrollSample{}, err
		}
		var height int
		if err := s.page(ctx, "page_height", pageHeightJS, &height); err != nil {
			return scrollSample{}, err
		}
		s.logger.Debug("Scrolled.", zap.Int("items", len(items)), zap.Int("height", height))
		return scrollSample{Items: len(items), Height: height}, nil
	}
	if _, err := converge.Run(ctx, loop(s.opts.Loops.Scroll), scroll, sample); err != nil {
		return nil, err
	}

	out := make([]types.SaleItem, 0, len(items))
	for _, it := range items {
		item, err := s.saleItem(ctx, it)
		if err != nil {
			return out, err
		}
		out = append(out, item)
		s.logger.Info("Sale item.",
			zap.String("name", item.Name),
			zap.String("price", item.Price),
			zap.Bool("sold_out", item.SoldOut))
	}
	s.logger.Info("Flash sale listed.", zap.Int("items", len(out)))
	return out, nil
}

func (s *Shopee) saleItem(ctx context.Context, it *element.Handle) (types.SaleItem, error) {
	var item types.SaleItem
	read := func(name string) (string, bool, error) {
		q, err := s.query(name)
		if err != nil {
			return "", false, err
		}
		el, err := it.Find(ctx, q)
		if err != nil || el == nil {
			return "", false, err
		}
		t, err := el.Text(ctx)
		return strings.TrimSpace(t), err == nil, err
	}

	var err error
	if item.Name, _, err = read("sale_item_name"); err != nil {
		return item, err
	}
	if item.Price, _, err = read("sale_item_price"); err != nil {
		return item, err
	}
	if _, item.SoldOut, err = read("sale_item_soldout"); err != nil {
		return item, err
	}
	return item, nil
}
