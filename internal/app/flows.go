package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/auth"
	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/store"
	"github.com/ibeckermayer/claim4me/internal/tasks"
)

// runner carries one flow's session.
type runner struct {
	app    *App
	sess   *browser.Session
	exec   *fault.Executor
	logger *zap.Logger
	res    *Result
}

func (r *runner) run(ctx context.Context, f Flow) error {
	sc, err := r.app.cfg.Site(f.Site)
	if err != nil {
		return err
	}
	opts, err := tasks.OptionsFor(r.app.cfg, f.Site)
	if err != nil {
		return err
	}
	if err := r.login(ctx, f.Site); err != nil {
		return err
	}

	switch f {
	case ShopeeCoin:
		return r.coin(ctx, opts)
	case ShopeeCoupons:
		return r.coupons(ctx, opts)
	case ShopeeSales:
		return r.sales(ctx, opts)
	case MomoDaily:
		return r.daily(ctx, opts, sc.CookieID)
	default:
		return fmt.Errorf("unknown flow %q", f)
	}
}

// login runs the auth machine for sites with a logged-in indicator.
// Others only get their stored cookies and log in inside the flow.
func (r *runner) login(ctx context.Context, site string) error {
	sc, err := r.app.cfg.Site(site)
	if err != nil {
		return err
	}
	if !sc.Selectors.Has("logged_in") {
		return r.preloadCookies(ctx, sc.CookieID)
	}

	opts, err := auth.OptionsFor(r.app.cfg, site)
	if err != nil {
		return err
	}
	m := auth.New(r.sess, r.exec, r.app.cookies, r.app.prompt, r.logger, opts)
	stage, err := m.Run(ctx)
	r.res.Run.AuthStage = stage.String()
	return err
}

func (r *runner) preloadCookies(ctx context.Context, id string) error {
	cookies, err := r.app.cookies.Load(id)
	if errors.Is(err, auth.ErrNoCookies) {
		return nil
	}
	if err != nil {
		r.logger.Warn("Failed to load cookies.", zap.Error(err))
		return nil
	}
	return r.sess.SetCookies(ctx, cookies)
}

func (r *runner) saveCookies(ctx context.Context, id string) {
	cookies, err := r.sess.Cookies(ctx)
	if err == nil {
		err = r.app.cookies.Save(id, cookies)
	}
	if err != nil {
		r.logger.Warn("Failed to save cookies.", zap.Error(err))
	}
}

func cacheOutput[T any](r *runner, name store.OutputName, data T) {
	if r.app.cache == nil {
		return
	}
	path, err := store.SaveOutput(r.app.cache, name, data)
	if err != nil {
		r.logger.Warn("Failed to cache output.", zap.Error(err))
		return
	}
	r.res.Output = path
	r.logger.Debug("Output cached.", zap.String("path", path))
}

func (r *runner) coin(ctx context.Context, opts tasks.Options) error {
	coin, err := tasks.NewShopee(r.sess, r.exec, r.app.prompt, r.logger, opts).ClaimCoin(ctx)
	if err != nil {
		return err
	}
	status := "already claimed"
	if coin.Claimed {
		status = "claimed"
	}
	r.res.Run.Detail = fmt.Sprintf("%d coins, %s", coin.Value, status)
	cacheOutput(r, store.OutputCoin, coin)
	return nil
}

func (r *runner) coupons(ctx context.Context, opts tasks.Options) error {
	run, err := tasks.NewShopee(r.sess, r.exec, r.app.prompt, r.logger, opts).ClaimCoupons(ctx)
	for _, c := range run.Coupons {
		line := c.Name
		switch {
		case c.Claimed:
			line += ": claimed"
		case c.Error != "":
			line += ": " + c.Error
		case c.Status != "":
			line += ": " + c.Status
		}
		r.res.Lines = append(r.res.Lines, line)
	}
	r.res.Run.Detail = fmt.Sprintf("%d claimed of %d seen", run.Claimed, len(run.Coupons))
	cacheOutput(r, store.OutputCoupons, run.Coupons)
	return err
}

func (r *runner) sales(ctx context.Context, opts tasks.Options) error {
	items, err := tasks.NewShopee(r.sess, r.exec, r.app.prompt, r.logger, opts).ListSales(ctx)
	if err != nil {
		return err
	}
	for _, it := range items {
		line := it.Name + "\t" + it.Price
		if it.SoldOut {
			line += "\tsold out"
		}
		r.res.Lines = append(r.res.Lines, line)
	}
	r.res.Run.Detail = fmt.Sprintf("%d items", len(items))
	cacheOutput(r, store.OutputSales, items)
	return nil
}

// daily keeps the session cookies under cookieID once the task page is
// reached, since momo logs in inside the flow.
func (r *runner) daily(ctx context.Context, opts tasks.Options, cookieID string) error {
	list, err := tasks.NewMomo(r.sess, r.exec, r.app.prompt, r.logger, opts).DailyTask(ctx)
	if err != nil {
		return err
	}
	r.saveCookies(ctx, cookieID)

	done := 0
	for _, t := range list {
		r.res.Lines = append(r.res.Lines, t.Title)
		if t.Done {
			done++
		}
	}
	r.res.Run.Detail = fmt.Sprintf("%d tasks, %d done", len(list), done)
	cacheOutput(r, store.OutputTasks, list)
	return nil
}
