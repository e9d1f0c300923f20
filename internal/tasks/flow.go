// Package tasks holds the site flows run after login: the Shopee coin,
// coupon and flash-sale pages and the Momo daily task.
package tasks

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/auth"
	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/config"
	"github.com/ibeckermayer/claim4me/internal/converge"
	"github.com/ibeckermayer/claim4me/internal/element"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/prompt"
)

const (
	scrollPageJS = `function() { window.scrollBy(0, window.innerHeight); }`
	pageHeightJS = `function() { return document.body.scrollHeight; }`
)

// Options configures the flows of one site.
type Options struct {
	Selectors config.Selectors
	Timeout   time.Duration
	Interval  time.Duration
	Loops     config.ConvergenceConfig
	// MaxCoupons caps the coupons claimed per round; 0 means no cap.
	MaxCoupons int
	// Interactive enables the manual-continue checkpoints.
	Interactive bool
	Credentials auth.Credentials
}

// OptionsFor builds Options from configuration for the named site.
func OptionsFor(cfg *config.Config, site string) (Options, error) {
	sc, err := cfg.Site(site)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Selectors:   sc.Selectors,
		Timeout:     cfg.Wait.Timeout.Duration,
		Interval:    cfg.Wait.PollInterval.Duration,
		Loops:       cfg.Convergence,
		MaxCoupons:  sc.MaxCoupons,
		Interactive: cfg.Auth.Interactive,
		Credentials: auth.Credentials{Username: sc.Username, Password: sc.Password},
	}, nil
}

// flow is the plumbing shared by the site flows.
type flow struct {
	sess   *browser.Session
	exec   *fault.Executor
	prompt prompt.Prompter
	logger *zap.Logger
	opts   Options
}

func newFlow(sess *browser.Session, exec *fault.Executor, p prompt.Prompter, logger *zap.Logger, name string, opts Options) flow {
	if p == nil {
		p = prompt.Disabled
	}
	return flow{
		sess:   sess,
		exec:   exec,
		prompt: p,
		logger: logger.Named(name),
		opts:   opts,
	}
}

func (f *flow) locator(name string) (browser.Locator, error) {
	sel, err := f.opts.Selectors.Lookup(name)
	if err != nil {
		return browser.Locator{}, err
	}
	return browser.ParseLocator(sel), nil
}

// handle returns an unresolved document-level handle for a selector name.
func (f *flow) handle(name string, opts ...element.Option) (*element.Handle, error) {
	loc, err := f.locator(name)
	if err != nil {
		return nil, err
	}
	base := []element.Option{
		element.WithTimeout(f.opts.Timeout),
		element.WithInterval(f.opts.Interval),
	}
	return element.New(f.sess, f.exec, loc, append(base, opts...)...), nil
}

// query is the option searching beneath a bound handle.
func (f *flow) query(name string) (element.Option, error) {
	loc, err := f.locator(name)
	if err != nil {
		return nil, err
	}
	return element.WithQuery(loc), nil
}

// required waits for a named element and fails with the timeout fault
// when it never shows.
func (f *flow) required(ctx context.Context, name string, opts ...element.Option) (*element.Handle, error) {
	h, err := f.handle(name, opts...)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx, element.WithTrap(fault.Propagate))
}

// optional waits briefly for a named element and clicks it if it shows.
// Missing selectors and failed clicks are logged only.
func (f *flow) optional(ctx context.Context, name string, timeout time.Duration) bool {
	if !f.opts.Selectors.Has(name) {
		return false
	}
	h, err := f.handle(name, element.WithTimeout(timeout))
	if err != nil {
		return false
	}
	el, err := h.Wait(ctx)
	if err != nil || el == nil {
		f.logger.Debug("Optional element not shown.", zap.String("name", name))
		return false
	}
	if err := el.Click(ctx); err != nil {
		f.logger.Debug("Optional click failed.", zap.String("name", name), zap.Error(err))
		return false
	}
	return true
}

// open navigates to the URL registered under name.
func (f *flow) open(ctx context.Context, name string) error {
	url, err := f.opts.Selectors.Lookup(name)
	if err != nil {
		return err
	}
	f.logger.Info("Opening page.", zap.String("url", url))
	return f.sess.Navigate(ctx, url)
}

// page evaluates a document-level script through the executor.
func (f *flow) page(ctx context.Context, op, js string, out any) error {
	inv := fault.Invocation{Op: op, Policy: fault.Propagate}
	_, err := fault.Do(ctx, f.exec, inv, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, f.sess.Eval(ctx, nil, js, out)
	})
	return err
}

// ask prompts when interactive. ok is false when no answer can be had.
func (f *flow) ask(ctx context.Context, msg string) (string, bool, error) {
	if !f.opts.Interactive {
		return "", false, nil
	}
	ans, err := f.prompt.PromptLine(ctx, msg)
	switch {
	case errors.Is(err, prompt.ErrNotInteractive), errors.Is(err, io.EOF):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return strings.TrimSpace(ans), true, nil
}

// checkpoint pauses for the user to act in the browser.
func (f *flow) checkpoint(ctx context.Context, msg string) error {
	if _, ok, err := f.ask(ctx, msg+" Press <enter> to continue: "); err != nil || !ok {
		if err == nil {
			f.logger.Info("Manual step skipped.", zap.String("step", msg))
		}
		return err
	}
	return nil
}

func loop(c config.LoopConfig) converge.Options {
	return converge.Options{
		Threshold:     c.Threshold,
		MaxIterations: c.MaxIterations,
		Pause:         c.Pause.Duration,
	}
}

// texts reads the text of every handle, skipping those that vanished.
func texts(ctx context.Context, hs []*element.Handle) ([]string, error) {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		t, err := h.Text(ctx)
		if fault.IsKind(err, fault.NotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, strings.TrimSpace(t))
	}
	return out, nil
}

// parseCount converts displayed counts like "1,234" or "1.2K" to int.
func parseCount(s string) int {
	if s == "" {
		return 0
	}

	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", "")

	multiplier := 1.0
	if strings.HasSuffix(strings.ToUpper(s), "K") {
		multiplier = 1000
		s = s[:len(s)-1]
	} else if strings.HasSuffix(strings.ToUpper(s), "M") {
		multiplier = 1000000
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}

	return int(value * multiplier)
}
