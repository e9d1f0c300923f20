// Package app runs site flows end to end: open a browser, log in, run the
// flow, record the outcome and report.
package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/auth"
	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/config"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/notifier"
	"github.com/ibeckermayer/claim4me/internal/prompt"
	"github.com/ibeckermayer/claim4me/internal/report"
	"github.com/ibeckermayer/claim4me/internal/store"
)

// Outcome is the result class of one flow.
type Outcome int

const (
	Completed Outcome = iota
	ActionFailed
	LoginFailed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return store.OutcomeCompleted
	case ActionFailed:
		return store.OutcomeActionFailed
	case LoginFailed:
		return store.OutcomeLoginFailed
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// outcomeOf classifies a flow error.
func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Completed
	case fault.IsKind(err, fault.AuthFailed):
		return LoginFailed
	default:
		return ActionFailed
	}
}

// Flow names one site flow.
type Flow struct {
	Site string
	Name string
}

func (f Flow) String() string { return f.Site + " " + f.Name }

var (
	ShopeeCoin    = Flow{Site: "shopee", Name: "coin"}
	ShopeeCoupons = Flow{Site: "shopee", Name: "coupons"}
	ShopeeSales   = Flow{Site: "shopee", Name: "sales"}
	MomoDaily     = Flow{Site: "momo", Name: "daily"}
)

// Flows lists every known flow.
var Flows = []Flow{ShopeeCoin, ShopeeCoupons, ShopeeSales, MomoDaily}

// DefaultFlows run when no flow is named.
var DefaultFlows = []Flow{ShopeeCoin, MomoDaily}

// Result describes one finished flow.
type Result struct {
	Run     store.Run
	Outcome Outcome
	Err     error
	// Lines are human-readable flow details for the report.
	Lines []string
	// Output is the cached flow output file, if any.
	Output string
}

// DriverFactory opens a fresh browser for one flow.
type DriverFactory func(ctx context.Context) (browser.Driver, error)

// RunStore records finished runs.
type RunStore interface {
	SaveRun(r *store.Run) error
}

// Deps are the collaborators of an App. Runs, Cache and Notifier are
// optional.
type Deps struct {
	Config    *config.Config
	Logger    *zap.Logger
	NewDriver DriverFactory
	Cookies   auth.CookieStore
	Runs      RunStore
	Cache     *store.Cache
	Prompt    prompt.Prompter
	Notifier  *notifier.Notifier
}

// App holds the application state.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	newDriver DriverFactory
	cookies   auth.CookieStore
	runs      RunStore
	cache     *store.Cache
	prompt    prompt.Prompter
	notifier  *notifier.Notifier
	now       func() time.Time
}

// New creates a new App instance.
func New(d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	p := d.Prompt
	if p == nil {
		p = prompt.Disabled
	}
	return &App{
		cfg:       d.Config,
		logger:    logger.Named("app"),
		newDriver: d.NewDriver,
		cookies:   d.Cookies,
		runs:      d.Runs,
		cache:     d.Cache,
		prompt:    p,
		notifier:  d.Notifier,
		now:       time.Now,
	}
}

// Run executes flows one after another, each in its own browser, and
// sends the report when email is configured. The returned error is the
// first failure, if any; every flow runs regardless.
func (a *App) Run(ctx context.Context, flows ...Flow) ([]Result, error) {
	if len(flows) == 0 {
		flows = DefaultFlows
	}
	batch := uuid.NewString()
	a.logger.Info("Run started.", zap.String("run_id", batch), zap.Stringers("flows", flows))

	var (
		results []Result
		first   error
	)
	for _, f := range flows {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		r := a.RunFlow(ctx, f)
		results = append(results, r)
		if r.Err != nil && first == nil {
			first = fmt.Errorf("%s: %w", f, r.Err)
		}
	}

	if err := a.report(batch, results); err != nil {
		a.logger.Warn("Report not sent.", zap.Error(err))
	}
	return results, first
}

// RunFlow executes a single flow. It never panics: a panic inside the
// flow is recorded as ActionFailed after the browser is closed.
func (a *App) RunFlow(ctx context.Context, f Flow) (res Result) {
	res.Run = store.Run{
		ID:        uuid.NewString(),
		Site:      f.Site,
		Flow:      f.Name,
		DryRun:    a.cfg.Debug.DryRun,
		StartedAt: a.now(),
	}
	logger := a.logger.With(zap.String("flow", f.String()), zap.String("id", res.Run.ID))
	logger.Info("Flow started.")

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Flow panicked.", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			res.Err = fmt.Errorf("panic: %v", p)
		}
		res.Outcome = outcomeOf(res.Err)
		res.Run.Outcome = res.Outcome.String()
		if res.Err != nil && res.Run.Detail == "" {
			res.Run.Detail = res.Err.Error()
		}
		res.Run.FinishedAt = a.now()
		a.record(logger, &res)
	}()

	drv, err := a.newDriver(ctx)
	if err != nil {
		res.Err = fmt.Errorf("open browser: %w", err)
		return res
	}
	sess := browser.NewSession(drv)
	defer sess.Close()

	exec := fault.NewDefault(logger.Named("exec"), fault.Options{
		Trace:  a.cfg.Debug.Trace,
		DryRun: a.cfg.Debug.DryRun,
	})
	r := &runner{app: a, sess: sess, exec: exec, logger: logger, res: &res}
	res.Err = r.run(ctx, f)
	return res
}

func (a *App) record(logger *zap.Logger, res *Result) {
	fields := []zap.Field{
		zap.Stringer("outcome", res.Outcome),
		zap.String("detail", res.Run.Detail),
		zap.Duration("took", res.Run.Duration()),
	}
	if res.Run.AuthStage != "" {
		fields = append(fields, zap.String("auth_stage", res.Run.AuthStage))
	}
	if res.Outcome == Completed {
		logger.Info("Flow finished.", fields...)
	} else {
		logger.Error("Flow failed.", fields...)
	}

	if a.runs == nil {
		return
	}
	if err := a.runs.SaveRun(&res.Run); err != nil {
		logger.Warn("Failed to save run record.", zap.Error(err))
	}
}

func (a *App) report(batch string, results []Result) error {
	if a.notifier == nil || len(results) == 0 {
		return nil
	}
	b, err := report.New(20)
	if err != nil {
		return err
	}
	entries := make([]report.Entry, len(results))
	for i, r := range results {
		entries[i] = report.Entry{
			Site:      r.Run.Site,
			Flow:      r.Run.Flow,
			Outcome:   r.Run.Outcome,
			Detail:    r.Run.Detail,
			AuthStage: r.Run.AuthStage,
			DryRun:    r.Run.DryRun,
			Duration:  r.Run.Duration(),
			Lines:     r.Lines,
		}
	}
	rep, err := b.Build(batch, entries)
	if err != nil {
		return err
	}
	if a.cache != nil {
		if path, err := a.cache.SaveText(store.OutputReport, rep.HTMLBody, ".html"); err == nil {
			a.logger.Debug("Report cached.", zap.String("path", path))
		}
	}
	if err := a.notifier.SendReport(rep); err != nil {
		return err
	}
	a.logger.Info("Report sent.", zap.String("subject", rep.Subject))
	return nil
}

// Logout forgets the stored cookies of a site.
func (a *App) Logout(site string) error {
	sc, err := a.cfg.Site(site)
	if err != nil {
		return err
	}
	if err := a.cookies.Delete(sc.CookieID); err != nil && !errors.Is(err, auth.ErrNoCookies) {
		return err
	}
	a.logger.Info("Cookies cleared.", zap.String("site", site))
	return nil
}
