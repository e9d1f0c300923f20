package tasks

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/converge"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/prompt"
	"github.com/ibeckermayer/claim4me/internal/types"
)

// Momo runs the momoshop.com.tw daily task. The task page carries its own
// login form, so Momo logs in inline rather than through auth.Machine.
type Momo struct {
	flow
}

// NewMomo creates the Momo flow.
func NewMomo(sess *browser.Session, exec *fault.Executor, p prompt.Prompter, logger *zap.Logger, opts Options) *Momo {
	return &Momo{flow: newFlow(sess, exec, p, logger, "momo", opts)}
}

// DailyTask walks to the daily task page, logs in when asked and returns
// the task titles. A rejected login is an AuthFailed fault.
func (m *Momo) DailyTask(ctx context.Context) ([]types.Task, error) {
	if err := m.open(ctx, "home_url"); err != nil {
		return nil, err
	}
	for _, name := range []string{"task_link_1", "task_link_2"} {
		link, err := m.required(ctx, name)
		if err != nil {
			return nil, err
		}
		if err := link.Click(ctx); err != nil {
			return nil, err
		}
	}

	if _, err := m.required(ctx, "task_area_1"); err != nil {
		return nil, err
	}
	if err := m.settleCountdown(ctx); err != nil {
		return nil, err
	}

	attempted, err := m.login(ctx)
	if err != nil {
		return nil, err
	}

	area, err := m.required(ctx, "task_area_2")
	if err != nil {
		if attempted && fault.IsKind(err, fault.Timeout) {
			return nil, &fault.Fault{Kind: fault.AuthFailed, Op: "momo_login", Message: "task page did not open after login", Err: err}
		}
		return nil, err
	}

	done := false
	if m.opts.Selectors.Has("task_done") {
		h, err := m.handle("task_done")
		if err != nil {
			return nil, err
		}
		el, err := h.Wait(ctx)
		if err != nil {
			return nil, err
		}
		done = el != nil
	}

	titleQ, err := m.query("task_title")
	if err != nil {
		return nil, err
	}
	titles, err := area.FindAll(ctx, titleQ)
	if err != nil {
		return nil, err
	}
	names, err := texts(ctx, titles)
	if err != nil {
		return nil, err
	}

	tasks := make([]types.Task, 0, len(names))
	for _, n := range names {
		tasks = append(tasks, types.Task{Title: n, Done: done})
	}
	m.logger.Info("Daily task.", zap.Bool("done", done), zap.String("titles", strings.Join(names, " | ")))
	return tasks, nil
}

// settleCountdown waits for the redirect countdown to stop ticking. A
// page without a countdown is already settled.
func (m *Momo) settleCountdown(ctx context.Context) error {
	h, err := m.handle("countdown")
	if err != nil {
		return err
	}
	res, err := converge.Run(ctx, loop(m.opts.Loops.Countdown), nil, func(ctx context.Context) (string, error) {
		t, err := h.Text(ctx)
		if fault.IsKind(err, fault.NotFound) {
			return "", nil
		}
		return strings.TrimSpace(t), err
	})
	if err != nil {
		return err
	}
	m.logger.Debug("Countdown settled.", zap.String("value", res.Value), zap.Int("iterations", res.Iterations))
	return nil
}

// login fills the ajax login form when the page shows one.
func (m *Momo) login(ctx context.Context) (bool, error) {
	h, err := m.handle("ajax_login")
	if err != nil {
		return false, err
	}
	form, err := h.Wait(ctx)
	if err != nil {
		return false, err
	}
	if form == nil {
		m.logger.Info("Already logged in.")
		return false, nil
	}

	creds := m.opts.Credentials
	if creds.Username == "" || creds.Password == "" {
		return false, &fault.Fault{Kind: fault.AuthFailed, Op: "momo_login", Message: "login required but no credentials configured"}
	}
	m.logger.Info("Logging in.", zap.String("user", creds.Username))

	user, err := m.required(ctx, "login_user")
	if err != nil {
		return true, err
	}
	if err := user.Click(ctx); err != nil {
		return true, err
	}
	if err := user.Fill(ctx, creds.Username); err != nil {
		return true, err
	}

	// The real password input is hidden behind a placeholder field.
	if shown, err := m.handle("login_pass_show"); err == nil {
		if el, err := shown.Wait(ctx); err == nil && el != nil {
			if err := el.Click(ctx); err != nil {
				return true, err
			}
		}
	}
	pass, err := m.required(ctx, "login_pass")
	if err != nil {
		return true, err
	}
	if err := pass.Fill(ctx, creds.Password); err != nil {
		return true, err
	}

	submit, err := m.required(ctx, "login_submit")
	if err != nil {
		return true, err
	}
	return true, submit.Click(ctx)
}
