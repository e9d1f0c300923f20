// Package auth establishes a logged-in browser session by falling back
// from stored cookies to credentials to a one-time SMS code.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/config"
	"github.com/ibeckermayer/claim4me/internal/element"
	"github.com/ibeckermayer/claim4me/internal/fault"
	"github.com/ibeckermayer/claim4me/internal/prompt"
	"github.com/ibeckermayer/claim4me/internal/wait"
)

// Stage is a state of the login machine.
type Stage int

const (
	Init Stage = iota
	CookieAttempt
	CookieFailed
	CredentialAttempt
	CredentialFailed
	SMSRequired
	SMSChallenge
	SMSFailed
	LoggedIn
)

func (s Stage) String() string {
	switch s {
	case Init:
		return "init"
	case CookieAttempt:
		return "cookie_attempt"
	case CookieFailed:
		return "cookie_failed"
	case CredentialAttempt:
		return "credential_attempt"
	case CredentialFailed:
		return "credential_failed"
	case SMSRequired:
		return "sms_required"
	case SMSChallenge:
		return "sms_challenge"
	case SMSFailed:
		return "sms_failed"
	case LoggedIn:
		return "logged_in"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s Stage) Terminal() bool {
	return s == LoggedIn || s == CredentialFailed || s == SMSFailed
}

// Credentials are submitted to the login form.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) empty() bool { return c.Username == "" || c.Password == "" }

// State is the session state owned by a Machine.
type State struct {
	Stage       Stage
	CookieID    string
	Credentials Credentials
}

// Options configures one site's login.
type Options struct {
	CookieID    string
	Credentials Credentials
	// Selectors must define home_url and logged_in. Credential login needs
	// login_url or login_open, login_user, login_pass and login_submit; SMS
	// login needs sms_prompt, sms_input and sms_submit. popup_close and
	// auth_error are optional.
	Selectors config.Selectors
	Timeout   time.Duration
	Interval  time.Duration
	SMSWindow time.Duration
}

// OptionsFor builds Options from configuration for the named site.
func OptionsFor(cfg *config.Config, site string) (Options, error) {
	sc, err := cfg.Site(site)
	if err != nil {
		return Options{}, err
	}
	return Options{
		CookieID:    sc.CookieID,
		Credentials: Credentials{Username: sc.Username, Password: sc.Password},
		Selectors:   sc.Selectors,
		Timeout:     cfg.Wait.Timeout.Duration,
		Interval:    cfg.Wait.PollInterval.Duration,
		SMSWindow:   cfg.Auth.SMSWindow.Duration,
	}, nil
}

// Machine drives one login attempt over a session. It is single use.
type Machine struct {
	sess    *browser.Session
	exec    *fault.Executor
	store   CookieStore
	prompt  prompt.Prompter
	logger  *zap.Logger
	opts    Options
	state   State
	history []Stage
}

// New creates a login machine. A nil prompter disables the SMS stage.
func New(sess *browser.Session, exec *fault.Executor, store CookieStore, p prompt.Prompter, logger *zap.Logger, opts Options) *Machine {
	if p == nil {
		p = prompt.Disabled
	}
	if opts.SMSWindow <= 0 {
		opts.SMSWindow = 60 * time.Second
	}
	return &Machine{
		sess:   sess,
		exec:   exec,
		store:  store,
		prompt: p,
		logger: logger.Named("auth"),
		opts:   opts,
		state: State{
			CookieID:    opts.CookieID,
			Credentials: opts.Credentials,
		},
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// History returns every stage entered, in order.
func (m *Machine) History() []Stage {
	return append([]Stage(nil), m.history...)
}

func (m *Machine) enter(s Stage, fields ...zap.Field) {
	m.state.Stage = s
	m.history = append(m.history, s)
	m.logger.Info("Auth stage.", append([]zap.Field{zap.Stringer("stage", s)}, fields...)...)
}

// Run performs the login. It returns LoggedIn, or a terminal failure stage
// with a fault.AuthFailed error after closing the session. Other errors
// (navigation, cancellation) are returned as-is with the session open.
func (m *Machine) Run(ctx context.Context) (Stage, error) {
	if len(m.history) > 0 {
		return m.state.Stage, errors.New("auth: machine already ran")
	}
	m.enter(Init, zap.String("cookie_id", m.opts.CookieID))

	home, err := m.opts.Selectors.Lookup("home_url")
	if err != nil {
		return m.state.Stage, err
	}
	if err := m.sess.Navigate(ctx, home); err != nil {
		return m.state.Stage, fmt.Errorf("open %s: %w", home, err)
	}
	m.dismissPopup(ctx)

	ok, err := m.tryCookies(ctx)
	if err != nil {
		return m.state.Stage, err
	}
	if ok {
		return m.loggedIn(ctx)
	}

	next, err := m.tryCredentials(ctx)
	if err != nil {
		return m.state.Stage, err
	}
	switch next {
	case LoggedIn:
		return m.loggedIn(ctx)
	case CredentialFailed:
		return m.fail(CredentialFailed, "credentials were not accepted")
	}

	msg, ok, err := m.trySMS(ctx)
	if err != nil {
		return m.state.Stage, err
	}
	if ok {
		return m.loggedIn(ctx)
	}
	return m.fail(SMSFailed, msg)
}

func (m *Machine) handle(name string, opts ...element.Option) (*element.Handle, error) {
	sel, err := m.opts.Selectors.Lookup(name)
	if err != nil {
		return nil, err
	}
	base := []element.Option{
		element.WithTimeout(m.opts.Timeout),
		element.WithInterval(m.opts.Interval),
	}
	return element.New(m.sess, m.exec, browser.ParseLocator(sel), append(base, opts...)...), nil
}

// present waits up to the standard timeout for the named element.
func (m *Machine) present(ctx context.Context, name string) (bool, error) {
	h, err := m.handle(name)
	if err != nil {
		return false, err
	}
	found, err := h.Wait(ctx)
	return found != nil, err
}

func (m *Machine) dismissPopup(ctx context.Context) {
	if !m.opts.Selectors.Has("popup_close") {
		return
	}
	h, err := m.handle("popup_close", element.WithTimeout(min(m.opts.Timeout, 2*time.Second)))
	if err != nil {
		return
	}
	btn, err := h.Wait(ctx)
	if err != nil || btn == nil {
		m.logger.Debug("Pop-up not found.")
		return
	}
	if err := btn.Click(ctx); err != nil {
		m.logger.Debug("Pop-up close failed.", zap.Error(err))
		return
	}
	m.logger.Info("Pop-up closed.")
}

func (m *Machine) tryCookies(ctx context.Context) (bool, error) {
	m.enter(CookieAttempt)
	cookies, err := m.store.Load(m.opts.CookieID)
	switch {
	case errors.Is(err, ErrNoCookies):
		m.enter(CookieFailed, zap.String("reason", "no stored cookies"))
		return false, nil
	case err != nil:
		m.logger.Warn("Failed to load cookies.", zap.Error(err))
		m.enter(CookieFailed, zap.String("reason", "load failed"))
		return false, nil
	}

	if err := m.sess.SetCookies(ctx, cookies); err != nil {
		return false, fmt.Errorf("set cookies: %w", err)
	}
	if err := m.sess.Reload(ctx); err != nil {
		return false, fmt.Errorf("reload: %w", err)
	}
	ok, err := m.present(ctx, "logged_in")
	if err != nil {
		return false, err
	}
	if !ok {
		m.enter(CookieFailed, zap.String("reason", "indicator missing"))
	}
	return ok, nil
}

// tryCredentials submits the login form once and reports LoggedIn,
// SMSRequired or CredentialFailed.
func (m *Machine) tryCredentials(ctx context.Context) (Stage, error) {
	m.enter(CredentialAttempt)
	if m.opts.Credentials.empty() {
		m.logger.Warn("No credentials configured.")
		return CredentialFailed, nil
	}

	if err := m.openLogin(ctx); err != nil {
		if fault.KindOf(err) != 0 {
			m.logger.Error("Login form not showing.", zap.Error(err))
			return CredentialFailed, nil
		}
		return m.state.Stage, err
	}

	steps := []struct {
		name string
		text string
	}{
		{"login_user", m.opts.Credentials.Username},
		{"login_pass", m.opts.Credentials.Password},
	}
	for _, s := range steps {
		h, err := m.handle(s.name)
		if err != nil {
			return m.state.Stage, err
		}
		if err := h.Fill(ctx, s.text); err != nil {
			m.logger.Error("Login form field unusable.", zap.String("field", s.name), zap.Error(err))
			return CredentialFailed, nil
		}
	}
	submit, err := m.handle("login_submit")
	if err != nil {
		return m.state.Stage, err
	}
	if err := submit.Click(ctx); err != nil {
		m.logger.Error("Login submit failed.", zap.Error(err))
		return CredentialFailed, nil
	}
	m.logger.Info("Credentials submitted.")

	return m.afterSubmit(ctx)
}

func (m *Machine) openLogin(ctx context.Context) error {
	if url, err := m.opts.Selectors.Lookup("login_url"); err == nil {
		return m.sess.Navigate(ctx, url)
	}
	h, err := m.handle("login_open")
	if err != nil {
		return err
	}
	btn, err := h.Wait(ctx, element.WithTrap(fault.Propagate))
	if err != nil {
		return err
	}
	return btn.Click(ctx)
}

// afterSubmit waits for either the logged-in indicator or the SMS prompt.
func (m *Machine) afterSubmit(ctx context.Context) (Stage, error) {
	indicator, err := m.handle("logged_in")
	if err != nil {
		return m.state.Stage, err
	}
	var sms *element.Handle
	if m.opts.Selectors.Has("sms_prompt") {
		if sms, err = m.handle("sms_prompt"); err != nil {
			return m.state.Stage, err
		}
	}

	stage, err := wait.Until(ctx, m.opts.Timeout, m.opts.Interval, indicator.String(), "login result", func(ctx context.Context) (Stage, bool, error) {
		if ok, err := indicator.Exists(ctx); err != nil || ok {
			return LoggedIn, ok, err
		}
		if sms == nil {
			return 0, false, nil
		}
		ok, err := sms.Exists(ctx)
		return SMSRequired, ok, err
	})
	switch {
	case err == nil:
		if stage == SMSRequired {
			m.enter(SMSRequired)
		}
		return stage, nil
	case fault.IsKind(err, fault.Timeout):
		return CredentialFailed, nil
	default:
		return m.state.Stage, err
	}
}

// trySMS prompts for the code and submits it. On failure it returns the
// message shown by the site, or "timed out".
func (m *Machine) trySMS(ctx context.Context) (string, bool, error) {
	m.enter(SMSChallenge)

	promptCtx, cancel := context.WithTimeout(ctx, m.opts.SMSWindow)
	code, err := m.prompt.PromptLine(promptCtx, fmt.Sprintf("Please enter the SMS code within %s: ", m.opts.SMSWindow))
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		m.logger.Warn("No SMS code entered.", zap.Error(err))
		return "timed out", false, nil
	}
	code = strings.TrimSpace(code)

	input, err := m.handle("sms_input")
	if err != nil {
		return "", false, err
	}
	if err := input.Fill(ctx, code); err != nil {
		m.logger.Error("SMS input unusable.", zap.Error(err))
		return "sms input unusable", false, nil
	}
	submit, err := m.handle("sms_submit")
	if err != nil {
		return "", false, err
	}
	if err := submit.Click(ctx); err != nil {
		m.logger.Error("SMS submit failed.", zap.Error(err))
		return "sms submit failed", false, nil
	}

	ok, err := m.present(ctx, "logged_in")
	if err != nil || ok {
		return "", ok, err
	}
	return m.authError(ctx), false, nil
}

func (m *Machine) authError(ctx context.Context) string {
	if !m.opts.Selectors.Has("auth_error") {
		return "timed out"
	}
	h, err := m.handle("auth_error")
	if err != nil {
		return "timed out"
	}
	found, err := h.Find(ctx)
	if err != nil || found == nil {
		return "timed out"
	}
	text, err := found.Text(ctx)
	if err != nil || strings.TrimSpace(text) == "" {
		return "timed out"
	}
	return strings.TrimSpace(text)
}

func (m *Machine) loggedIn(ctx context.Context) (Stage, error) {
	m.enter(LoggedIn)
	cookies, err := m.sess.Cookies(ctx)
	if err != nil {
		m.logger.Warn("Failed to read cookies.", zap.Error(err))
		return LoggedIn, nil
	}
	if err := m.store.Save(m.opts.CookieID, cookies); err != nil {
		m.logger.Warn("Failed to save cookies.", zap.String("cookie_id", m.opts.CookieID), zap.Error(err))
		return LoggedIn, nil
	}
	m.logger.Debug("Cookies saved.", zap.Int("count", len(cookies)))
	return LoggedIn, nil
}

// fail enters a terminal stage, closes the session and reports AuthFailed.
func (m *Machine) fail(s Stage, msg string) (Stage, error) {
	m.enter(s, zap.String("reason", msg))
	if err := m.sess.Close(); err != nil {
		m.logger.Warn("Failed to close session.", zap.Error(err))
	}
	return s, &fault.Fault{Kind: fault.AuthFailed, Op: s.String(), Message: msg}
}
