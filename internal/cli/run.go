package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/app"
	"github.com/ibeckermayer/claim4me/internal/auth"
	"github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/notifier"
	"github.com/ibeckermayer/claim4me/internal/observability"
	"github.com/ibeckermayer/claim4me/internal/prompt"
	"github.com/ibeckermayer/claim4me/internal/store"
)

// Runtime is the wired application with the resources it owns.
type Runtime struct {
	App     *app.App
	Store   *store.Store
	Cookies auth.CookieStore
	Cache   *store.Cache
}

// Close releases the database.
func (r *Runtime) Close() error {
	return r.Store.Close()
}

// Open wires the app from the loaded configuration.
func (e *Env) Open() (*Runtime, error) {
	cfg := e.cfg
	logger := observability.GetLogger()

	dbPath, err := cfg.DatabasePath()
	if err != nil {
		return nil, err
	}
	st, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	var cookies auth.CookieStore = st
	if cfg.Store.Cookies == "file" {
		dir, err := auth.DefaultCookieDir()
		if err != nil {
			st.Close()
			return nil, err
		}
		cookies = auth.NewFileStore(dir)
	}

	cache, err := store.DefaultCache()
	if err != nil {
		st.Close()
		return nil, err
	}

	n, err := notifier.NewFromConfig(cfg.Email)
	if err != nil {
		st.Close()
		return nil, err
	}

	var p prompt.Prompter = prompt.Disabled
	if term := prompt.Stdio(); term.Interactive() && cfg.Auth.Interactive {
		p = term
	}

	a := app.New(app.Deps{
		Config: cfg,
		Logger: logger,
		NewDriver: func(ctx context.Context) (browser.Driver, error) {
			return browser.NewChrome(ctx, cfg.Browser, logger.Named("chrome"))
		},
		Cookies:  cookies,
		Runs:     st,
		Cache:    cache,
		Prompt:   p,
		Notifier: n,
	})
	return &Runtime{App: a, Store: st, Cookies: cookies, Cache: cache}, nil
}

func runFlows(ctx context.Context, env *Env, flows ...app.Flow) error {
	rt, err := env.Open()
	if err != nil {
		return err
	}
	defer rt.Close()

	results, err := rt.App.Run(ctx, flows...)
	for _, r := range results {
		fmt.Printf("%-8s %-8s %-14s %s\n", r.Run.Site, r.Run.Flow, r.Outcome, r.Run.Detail)
		for _, l := range r.Lines {
			fmt.Printf("    %s\n", l)
		}
	}
	return err
}

func flowCommand(env *Env, f app.Flow, short string) *cobra.Command {
	return &cobra.Command{
		Use:   f.Name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlows(cmd.Context(), env, f)
		},
	}
}

func newShopeeCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopee",
		Short: "Shopee flows",
	}
	cmd.AddCommand(
		flowCommand(env, app.ShopeeCoin, "Check in for today's coins"),
		flowCommand(env, app.ShopeeCoupons, "Claim the seller vouchers"),
		flowCommand(env, app.ShopeeSales, "List the flash sale"),
	)
	return cmd
}

func newMomoCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "momo",
		Short: "Momo flows",
	}
	cmd.AddCommand(flowCommand(env, app.MomoDaily, "Open the daily task"))
	return cmd
}

func newAllCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Run the daily flows: shopee coin, then momo daily",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlows(cmd.Context(), env, app.DefaultFlows...)
		},
	}
}

func newLogoutCommand(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:       "logout <site>",
		Short:     "Forget the stored cookies of a site",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"shopee", "momo"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Open()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.App.Logout(args[0]); err != nil {
				return err
			}
			observability.GetLogger().Info("Logged out.", zap.String("site", args[0]))
			return nil
		},
	}
}

// ParseFlow resolves "site flow" names such as "shopee coin".
func ParseFlow(site, name string) (app.Flow, error) {
	f := app.Flow{Site: site, Name: name}
	if !slices.Contains(app.Flows, f) {
		return app.Flow{}, fmt.Errorf("unknown flow %q", f)
	}
	return f, nil
}
