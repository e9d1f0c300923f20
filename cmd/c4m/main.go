// Command c4m is a dev CLI for claim4me maintenance and debugging tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ibeckermayer/claim4me/internal/auth"
	chrome "github.com/ibeckermayer/claim4me/internal/browser"
	"github.com/ibeckermayer/claim4me/internal/cli"
	"github.com/ibeckermayer/claim4me/internal/config"
	"github.com/ibeckermayer/claim4me/internal/observability"
	"github.com/ibeckermayer/claim4me/internal/prompt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer observability.Sync()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	env := cli.NewEnv()
	root := &cobra.Command{
		Use:          "c4m",
		Short:        "claim4me maintenance and debugging tasks",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return env.Load()
		},
	}
	cobra.CheckErr(env.BindFlags(root))
	root.AddCommand(
		botTestCommand(env),
		openCommand(),
		cookiesCommand(env),
		historyCommand(env),
	)
	return root
}

func botTestCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:   "bot-test",
		Short: "Open bot.sannysoft.com to audit the browser fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			logger.Info("Opening bot.sannysoft.com with stealth browser options...")

			cfg := env.Config().Browser
			cfg.Headless = false // so you can see it
			c, err := chrome.NewChrome(cmd.Context(), cfg, logger.Named("chrome"))
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Navigate(cmd.Context(), "https://bot.sannysoft.com"); err != nil {
				return fmt.Errorf("failed to navigate: %w", err)
			}

			// Interrupting is as good as Enter here.
			_, _ = prompt.Stdio().PromptLine(cmd.Context(), "Press Enter to close the browser...")
			logger.Info("Done.")
			return nil
		},
	}
}

func openCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "open <config|cache|cookies>",
		Short:     "Open the config file, cache or cookie directory",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"config", "cache", "cookies"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			var err error

			switch args[0] {
			case "config":
				path, err = config.ConfigPath()
			case "cache":
				path, err = config.CacheDir()
			case "cookies":
				path, err = auth.DefaultCookieDir()
			default:
				return fmt.Errorf("unknown target: %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("failed to get path: %w", err)
			}

			dir := path
			if args[0] == "config" {
				dir = filepath.Dir(path)
			}
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
			if err := browser.OpenFile(path); err != nil {
				return fmt.Errorf("failed to open: %w", err)
			}
			return nil
		},
	}
}

// storedCookies is implemented by both cookie backends.
type storedCookies interface {
	Stored(id string) (*auth.StoredCookies, error)
}

func cookiesCommand(env *cli.Env) *cobra.Command {
	return &cobra.Command{
		Use:       "cookies <site>",
		Short:     "Show the stored cookies of a site",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"shopee", "momo"},
		RunE: func(cmd *cobra.Command, args []string) error {
			site, err := env.Config().Site(args[0])
			if err != nil {
				return err
			}
			rt, err := env.Open()
			if err != nil {
				return err
			}
			defer rt.Close()

			sc, ok := rt.Cookies.(storedCookies)
			if !ok {
				return fmt.Errorf("cookie store cannot list cookies")
			}
			stored, err := sc.Stored(site.CookieID)
			if err != nil {
				return err
			}

			fmt.Printf("captured %s\n", stored.CapturedAt.Format(time.DateTime))
			if stored.ExpiresAt.IsZero() {
				fmt.Println("expires  never")
			} else {
				fmt.Printf("expires  %s (expired: %t)\n", stored.ExpiresAt.Format(time.DateTime), stored.Expired(time.Now()))
			}
			for _, c := range stored.Cookies {
				fmt.Printf("  %-24s %-20s session=%t\n", c.Name, c.Domain, c.Session)
			}
			return nil
		},
	}
}

func historyCommand(env *cli.Env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [site flow]",
		Short: "Show recent runs, or the last completed run of a flow",
		Args:  cobra.MatchAll(cobra.RangeArgs(0, 2), func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return fmt.Errorf("give both site and flow")
			}
			return nil
		}),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := env.Open()
			if err != nil {
				return err
			}
			defer rt.Close()

			if len(args) == 2 {
				f, err := cli.ParseFlow(args[0], args[1])
				if err != nil {
					return err
				}
				last, err := rt.Store.LastCompleted(f.Site, f.Name)
				if err != nil {
					return err
				}
				if last == nil {
					fmt.Printf("%s never completed\n", f)
					return nil
				}
				fmt.Printf("%s last completed %s: %s\n", f, last.StartedAt.Local().Format(time.DateTime), last.Detail)
				return nil
			}

			runs, err := rt.Store.RecentRuns(limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				dry := ""
				if r.DryRun {
					dry = " (dry run)"
				}
				fmt.Printf("%s  %-6s %-8s %-14s %6s  %s%s\n",
					r.StartedAt.Local().Format(time.DateTime), r.Site, r.Flow, r.Outcome,
					r.Duration().Round(time.Second), r.Detail, dry)
			}
			observability.GetLogger().Debug("History listed.", zap.Int("runs", len(runs)))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}
